package workflow

import (
	"context"

	"casiel/internal/contentapi"
	"casiel/internal/creative"
)

// Status values written to content_data.casiel_status.
const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// Job identifies the content record and source media to process.
type Job struct {
	ContentID int64 `json:"content_id"`
	MediaID   int64 `json:"media_id"`
}

// Outcome classifies a successful run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result summarizes a successful run.
type Result struct {
	Outcome      Outcome
	DuplicateOf  int64
	LightMediaID int64
	Slug         string
	AudioHash    string
}

// ContentService is the subset of the content API the pipeline uses.
type ContentService interface {
	GetContent(ctx context.Context, id int64) (*contentapi.Content, error)
	GetMedia(ctx context.Context, id int64) (*contentapi.Media, error)
	DownloadFile(ctx context.Context, relPath, dest string) error
	FindContentByHash(ctx context.Context, hash string, selfID int64) (*contentapi.Content, error)
	UpdateContent(ctx context.Context, id int64, payload map[string]any) error
	UploadMedia(ctx context.Context, path string) (*contentapi.Media, error)
}

// LocalAnalyzer runs the local audio tools.
type LocalAnalyzer interface {
	Hash(ctx context.Context, path string) (string, error)
	Analyze(ctx context.Context, path string) (map[string]any, error)
	Transcode(ctx context.Context, in, out string) error
}

// CreativeAnalyzer produces the AI description of a sample.
type CreativeAnalyzer interface {
	Analyze(ctx context.Context, audioPath string, hints creative.Context) (*creative.Metadata, error)
}

// Dependencies are the collaborators of the pipeline.
type Dependencies struct {
	Content  ContentService
	Local    LocalAnalyzer
	Creative CreativeAnalyzer
}

// Options tune pipeline policy.
type Options struct {
	// BestEffortHash skips duplicate detection instead of failing when the
	// hash cannot be computed.
	BestEffortHash bool
	// SlugSuffix overrides the random slug suffix generator.
	SlugSuffix func() string
}
