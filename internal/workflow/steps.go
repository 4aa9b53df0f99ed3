package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"casiel/internal/creative"
	"casiel/internal/logging"
	"casiel/internal/services"
)

const defaultOriginalName = "audio.tmp"

func (o *Orchestrator) fetchContent(ctx context.Context, s *jobState) error {
	content, err := o.deps.Content.GetContent(ctx, s.job.ContentID)
	if err != nil {
		return err
	}
	if content.ContentData == nil {
		content.ContentData = map[string]any{}
	}
	s.content = content
	return nil
}

func (o *Orchestrator) fetchMedia(ctx context.Context, s *jobState) error {
	media, err := o.deps.Content.GetMedia(ctx, s.job.MediaID)
	if err != nil {
		return err
	}
	s.media = media
	s.originalName = strings.TrimSpace(media.Metadata.OriginalName)
	if s.originalName == "" {
		s.originalName = defaultOriginalName
	}
	return nil
}

func (o *Orchestrator) download(ctx context.Context, s *jobState) error {
	if strings.TrimSpace(s.media.Path) == "" {
		return services.Wrap(services.ErrValidation, "", "", "media record has no path", nil)
	}
	dest := s.tracker.OriginalPath(s.media.ID, s.originalName)
	if err := o.deps.Content.DownloadFile(ctx, s.media.Path, dest); err != nil {
		return err
	}
	s.originalPath = dest
	s.logger.Debug("original downloaded", logging.String("path", dest))
	return nil
}

func (o *Orchestrator) hash(ctx context.Context, s *jobState) error {
	hash, err := o.deps.Local.Hash(ctx, s.originalPath)
	if err == nil {
		s.audioHash = hash
		s.result.AudioHash = hash
		return nil
	}
	if !o.opts.BestEffortHash {
		return err
	}
	logging.WarnWithContext(s.logger, "audio hash failed; duplicate detection skipped", "dedup_skipped",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check audio.py and its python dependencies"),
		logging.String(logging.FieldImpact, "a duplicate sample may be processed again"),
	)
	return nil
}

func (o *Orchestrator) dedup(ctx context.Context, s *jobState) error {
	if s.audioHash == "" {
		return nil
	}
	match, err := o.deps.Content.FindContentByHash(ctx, s.audioHash, s.job.ContentID)
	if err != nil {
		return err
	}
	if match == nil || match.ID == s.job.ContentID {
		return nil
	}

	data := mergeUnder(s.content.ContentData, match.ContentData)
	data["casiel_status"] = StatusDuplicate
	data["duplicate_of_content_id"] = match.ID
	data["original_media_id"] = s.media.ID
	data["original_filename"] = s.originalName
	data["audio_hash"] = s.audioHash
	if err := o.deps.Content.UpdateContent(ctx, s.job.ContentID, map[string]any{"content_data": data}); err != nil {
		return err
	}
	s.logger.Info("duplicate audio detected",
		logging.Int64("duplicate_of_content_id", match.ID),
		logging.String("audio_hash", s.audioHash),
		logging.String(logging.FieldEventType, "duplicate_detected"),
	)
	s.result.Outcome = OutcomeDuplicate
	s.result.DuplicateOf = match.ID
	return errStop
}

func (o *Orchestrator) technicalAnalysis(ctx context.Context, s *jobState) error {
	technical, err := o.deps.Local.Analyze(ctx, s.originalPath)
	if err != nil {
		return err
	}
	s.technical = technical
	return nil
}

func (o *Orchestrator) creativeAnalysis(ctx context.Context, s *jobState) error {
	meta, err := o.deps.Creative.Analyze(ctx, s.originalPath, creative.Context{
		Title:     strings.TrimSuffix(s.originalName, filepath.Ext(s.originalName)),
		Technical: s.technical,
		Existing:  s.content.ContentData,
	})
	if err != nil {
		return err
	}
	if meta == nil {
		return errors.New("creative analysis returned no metadata")
	}
	s.creative = meta
	return nil
}

func (o *Orchestrator) transcode(ctx context.Context, s *jobState) error {
	base := foldName(s.creative.BaseName)
	if base == "" {
		base = strconv.FormatInt(s.job.ContentID, 10) + "_light"
	}
	out := s.tracker.LightweightPath(base)
	if err := o.deps.Local.Transcode(ctx, s.originalPath, out); err != nil {
		return err
	}
	s.lightPath = out
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, s *jobState) error {
	media, err := o.deps.Content.UploadMedia(ctx, s.lightPath)
	if err != nil {
		return err
	}
	if media == nil || media.ID == 0 {
		return services.Wrap(services.ErrValidation, "", "", "upload response has no media id", nil)
	}
	s.lightMedia = media
	s.result.LightMediaID = media.ID
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, s *jobState) error {
	generated := make(map[string]any, len(s.technical)+16)
	for key, value := range s.technical {
		generated[key] = value
	}
	for key, value := range s.creative.ToMap() {
		generated[key] = value
	}
	generated["casiel_status"] = StatusSuccess
	generated["original_media_id"] = s.media.ID
	generated["light_media_id"] = s.lightMedia.ID
	generated["original_filename"] = s.originalName
	if s.audioHash != "" {
		generated["audio_hash"] = s.audioHash
	}

	base := s.creative.BaseName
	if strings.TrimSpace(base) == "" {
		base = "audio_sample_" + strconv.FormatInt(s.job.ContentID, 10)
	}
	slug := BuildSlug(base, o.opts.SlugSuffix())

	payload := map[string]any{
		"content_data": mergeUnder(generated, s.content.ContentData),
		"slug":         slug,
	}
	if err := o.deps.Content.UpdateContent(ctx, s.job.ContentID, payload); err != nil {
		return err
	}
	s.result.Slug = slug
	return nil
}
