package workflow_test

import (
	"context"
	"errors"
	"os"
	"sync"

	"casiel/internal/contentapi"
	"casiel/internal/creative"
)

type fakeContent struct {
	mu sync.Mutex

	content   *contentapi.Content
	media     *contentapi.Media
	match     *contentapi.Content
	uploadID  int64
	failOn    string
	calls     []string
	updates   []map[string]any
	uploaded  []string
	downloads []string
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		content: &contentapi.Content{ID: 10, ContentData: map[string]any{"title": "user title", "tipo": "old"}},
		media: &contentapi.Media{
			ID:       20,
			Path:     "uploads/pad.wav",
			Metadata: contentapi.MediaMetadata{OriginalName: "Pad Loop.wav"},
		},
		uploadID: 99,
	}
}

func (f *fakeContent) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn == call {
		return errors.New(call + " failed")
	}
	return nil
}

func (f *fakeContent) GetContent(_ context.Context, id int64) (*contentapi.Content, error) {
	if err := f.record("get_content"); err != nil {
		return nil, err
	}
	return f.content, nil
}

func (f *fakeContent) GetMedia(_ context.Context, id int64) (*contentapi.Media, error) {
	if err := f.record("get_media"); err != nil {
		return nil, err
	}
	return f.media, nil
}

func (f *fakeContent) DownloadFile(_ context.Context, relPath, dest string) error {
	if err := f.record("download"); err != nil {
		return err
	}
	f.downloads = append(f.downloads, relPath)
	return os.WriteFile(dest, []byte("RIFF"), 0o644)
}

func (f *fakeContent) FindContentByHash(_ context.Context, hash string, _ int64) (*contentapi.Content, error) {
	if err := f.record("find_by_hash"); err != nil {
		return nil, err
	}
	return f.match, nil
}

func (f *fakeContent) UpdateContent(_ context.Context, id int64, payload map[string]any) error {
	if err := f.record("update"); err != nil {
		return err
	}
	f.updates = append(f.updates, payload)
	return nil
}

func (f *fakeContent) UploadMedia(_ context.Context, path string) (*contentapi.Media, error) {
	if err := f.record("upload"); err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, path)
	return &contentapi.Media{ID: f.uploadID}, nil
}

type fakeLocal struct {
	hash        string
	hashErr     error
	analyzeErr  error
	transcodeFn func(in, out string) error
	calls       []string
}

func (f *fakeLocal) Hash(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, "hash")
	return f.hash, f.hashErr
}

func (f *fakeLocal) Analyze(_ context.Context, path string) (map[string]any, error) {
	f.calls = append(f.calls, "analyze")
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return map[string]any{"bpm": 92, "tonalidad": "D", "escala": "minor"}, nil
}

func (f *fakeLocal) Transcode(_ context.Context, in, out string) error {
	f.calls = append(f.calls, "transcode")
	if f.transcodeFn != nil {
		return f.transcodeFn(in, out)
	}
	return os.WriteFile(out, []byte("mp3"), 0o644)
}

type fakeCreative struct {
	meta  *creative.Metadata
	err   error
	panic bool
	hints []creative.Context
}

func (f *fakeCreative) Analyze(_ context.Context, path string, hints creative.Context) (*creative.Metadata, error) {
	if f.panic {
		panic("model exploded")
	}
	f.hints = append(f.hints, hints)
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}
