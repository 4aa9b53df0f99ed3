package creative_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"casiel/internal/creative"
	"casiel/internal/gateway"
	"casiel/internal/logging"
	"casiel/internal/services"
)

type fakeGateway struct {
	responses []any
	errs      []error
	requests  []gateway.Request
}

func (f *fakeGateway) Do(_ context.Context, req gateway.Request) (any, error) {
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type fakeGovernor struct {
	allowed  bool
	limit    int
	recorded int
}

func (f *fakeGovernor) Allowed(context.Context) bool {
	return f.allowed && (f.limit == 0 || f.recorded < f.limit)
}

func (f *fakeGovernor) RecordUsage(context.Context) { f.recorded++ }

func geminiResponse(text string) any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"parts": []any{map[string]any{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "9_original.wav")
	if err := os.WriteFile(path, []byte("RIFF-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func newClient(t *testing.T, gw gateway.Gateway, gov creative.Governor, attempts int) *creative.Client {
	t.Helper()
	client, err := creative.New(creative.Config{
		APIKey:      "secret-key",
		Model:       "gemini-2.5-flash",
		BaseURL:     "https://gemini.test/v1beta/",
		MaxAttempts: attempts,
	}, gw, gov, logging.NewNop(), creative.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestAnalyzeBuildsRequestAndNormalizesLists(t *testing.T) {
	gw := &fakeGateway{responses: []any{geminiResponse("```json\n" + `{
		"nombre_archivo_base": "dark pad loop",
		"tags": "dark, ambient ,pad",
		"tags_es": ["oscuro", "ambiental"],
		"tipo": "loop",
		"genero": ["ambient"],
		"emocion": "moody",
		"instrumentos": ["synth", 808],
		"artista_vibes": [],
		"descripcion_corta": "A brooding pad.",
		"descripcion": ["Slow", "evolving"]
	}` + "\n```")}}
	gov := &fakeGovernor{allowed: true}
	client := newClient(t, gw, gov, 3)
	audio := writeAudio(t)

	meta, err := client.Analyze(context.Background(), audio, creative.Context{
		Title:     "Pad Loop",
		Technical: map[string]any{"bpm": 90},
		Existing:  map[string]any{"genre": "ambient"},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if meta.BaseName != "dark pad loop" || meta.Type != "loop" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if strings.Join(meta.Tags, "|") != "dark|ambient|pad" {
		t.Fatalf("tags not split: %v", meta.Tags)
	}
	if len(meta.Emotion) != 1 || meta.Emotion[0] != "moody" {
		t.Fatalf("scalar emotion not wrapped: %v", meta.Emotion)
	}
	if strings.Join(meta.Instruments, "|") != "synth|808" {
		t.Fatalf("instruments not stringified: %v", meta.Instruments)
	}
	if meta.Description != "Slow, evolving" {
		t.Fatalf("description list not joined: %q", meta.Description)
	}
	if gov.recorded != 1 {
		t.Fatalf("expected one usage record, got %d", gov.recorded)
	}

	req := gw.requests[0]
	if req.URL != "https://gemini.test/v1beta/models/gemini-2.5-flash:generateContent?key=secret-key" {
		t.Fatalf("unexpected endpoint %s", req.URL)
	}
	encoded, err := json.Marshal(req.JSON)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var body struct {
		Contents []struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData struct {
					MimeType string `json:"mime_type"`
					Data     string `json:"data"`
				} `json:"inline_data"`
			} `json:"parts"`
		} `json:"contents"`
		GenerationConfig map[string]string `json:"generationConfig"`
	}
	if err := json.Unmarshal(encoded, &body); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	parts := body.Contents[0].Parts
	if !strings.Contains(parts[0].Text, "'Pad Loop'") || !strings.Contains(parts[0].Text, `{"bpm":90}`) || !strings.Contains(parts[0].Text, `"genre":"ambient"`) {
		t.Fatalf("prompt missing context: %s", parts[0].Text)
	}
	if parts[1].InlineData.Data != base64.StdEncoding.EncodeToString([]byte("RIFF-audio")) {
		t.Fatal("audio not inlined as base64")
	}
	if !strings.HasPrefix(parts[1].InlineData.MimeType, "audio/") {
		t.Fatalf("unexpected mime type %q", parts[1].InlineData.MimeType)
	}
	if body.GenerationConfig["responseMimeType"] != "application/json" {
		t.Fatalf("unexpected generation config %v", body.GenerationConfig)
	}
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	gw := &fakeGateway{}
	gov := &fakeGovernor{allowed: false}
	client := newClient(t, gw, gov, 3)

	_, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{})
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(gw.requests) != 0 || gov.recorded != 0 {
		t.Fatalf("expected no request and no usage, got %d requests, %d records", len(gw.requests), gov.recorded)
	}
}

func TestAnalyzeRetriesTransientStatus(t *testing.T) {
	gw := &fakeGateway{
		errs:      []error{&gateway.StatusError{Code: 503}, &gateway.StatusError{Code: 429}},
		responses: []any{nil, nil, geminiResponse(`{"nombre_archivo_base":"kick"}`)},
	}
	gov := &fakeGovernor{allowed: true}
	client := newClient(t, gw, gov, 3)

	meta, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if meta.BaseName != "kick" {
		t.Fatalf("unexpected base name %q", meta.BaseName)
	}
	if len(gw.requests) != 3 || gov.recorded != 3 {
		t.Fatalf("expected 3 attempts each counted, got %d requests and %d records", len(gw.requests), gov.recorded)
	}
}

func TestAnalyzeRetriesStopAtQuota(t *testing.T) {
	gw := &fakeGateway{
		errs:      []error{&gateway.StatusError{Code: 503}, &gateway.StatusError{Code: 503}},
		responses: []any{nil, nil, geminiResponse(`{"nombre_archivo_base":"kick"}`)},
	}
	gov := &fakeGovernor{allowed: true, limit: 1}
	client := newClient(t, gw, gov, 3)

	_, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{})
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(gw.requests) != 1 || gov.recorded != 1 {
		t.Fatalf("expected usage capped at 1, got %d requests and %d records", len(gw.requests), gov.recorded)
	}
}

func TestAnalyzeStopsAtMaxAttempts(t *testing.T) {
	gw := &fakeGateway{
		errs:      []error{&gateway.StatusError{Code: 500}, &gateway.StatusError{Code: 500}, &gateway.StatusError{Code: 500}},
		responses: []any{nil},
	}
	client := newClient(t, gw, &fakeGovernor{allowed: true}, 2)

	if _, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{}); err == nil {
		t.Fatal("expected failure")
	}
	if len(gw.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(gw.requests))
	}
}

func TestAnalyzeDoesNotRetryClientErrors(t *testing.T) {
	gw := &fakeGateway{errs: []error{&gateway.StatusError{Code: 400, Body: "bad key secret-key"}}, responses: []any{nil}}
	client := newClient(t, gw, &fakeGovernor{allowed: true}, 3)

	_, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(gw.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(gw.requests))
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestAnalyzeRejectsEmptyCandidates(t *testing.T) {
	gw := &fakeGateway{responses: []any{map[string]any{"candidates": []any{}}}}
	client := newClient(t, gw, &fakeGovernor{allowed: true}, 3)
	if _, err := client.Analyze(context.Background(), writeAudio(t), creative.Context{}); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestDecodeModelJSON(t *testing.T) {
	var out map[string]any
	if err := creative.DecodeModelJSON("Sure! Here it is: {\"a\": 1} hope it helps", &out); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if out["a"] != float64(1) {
		t.Fatalf("unexpected decode %v", out)
	}
	if err := creative.DecodeModelJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestToMapOmitsEmptyFields(t *testing.T) {
	meta, err := creative.DecodeMetadata(map[string]any{
		"nombre_archivo_base": "snare",
		"tags":                []any{"crisp"},
		"modelo_extra":        "kept",
	})
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	out := meta.ToMap()
	if out["nombre_archivo_base"] != "snare" || out["modelo_extra"] != "kept" {
		t.Fatalf("unexpected map %v", out)
	}
	if _, ok := out["descripcion"]; ok {
		t.Fatal("empty description must be omitted")
	}
}
