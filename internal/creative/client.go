package creative

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/mapstructure"

	"casiel/internal/gateway"
	"casiel/internal/logging"
	"casiel/internal/services"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout     = 90 * time.Second
	defaultMaxAttempts = 3
	fallbackMimeType   = "audio/mpeg"
)

// Governor is the quota gate consulted before each analysis.
type Governor interface {
	Allowed(ctx context.Context) bool
	RecordUsage(ctx context.Context)
}

// Config captures the Gemini settings.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	cfg        Config
	gw         gateway.Gateway
	governor   Governor
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithBackOff overrides the retry schedule (useful for tests).
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// New constructs a Gemini client.
func New(cfg Config, gw gateway.Gateway, governor Governor, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, services.Wrap(services.ErrConfiguration, "creative", "new client", "api key and model are required", nil)
	}
	if gw == nil || governor == nil {
		return nil, services.Wrap(services.ErrConfiguration, "creative", "new client", "gateway and quota governor are required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	c := &Client{
		cfg:        cfg,
		gw:         gw,
		governor:   governor,
		newBackOff: defaultBackOff,
		logger:     logging.NewComponentLogger(logger, "creative").With(logging.String("model", cfg.Model)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = 0
	return b
}

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `mapstructure:"text"`
			} `mapstructure:"parts"`
		} `mapstructure:"content"`
		FinishReason string `mapstructure:"finishReason"`
	} `mapstructure:"candidates"`
}

// Analyze describes the audio at audioPath. It fails with
// services.ErrQuotaExceeded when the daily budget is spent.
func (c *Client) Analyze(ctx context.Context, audioPath string, hints Context) (*Metadata, error) {
	if !c.governor.Allowed(ctx) {
		return nil, services.Wrap(services.ErrQuotaExceeded, "creative", "analyze", "daily gemini quota reached", nil)
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "creative", "analyze", "read audio file", err)
	}
	body := generateRequest{
		Contents: []requestContent{{Parts: []requestPart{
			{Text: BuildPrompt(hints)},
			{InlineData: &inlineData{MimeType: mimeTypeFor(audioPath), Data: base64.StdEncoding.EncodeToString(audio)}},
		}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}
	req := gateway.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint(),
		JSON:    body,
		Timeout: c.cfg.Timeout,
	}

	attempt := 0
	var text string
	operation := func() error {
		attempt++
		if attempt > 1 && !c.governor.Allowed(ctx) {
			return backoff.Permanent(services.Wrap(services.ErrQuotaExceeded, "creative", "analyze", "daily gemini quota reached during retries", nil))
		}
		c.governor.RecordUsage(ctx)
		result, err := c.gw.Do(ctx, req)
		if err != nil {
			if retryable(ctx, err) {
				c.logger.Warn("gemini request failed; retrying",
					logging.Int("attempt", attempt),
					logging.Error(redact(err, c.cfg.APIKey)),
					logging.String(logging.FieldEventType, "gemini_retry"),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		text, err = responseText(result)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, services.ErrQuotaExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "creative", "analyze",
			fmt.Sprintf("gemini failed after %d attempt(s)", attempt), redact(err, c.cfg.APIKey))
	}

	var decoded any
	if err := DecodeModelJSON(text, &decoded); err != nil {
		return nil, services.Wrap(services.ErrValidation, "creative", "analyze", "parse model output", err)
	}
	raw, ok := firstObject(decoded)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "creative", "analyze", "model output is not an object", nil)
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "creative", "analyze", "normalize model output", err)
	}
	c.logger.Info("creative analysis complete",
		logging.String("base_name", meta.BaseName),
		logging.Int("attempts", attempt),
		logging.String(logging.FieldEventType, "creative_analysis_complete"),
	)
	return meta, nil
}

// firstObject accepts an object or a list whose first element is one.
func firstObject(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case []any:
		if len(typed) > 0 {
			obj, ok := typed[0].(map[string]any)
			return obj, ok
		}
	}
	return nil, false
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIKey))
}

func responseText(result any) (string, error) {
	var resp generateResponse
	if err := mapstructure.Decode(result, &resp); err != nil {
		return "", fmt.Errorf("unexpected gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response has no candidates")
	}
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("gemini response has empty text (finish_reason=%q)", resp.Candidates[0].FinishReason)
	}
	return text, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// redact keeps the API key out of logs and persisted errors.
func redact(err error, secret string) error {
	if err == nil || secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "REDACTED"))
}

func mimeTypeFor(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if idx := strings.Index(t, ";"); idx >= 0 {
			t = t[:idx]
		}
		return t
	}
	return fallbackMimeType
}
