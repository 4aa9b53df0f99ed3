package contentapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"casiel/internal/gateway"
	"casiel/internal/logging"
	"casiel/internal/services"
)

const (
	defaultTimeout         = 90 * time.Second
	defaultDownloadTimeout = 300 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("content api circuit open")

// Config captures the API endpoint and credentials.
type Config struct {
	BaseURL         string
	Username        string
	Password        string
	Timeout         time.Duration
	DownloadTimeout time.Duration
}

// BreakerSettings tune the circuit breaker.
type BreakerSettings struct {
	Failures uint32
	Cooldown time.Duration
}

// Client wraps the content API endpoints used by the worker.
type Client struct {
	cfg     Config
	gw      gateway.Gateway
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu    sync.Mutex
	token string
}

// Option customizes the client.
type Option func(*Client)

// WithBreaker replaces the default breaker settings.
func WithBreaker(settings BreakerSettings) Option {
	return func(c *Client) {
		c.breaker = newBreaker(settings, c.logger)
	}
}

// New constructs a content API client.
func New(cfg Config, gw gateway.Gateway, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "content_api", "new client", "base url is required", nil)
	}
	if gw == nil {
		return nil, services.Wrap(services.ErrConfiguration, "content_api", "new client", "gateway is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	c := &Client{
		cfg:    cfg,
		gw:     gw,
		logger: logging.NewComponentLogger(logger, "content_api"),
	}
	c.breaker = newBreaker(BreakerSettings{}, c.logger)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func newBreaker(settings BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker {
	failures := settings.Failures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := settings.Cooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "content_api",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about API health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code, ok := gateway.StatusCode(err)
			return ok && code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.WarnWithContext(logger, "circuit breaker state change", "circuit_breaker_state",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
				logging.String(logging.FieldErrorHint, "check content api availability"),
				logging.String(logging.FieldImpact, "content api calls fail fast while open"),
			)
		},
	})
}

// Authenticate logs in unless a token is already cached.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.bearer(ctx)
	return err
}

// Token returns the cached token, if any.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	result, err := c.execute(ctx, gateway.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint("auth/login"),
		JSON:    map[string]string{"identifier": c.cfg.Username, "password": c.cfg.Password},
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "content_api", "authenticate", "login request failed", err)
	}
	data, _ := unwrapData(result).(map[string]any)
	token, _ := data["access_token"].(string)
	if strings.TrimSpace(token) == "" {
		return "", services.Wrap(services.ErrValidation, "content_api", "authenticate", "login response has no access_token", nil)
	}
	c.token = token
	c.logger.Info("content api authenticated", logging.String(logging.FieldEventType, "content_api_login"))
	return token, nil
}

// GetContent fetches one content record.
func (c *Client) GetContent(ctx context.Context, id int64) (*Content, error) {
	result, err := c.call(ctx, http.MethodGet, "contents/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content_api", "get content", fmt.Sprintf("content %d", id), err)
	}
	content, err := parseContent(unwrapData(result))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "content_api", "get content", fmt.Sprintf("content %d", id), err)
	}
	return content, nil
}

// GetMedia fetches one media record.
func (c *Client) GetMedia(ctx context.Context, id int64) (*Media, error) {
	result, err := c.call(ctx, http.MethodGet, "media/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content_api", "get media", fmt.Sprintf("media %d", id), err)
	}
	media, err := parseMedia(unwrapData(result))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "content_api", "get media", fmt.Sprintf("media %d", id), err)
	}
	return media, nil
}

// FindContentByHash returns the first content record carrying hash whose id
// is not selfID, or nil when none exists. Responses that do not identify a
// record are treated as no match.
func (c *Client) FindContentByHash(ctx context.Context, hash string, selfID int64) (*Content, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	result, err := c.call(ctx, http.MethodGet, "contents?audio_hash="+url.QueryEscape(hash), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content_api", "find by hash", "hash lookup failed", err)
	}

	switch data := unwrapData(result).(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(data) == 0 {
			return nil, nil
		}
		if content, err := parseContent(data); err == nil {
			if content.ID == selfID {
				return nil, nil
			}
			return content, nil
		}
	case []any:
		if len(data) == 0 {
			return nil, nil
		}
		recognized := false
		for _, entry := range data {
			content, err := parseContent(entry)
			if err != nil {
				continue
			}
			recognized = true
			if content.ID != selfID {
				return content, nil
			}
		}
		if recognized {
			return nil, nil
		}
	}
	logging.WarnWithContext(c.logger, "hash lookup returned an unrecognized shape; treating as no match", "dedup_ambiguous",
		logging.String("audio_hash", hash),
		logging.String(logging.FieldErrorHint, "check the contents endpoint audio_hash filter"),
		logging.String(logging.FieldImpact, "duplicate detection skipped for this job"),
	)
	return nil, nil
}

// UpdateContent posts payload to the content record.
func (c *Client) UpdateContent(ctx context.Context, id int64, payload map[string]any) error {
	if _, err := c.call(ctx, http.MethodPost, "contents/"+strconv.FormatInt(id, 10), payload); err != nil {
		return services.Wrap(services.ErrTransient, "content_api", "update content", fmt.Sprintf("content %d", id), err)
	}
	return nil
}

// UploadMedia uploads the file at path and returns the created record.
func (c *Client) UploadMedia(ctx context.Context, path string) (*Media, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	result, err := c.execute(ctx, gateway.Request{
		Method:    http.MethodPost,
		URL:       c.endpoint("media"),
		Multipart: []gateway.Part{{Field: "file", Path: path, FileName: filepath.Base(path)}},
		Headers:   c.headers(token),
		Timeout:   c.cfg.DownloadTimeout,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content_api", "upload media", filepath.Base(path), err)
	}
	media, err := parseMedia(unwrapData(result))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "content_api", "upload media", "response has no media id", err)
	}
	return media, nil
}

// DownloadFile saves the file at relPath, relative to the API base URL.
func (c *Client) DownloadFile(ctx context.Context, relPath, dest string) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	target := c.cfg.BaseURL + "/" + strings.TrimLeft(strings.TrimSpace(relPath), "/")
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, gateway.Download(ctx, c.gw, target, dest, map[string]string{"Authorization": "Bearer " + token}, c.cfg.DownloadTimeout)
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "content_api", "download", relPath, c.breakerError(err))
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload map[string]any) (any, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	req := gateway.Request{
		Method:  method,
		URL:     c.endpoint(path),
		Headers: c.headers(token),
		Timeout: c.cfg.Timeout,
	}
	if payload != nil {
		req.JSON = payload
	}
	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, req gateway.Request) (any, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.gw.Do(ctx, req)
	})
	if err != nil {
		return nil, c.breakerError(err)
	}
	return result, nil
}

func (c *Client) breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/json",
	}
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
}
