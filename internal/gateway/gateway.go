package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"casiel/internal/logging"
)

// DefaultTimeout bounds a request when neither the request nor the gateway
// sets one.
const DefaultTimeout = 90 * time.Second

const (
	ModeAuto   = "auto"
	ModeNative = "native"
	ModeCurl   = "curl"
)

// Part is one file field of a multipart request.
type Part struct {
	Field    string
	Path     string
	FileName string
}

// Request describes one outbound call. At most one of JSON, Body and
// Multipart is used, in that order of precedence.
type Request struct {
	Method    string
	URL       string
	JSON      any
	Body      []byte
	Multipart []Part
	Headers   map[string]string
	Timeout   time.Duration
}

// Gateway executes requests and returns the decoded JSON body of 2xx
// responses. An empty 2xx body yields nil.
type Gateway interface {
	Do(ctx context.Context, req Request) (any, error)
}

// Downloader streams a response body into a file.
type Downloader interface {
	DownloadTo(ctx context.Context, url, dest string, headers map[string]string, timeout time.Duration) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, snippet(e.Body))
}

// Retryable reports whether the status usually clears on its own.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// StatusCode extracts the HTTP status from err when it carries one.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code, true
	}
	return 0, false
}

// Strategy selects the gateway implementation.
type Strategy struct {
	Mode       string
	CurlBinary string
	Timeout    time.Duration
}

// Select builds the gateway for strategy. Auto resolves to curl on Windows
// and to the native client everywhere else.
func Select(strategy Strategy, logger *slog.Logger) (Gateway, error) {
	mode := resolveMode(strategy.Mode, runtime.GOOS)
	logger = logging.NewComponentLogger(logger, "gateway")
	logger.Info("http gateway selected",
		logging.String("mode", mode),
		logging.String("requested", strategy.Mode),
		logging.String(logging.FieldEventType, "gateway_selected"),
	)
	switch mode {
	case ModeNative:
		return NewNative(WithTimeout(strategy.Timeout)), nil
	case ModeCurl:
		return NewCurl(WithCurlBinary(strategy.CurlBinary), WithCurlTimeout(strategy.Timeout), WithCurlLogger(logger)), nil
	default:
		return nil, fmt.Errorf("gateway: unsupported strategy %q", strategy.Mode)
	}
}

func resolveMode(mode, goos string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" || mode == ModeAuto {
		if goos == "windows" {
			return ModeCurl
		}
		return ModeNative
	}
	return mode
}

// Download writes the body at url into dest using gw. A zero-byte result is
// an error and leaves no file behind.
func Download(ctx context.Context, gw Gateway, url, dest string, headers map[string]string, timeout time.Duration) error {
	dl, ok := gw.(Downloader)
	if !ok {
		return fmt.Errorf("gateway: %T cannot download files", gw)
	}
	if err := dl.DownloadTo(ctx, url, dest, headers, timeout); err != nil {
		_ = os.Remove(dest)
		return err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("gateway: stat download: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(dest)
		return fmt.Errorf("gateway: download from %s produced an empty file", url)
	}
	return nil
}

func decodeBody(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("decode response body: %w (snippet: %s)", err, snippet(string(trimmed)))
	}
	return decoded, nil
}

func requestTimeout(req, fallback time.Duration) time.Duration {
	if req > 0 {
		return req
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

func method(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func snippet(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	const limit = 200
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
