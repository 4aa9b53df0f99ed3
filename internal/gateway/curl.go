package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"casiel/internal/logging"
	"casiel/internal/services"
)

// DefaultPollInterval is how often a running curl process is checked.
const DefaultPollInterval = 100 * time.Millisecond

// Curl performs requests by running the curl binary.
type Curl struct {
	binary       string
	timeout      time.Duration
	pollInterval time.Duration
	tempDir      string
	logger       *slog.Logger
}

// CurlOption customizes a Curl gateway.
type CurlOption func(*Curl)

// WithCurlBinary overrides the curl executable.
func WithCurlBinary(binary string) CurlOption {
	return func(c *Curl) {
		if strings.TrimSpace(binary) != "" {
			c.binary = strings.TrimSpace(binary)
		}
	}
}

// WithCurlTimeout sets the default per-request timeout.
func WithCurlTimeout(timeout time.Duration) CurlOption {
	return func(c *Curl) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithPollInterval overrides how often the process state is checked.
func WithPollInterval(interval time.Duration) CurlOption {
	return func(c *Curl) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithTempDir sets where request and response bodies are staged.
func WithTempDir(dir string) CurlOption {
	return func(c *Curl) {
		c.tempDir = dir
	}
}

// WithCurlLogger attaches a logger.
func WithCurlLogger(logger *slog.Logger) CurlOption {
	return func(c *Curl) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCurl constructs the curl-backed gateway.
func NewCurl(opts ...CurlOption) *Curl {
	c := &Curl{
		binary:       "curl",
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Curl) Do(ctx context.Context, req Request) (any, error) {
	timeout := requestTimeout(req.Timeout, c.timeout)

	outFile, err := c.tempFile("casiel-curl-out-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(outFile)

	args := []string{"-s", "-L", "-w", "%{http_code}", "-X", method(req.Method), "--output", outFile}
	args = append(args, "--max-time", strconv.Itoa(int(timeout.Round(time.Second)/time.Second)))
	args = append(args, headerArgs(req.Headers)...)

	switch {
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode json: %w", err)
		}
		inFile, err := c.writeTemp("casiel-curl-in-*", encoded)
		if err != nil {
			return nil, err
		}
		defer os.Remove(inFile)
		args = append(args, "-H", "Content-Type: application/json", "--data-binary", "@"+inFile)
	case req.Body != nil:
		inFile, err := c.writeTemp("casiel-curl-in-*", req.Body)
		if err != nil {
			return nil, err
		}
		defer os.Remove(inFile)
		args = append(args, "--data-binary", "@"+inFile)
	case len(req.Multipart) > 0:
		for _, part := range req.Multipart {
			name := part.FileName
			if name == "" {
				name = filepath.Base(part.Path)
			}
			args = append(args, "-F", fmt.Sprintf("%s=@%s;filename=%s", part.Field, part.Path, name))
		}
	}
	args = append(args, req.URL)

	code, err := c.run(ctx, args, timeout)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(outFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("gateway: read curl output: %w", err)
	}
	if code < 200 || code >= 300 {
		return nil, &StatusError{Code: code, Body: string(body)}
	}
	return decodeBody(body)
}

func (c *Curl) DownloadTo(ctx context.Context, url, dest string, headers map[string]string, timeout time.Duration) error {
	timeout = requestTimeout(timeout, c.timeout)
	args := []string{"-s", "-L", "-w", "%{http_code}", "-X", "GET", "--output", dest}
	args = append(args, "--max-time", strconv.Itoa(int(timeout.Round(time.Second)/time.Second)))
	args = append(args, headerArgs(headers)...)
	args = append(args, url)

	code, err := c.run(ctx, args, timeout)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		body, _ := os.ReadFile(dest)
		return &StatusError{Code: code, Body: string(body)}
	}
	return nil
}

// run starts curl and polls it until exit, the deadline, or cancellation.
// It returns the status code curl printed as the last three bytes of stdout.
func (c *Curl) run(ctx context.Context, args []string, timeout time.Duration) (int, error) {
	cmd := exec.Command(c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "gateway", "curl", "start curl", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// Allow curl's own --max-time to fire first.
	deadline := time.Now().Add(timeout + 5*time.Second)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var waitErr error
poll:
	for {
		select {
		case waitErr = <-done:
			break poll
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
			return 0, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				_ = cmd.Process.Kill()
				<-done
				return 0, services.Wrap(services.ErrTimeout, "gateway", "curl", fmt.Sprintf("curl exceeded %s", timeout), context.DeadlineExceeded)
			}
		}
	}

	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "no stderr output"
		}
		return 0, services.Wrap(services.ErrExternalTool, "gateway", "curl", detail, waitErr)
	}
	code, err := parseStatus(stdout.String())
	if err == nil {
		c.logger.Debug("curl request finished", logging.Int("status", code))
	}
	return code, err
}

func parseStatus(stdout string) (int, error) {
	out := strings.TrimSpace(stdout)
	if len(out) < 3 {
		return 0, services.Wrap(services.ErrExternalTool, "gateway", "curl", fmt.Sprintf("unexpected curl output %q", out), errors.New("missing status code"))
	}
	code, err := strconv.Atoi(out[len(out)-3:])
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "gateway", "curl", fmt.Sprintf("unexpected curl output %q", out), err)
	}
	return code, nil
}

func headerArgs(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, "-H", key+": "+headers[key])
	}
	return args
}

func (c *Curl) tempFile(pattern string) (string, error) {
	f, err := os.CreateTemp(c.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("gateway: create temp file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

func (c *Curl) writeTemp(pattern string, data []byte) (string, error) {
	name, err := c.tempFile(pattern)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(name, data, 0o600); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("gateway: write temp file: %w", err)
	}
	return name, nil
}
