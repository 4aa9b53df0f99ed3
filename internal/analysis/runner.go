package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"casiel/internal/logging"
	"casiel/internal/services"
)

const (
	defaultAnalyzeTimeout   = 120 * time.Second
	defaultTranscodeTimeout = 180 * time.Second
	defaultBitrate          = "96k"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) (stdout, stderr []byte, err error)
}

// Config locates the tools and bounds their runtime.
type Config struct {
	Python           string
	Script           string
	FFmpeg           string
	Bitrate          string
	AnalyzeTimeout   time.Duration
	TranscodeTimeout time.Duration
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner wraps the local analysis tools.
type Runner struct {
	cfg    Config
	exec   Executor
	logger *slog.Logger
}

// New constructs a runner.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	cfg.Python = strings.TrimSpace(cfg.Python)
	cfg.Script = strings.TrimSpace(cfg.Script)
	cfg.FFmpeg = strings.TrimSpace(cfg.FFmpeg)
	if cfg.Python == "" || cfg.Script == "" {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "new runner", "python command and script are required", nil)
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if strings.TrimSpace(cfg.Bitrate) == "" {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = defaultTranscodeTimeout
	}
	r := &Runner{cfg: cfg, exec: commandExecutor{}, logger: logging.NewComponentLogger(logger, "analysis")}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Hash computes the perceptual hash of the audio at path.
func (r *Runner) Hash(ctx context.Context, path string) (string, error) {
	var payload struct {
		AudioHash string `json:"audio_hash"`
		Error     string `json:"error"`
	}
	if err := r.script(ctx, "hash", path, &payload); err != nil {
		return "", err
	}
	if payload.Error != "" {
		return "", services.Wrap(services.ErrExternalTool, "analysis", "hash", payload.Error, nil)
	}
	hash := strings.TrimSpace(payload.AudioHash)
	if hash == "" {
		return "", services.Wrap(services.ErrExternalTool, "analysis", "hash", "audio.py returned an empty hash", nil)
	}
	return hash, nil
}

// Analyze extracts technical metadata (bpm, key, scale) from path.
func (r *Runner) Analyze(ctx context.Context, path string) (map[string]any, error) {
	var payload map[string]any
	if err := r.script(ctx, "analyze", path, &payload); err != nil {
		return nil, err
	}
	if msg, ok := payload["error"]; ok {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", fmt.Sprint(msg), nil)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	r.logger.Debug("technical analysis complete", logging.Any("metadata", payload))
	return payload, nil
}

// Transcode writes a lightweight MP3 of in to out.
func (r *Runner) Transcode(ctx context.Context, in, out string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	defer cancel()

	args := []string{"-i", in, "-b:a", r.cfg.Bitrate, "-y", out}
	started := time.Now()
	_, stderr, err := r.exec.Run(ctx, r.cfg.FFmpeg, args)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "analysis", "transcode", lastLines(stderr, 5), timeoutAware(ctx, err))
	}
	info, statErr := os.Stat(out)
	if statErr != nil || info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, "analysis", "transcode", "ffmpeg produced no output", statErr)
	}
	r.logger.Debug("transcode complete",
		logging.String("output", out),
		logging.Int64("bytes", info.Size()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (r *Runner) script(ctx context.Context, command, path string, target any) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AnalyzeTimeout)
	defer cancel()

	stdout, stderr, err := r.exec.Run(ctx, r.cfg.Python, []string{r.cfg.Script, command, path})
	if err != nil {
		detail := scriptError(stderr)
		return services.Wrap(services.ErrExternalTool, "analysis", command, detail, timeoutAware(ctx, err))
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout), target); err != nil {
		detail := scriptError(stderr)
		if detail == "" {
			detail = "invalid JSON from audio.py"
		}
		return services.Wrap(services.ErrExternalTool, "analysis", command, detail, err)
	}
	return nil
}

// scriptError prefers the JSON error object audio.py writes to stderr.
func scriptError(stderr []byte) string {
	trimmed := bytes.TrimSpace(stderr)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return lastLines(trimmed, 5)
}

func timeoutAware(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", services.ErrTimeout, err)
	}
	return err
}

func lastLines(output []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
