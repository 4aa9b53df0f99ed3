package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Broker contains RabbitMQ connection and consumption settings.
type Broker struct {
	URL                   string `toml:"url"`
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	User                  string `toml:"user"`
	Password              string `toml:"password"`
	VHost                 string `toml:"vhost"`
	WorkQueue             string `toml:"work_queue"`
	Prefetch              int    `toml:"prefetch"`
	Consumers             int    `toml:"consumers"`
	RetryTTLSeconds       int    `toml:"retry_ttl_seconds"`
	HealthIntervalSeconds int    `toml:"health_interval_seconds"`
	ReconnectDelaySeconds int    `toml:"reconnect_delay_seconds"`
	HeartbeatSeconds      int    `toml:"heartbeat_seconds"`
}

// ContentAPI contains settings for the remote content service.
type ContentAPI struct {
	BaseURL                string `toml:"base_url"`
	Username               string `toml:"username"`
	Password               string `toml:"password"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	BreakerFailures        int    `toml:"breaker_failures"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

// Gemini contains creative analysis provider settings and its daily quota.
type Gemini struct {
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	DailyLimit     int    `toml:"daily_limit"`
	ResetTimezone  string `toml:"reset_timezone"`
	ResetTime      string `toml:"reset_time"`
}

// Redis contains the quota counter store connection.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Analysis contains local analysis and transcode tool settings.
type Analysis struct {
	Python                  string `toml:"python"`
	Script                  string `toml:"script"`
	FFmpeg                  string `toml:"ffmpeg"`
	Bitrate                 string `toml:"bitrate"`
	AnalyzeTimeoutSeconds   int    `toml:"analyze_timeout_seconds"`
	TranscodeTimeoutSeconds int    `toml:"transcode_timeout_seconds"`
	BestEffortHash          bool   `toml:"best_effort_hash"`
}

// HTTP selects the outbound request strategy.
type HTTP struct {
	Strategy       string `toml:"strategy"`
	CurlBinary     string `toml:"curl_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains job retry policy.
type Workflow struct {
	MaxRetries int `toml:"max_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for casiel.
//
// Configuration sections by subsystem:
//   - Paths: per-job temp files and logs
//   - Broker: RabbitMQ connection, topology TTL, consumer count
//   - ContentAPI: remote content service credentials and timeouts
//   - Gemini: creative analysis provider and daily quota
//   - Redis: quota counter store
//   - Analysis: python/ffmpeg tooling
//   - HTTP: native vs curl request strategy
//   - Workflow: retry budget
//   - Logging: log format, level, and retention
type Config struct {
	Paths      Paths      `toml:"paths"`
	Broker     Broker     `toml:"broker"`
	ContentAPI ContentAPI `toml:"content_api"`
	Gemini     Gemini     `toml:"gemini"`
	Redis      Redis      `toml:"redis"`
	Analysis   Analysis   `toml:"analysis"`
	HTTP       HTTP       `toml:"http"`
	Workflow   Workflow   `toml:"workflow"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/casiel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment fallbacks applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("casiel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for worker operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AMQPURL returns the broker URI, assembling it from host parts when no
// explicit url is configured.
func (b Broker) AMQPURL() string {
	if strings.TrimSpace(b.URL) != "" {
		return strings.TrimSpace(b.URL)
	}
	port := b.Port
	if port <= 0 {
		port = defaultBrokerPort
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.User, b.Password),
		Host:   net.JoinHostPort(b.Host, strconv.Itoa(port)),
		Path:   "/",
	}
	if vhost := strings.TrimSpace(b.VHost); vhost != "" && vhost != "/" {
		u.Path = "/" + vhost
		u.RawPath = "/" + url.PathEscape(vhost)
	}
	return u.String()
}

// RetryTTL returns how long a failed job waits in the retry queue.
func (b Broker) RetryTTL() time.Duration {
	return time.Duration(b.RetryTTLSeconds) * time.Second
}

// HealthInterval returns the connection health check period.
func (b Broker) HealthInterval() time.Duration {
	return time.Duration(b.HealthIntervalSeconds) * time.Second
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (b Broker) ReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectDelaySeconds) * time.Second
}

// Heartbeat returns the AMQP heartbeat interval.
func (b Broker) Heartbeat() time.Duration {
	return time.Duration(b.HeartbeatSeconds) * time.Second
}

// QuotaLocation resolves the configured reset timezone.
func (g Gemini) QuotaLocation() (*time.Location, error) {
	return time.LoadLocation(strings.TrimSpace(g.ResetTimezone))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
