package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateContentAPI(); err != nil {
		return err
	}
	if err := c.validateGemini(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBroker() error {
	if strings.TrimSpace(c.Broker.WorkQueue) == "" {
		return errors.New("broker.work_queue is required. Set RABBITMQ_WORK_QUEUE env var or edit the config file")
	}
	if c.Broker.Prefetch < 1 {
		return errors.New("broker.prefetch must be at least 1")
	}
	if c.Broker.Consumers < 1 {
		return errors.New("broker.consumers must be at least 1")
	}
	return ensurePositiveMap(map[string]int{
		"broker.retry_ttl_seconds":       c.Broker.RetryTTLSeconds,
		"broker.health_interval_seconds": c.Broker.HealthIntervalSeconds,
		"broker.reconnect_delay_seconds": c.Broker.ReconnectDelaySeconds,
		"broker.heartbeat_seconds":       c.Broker.HeartbeatSeconds,
	})
}

func (c *Config) validateContentAPI() error {
	if c.ContentAPI.BaseURL == "" {
		return errors.New("content_api.base_url is required. Set SWORD_API_URL env var or edit the config file")
	}
	if c.ContentAPI.Username == "" || c.ContentAPI.Password == "" {
		return errors.New("content_api.username and content_api.password are required (SWORD_API_USER, SWORD_API_PASSWORD)")
	}
	if c.ContentAPI.BreakerFailures < 0 {
		return errors.New("content_api.breaker_failures must not be negative")
	}
	return ensurePositiveMap(map[string]int{
		"content_api.timeout_seconds":          c.ContentAPI.TimeoutSeconds,
		"content_api.download_timeout_seconds": c.ContentAPI.DownloadTimeoutSeconds,
	})
}

func (c *Config) validateGemini() error {
	if c.Gemini.APIKey == "" {
		return errors.New("gemini.api_key is required. Set GEMINI_API_KEY env var or edit the config file")
	}
	if _, err := c.Gemini.QuotaLocation(); err != nil {
		return fmt.Errorf("gemini.reset_timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Gemini.ResetTime); err != nil {
		return fmt.Errorf("gemini.reset_time must use HH:MM: %w", err)
	}
	if c.Gemini.MaxAttempts < 1 {
		return errors.New("gemini.max_attempts must be at least 1")
	}
	return ensurePositiveMap(map[string]int{
		"gemini.timeout_seconds": c.Gemini.TimeoutSeconds,
	})
}

func (c *Config) validateAnalysis() error {
	return ensurePositiveMap(map[string]int{
		"analysis.analyze_timeout_seconds":   c.Analysis.AnalyzeTimeoutSeconds,
		"analysis.transcode_timeout_seconds": c.Analysis.TranscodeTimeoutSeconds,
	})
}

func (c *Config) validateHTTP() error {
	switch c.HTTP.Strategy {
	case "auto", "native", "curl":
	default:
		return fmt.Errorf("http.strategy: unsupported value %q (use auto, native, or curl)", c.HTTP.Strategy)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
