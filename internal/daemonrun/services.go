package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"casiel/internal/analysis"
	"casiel/internal/broker"
	"casiel/internal/config"
	"casiel/internal/contentapi"
	"casiel/internal/creative"
	"casiel/internal/failure"
	"casiel/internal/gateway"
	"casiel/internal/quota"
	"casiel/internal/workflow"
)

// geminiService names the quota counters of the creative provider.
const geminiService = "gemini"

// Services bundles the long-lived clients built from configuration. The CLI
// reuses it for check, quota and enqueue.
type Services struct {
	Redis    *redis.Client
	Gateway  gateway.Gateway
	Quota    *quota.Governor
	Content  *contentapi.Client
	Local    *analysis.Runner
	Creative *creative.Client
	Pipeline *workflow.Orchestrator
	Failures *failure.Governor
}

// NewServices wires every client the worker needs. No network calls are made.
func NewServices(cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s := &Services{
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}

	governor, err := NewQuotaGovernor(cfg, s.Redis, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Quota = governor

	s.Gateway, err = gateway.Select(gateway.Strategy{
		Mode:       cfg.HTTP.Strategy,
		CurlBinary: cfg.HTTP.CurlBinary,
		Timeout:    seconds(cfg.HTTP.TimeoutSeconds),
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Content, err = contentapi.New(contentapi.Config{
		BaseURL:         cfg.ContentAPI.BaseURL,
		Username:        cfg.ContentAPI.Username,
		Password:        cfg.ContentAPI.Password,
		Timeout:         seconds(cfg.ContentAPI.TimeoutSeconds),
		DownloadTimeout: seconds(cfg.ContentAPI.DownloadTimeoutSeconds),
	}, s.Gateway, logger, contentapi.WithBreaker(contentapi.BreakerSettings{
		Failures: uint32(max(cfg.ContentAPI.BreakerFailures, 0)),
		Cooldown: seconds(cfg.ContentAPI.BreakerCooldownSeconds),
	}))
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Local, err = analysis.New(analysis.Config{
		Python:           cfg.Analysis.Python,
		Script:           cfg.Analysis.Script,
		FFmpeg:           cfg.Analysis.FFmpeg,
		Bitrate:          cfg.Analysis.Bitrate,
		AnalyzeTimeout:   seconds(cfg.Analysis.AnalyzeTimeoutSeconds),
		TranscodeTimeout: seconds(cfg.Analysis.TranscodeTimeoutSeconds),
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Creative, err = creative.New(creative.Config{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		BaseURL:     cfg.Gemini.BaseURL,
		Timeout:     seconds(cfg.Gemini.TimeoutSeconds),
		MaxAttempts: cfg.Gemini.MaxAttempts,
	}, s.Gateway, s.Quota, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Pipeline, err = workflow.New(workflow.Dependencies{
		Content:  s.Content,
		Local:    s.Local,
		Creative: s.Creative,
	}, workflow.Options{BestEffortHash: cfg.Analysis.BestEffortHash}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Failures, err = failure.New(s.Content, failure.Config{
		MaxRetries: cfg.Workflow.MaxRetries,
		WorkQueue:  cfg.Broker.WorkQueue,
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewQuotaGovernor builds the Gemini quota governor over a redis client.
func NewQuotaGovernor(cfg *config.Config, client redis.Cmdable, logger *slog.Logger) (*quota.Governor, error) {
	return quota.New(quota.NewRedisStore(client), quota.Config{
		Service:   geminiService,
		Limit:     int64(cfg.Gemini.DailyLimit),
		Timezone:  cfg.Gemini.ResetTimezone,
		ResetTime: cfg.Gemini.ResetTime,
	}, logger)
}

// Close releases the redis connection pool.
func (s *Services) Close() error {
	if s == nil || s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// BrokerConfig maps configuration onto a connector config. The tag suffix
// distinguishes consumers of one process.
func BrokerConfig(cfg *config.Config, tag string) broker.Config {
	return broker.Config{
		URL:            cfg.Broker.AMQPURL(),
		WorkQueue:      cfg.Broker.WorkQueue,
		ConsumerTag:    consumerTag(tag),
		Prefetch:       cfg.Broker.Prefetch,
		RetryTTL:       cfg.Broker.RetryTTL(),
		HealthInterval: cfg.Broker.HealthInterval(),
		ReconnectDelay: cfg.Broker.ReconnectDelay(),
		Heartbeat:      cfg.Broker.Heartbeat(),
	}
}

func consumerTag(suffix string) string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "casiel"
	}
	if suffix == "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), suffix)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
