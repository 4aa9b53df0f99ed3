package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBroker()
	c.normalizeContentAPI()
	c.normalizeGemini()
	c.normalizeRedis()
	if err := c.normalizeAnalysis(); err != nil {
		return err
	}
	c.normalizeHTTP()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBroker() {
	c.Broker.URL = stringFromEnv(c.Broker.URL, "RABBITMQ_URL")
	c.Broker.Host = stringFromEnv(c.Broker.Host, "RABBITMQ_HOST")
	c.Broker.User = stringFromEnv(c.Broker.User, "RABBITMQ_USER")
	c.Broker.Password = stringFromEnv(c.Broker.Password, "RABBITMQ_PASS")
	c.Broker.VHost = stringFromEnv(c.Broker.VHost, "RABBITMQ_VHOST")
	c.Broker.WorkQueue = stringFromEnv(c.Broker.WorkQueue, "RABBITMQ_WORK_QUEUE")
	c.Broker.Port = intFromEnv(c.Broker.Port, "RABBITMQ_PORT")
	if c.Broker.Host == "" {
		c.Broker.Host = defaultBrokerHost
	}
	if c.Broker.VHost == "" {
		c.Broker.VHost = defaultBrokerVHost
	}
}

func (c *Config) normalizeContentAPI() {
	c.ContentAPI.BaseURL = strings.TrimRight(stringFromEnv(c.ContentAPI.BaseURL, "SWORD_API_URL"), "/")
	c.ContentAPI.Username = stringFromEnv(c.ContentAPI.Username, "SWORD_API_USER")
	c.ContentAPI.Password = stringFromEnv(c.ContentAPI.Password, "SWORD_API_PASSWORD")
}

func (c *Config) normalizeGemini() {
	c.Gemini.APIKey = stringFromEnv(c.Gemini.APIKey, "GEMINI_API_KEY")
	c.Gemini.Model = stringFromEnv(c.Gemini.Model, "GEMINI_MODEL_ID")
	c.Gemini.ResetTimezone = stringFromEnv(c.Gemini.ResetTimezone, "GEMINI_QUOTA_RESET_TIMEZONE")
	c.Gemini.ResetTime = stringFromEnv(c.Gemini.ResetTime, "GEMINI_QUOTA_RESET_TIME")
	c.Gemini.DailyLimit = intFromEnv(c.Gemini.DailyLimit, "GEMINI_DAILY_LIMIT")
	c.Gemini.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gemini.BaseURL), "/")
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = defaultGeminiBaseURL
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultGeminiModel
	}
	if c.Gemini.ResetTimezone == "" {
		c.Gemini.ResetTimezone = defaultQuotaResetTimezone
	}
	if c.Gemini.ResetTime == "" {
		c.Gemini.ResetTime = defaultQuotaResetTime
	}
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = stringFromEnv(c.Redis.Addr, "REDIS_ADDR")
	c.Redis.Password = stringFromEnv(c.Redis.Password, "REDIS_PASSWORD")
	c.Redis.DB = intFromEnv(c.Redis.DB, "REDIS_DB")
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
}

func (c *Config) normalizeAnalysis() error {
	c.Analysis.Python = stringFromEnv(c.Analysis.Python, "PYTHON_COMMAND")
	c.Analysis.FFmpeg = stringFromEnv(c.Analysis.FFmpeg, "FFMPEG_PATH")
	if c.Analysis.Python == "" {
		c.Analysis.Python = defaultPython
	}
	if c.Analysis.FFmpeg == "" {
		c.Analysis.FFmpeg = defaultFFmpeg
	}
	c.Analysis.Bitrate = strings.TrimSpace(c.Analysis.Bitrate)
	if c.Analysis.Bitrate == "" {
		c.Analysis.Bitrate = defaultBitrate
	}
	c.Analysis.Script = strings.TrimSpace(c.Analysis.Script)
	if c.Analysis.Script == "" {
		c.Analysis.Script = defaultAnalysisScript
	}
	var err error
	if c.Analysis.Script, err = expandPath(c.Analysis.Script); err != nil {
		return fmt.Errorf("analysis.script: %w", err)
	}
	return nil
}

func (c *Config) normalizeHTTP() {
	c.HTTP.Strategy = strings.ToLower(strings.TrimSpace(c.HTTP.Strategy))
	if c.HTTP.Strategy == "" {
		c.HTTP.Strategy = defaultHTTPStrategy
	}
	c.HTTP.CurlBinary = strings.TrimSpace(c.HTTP.CurlBinary)
	if c.HTTP.CurlBinary == "" {
		c.HTTP.CurlBinary = defaultCurlBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(stringFromEnv(c.Logging.Level, "LOG_LEVEL"))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// stringFromEnv returns the trimmed value, falling back to the named
// environment variable when the value is blank.
func stringFromEnv(value, key string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}

// intFromEnv lets a parseable environment variable override numeric settings.
func intFromEnv(value int, key string) int {
	env, ok := os.LookupEnv(key)
	if !ok {
		return value
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(env))
	if err != nil {
		return value
	}
	return parsed
}
