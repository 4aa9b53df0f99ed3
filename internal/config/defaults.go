package config

const (
	defaultWorkDir                 = "~/.local/share/casiel/work"
	defaultLogDir                  = "~/.local/share/casiel/logs"
	defaultBrokerHost              = "localhost"
	defaultBrokerPort              = 5672
	defaultBrokerUser              = "guest"
	defaultBrokerPassword          = "guest"
	defaultBrokerVHost             = "/"
	defaultBrokerPrefetch          = 1
	defaultBrokerConsumers         = 1
	defaultRetryTTLSeconds         = 60
	defaultHealthIntervalSeconds   = 15
	defaultReconnectDelaySeconds   = 5
	defaultHeartbeatSeconds        = 60
	defaultContentTimeoutSeconds   = 90
	defaultDownloadTimeoutSeconds  = 300
	defaultBreakerFailures         = 5
	defaultBreakerCooldownSeconds  = 30
	defaultGeminiBaseURL           = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel             = "gemini-2.5-flash"
	defaultGeminiTimeoutSeconds    = 90
	defaultGeminiMaxAttempts       = 3
	defaultGeminiDailyLimit        = 1500
	defaultQuotaResetTimezone      = "America/Caracas"
	defaultQuotaResetTime          = "03:00"
	defaultRedisAddr               = "127.0.0.1:6379"
	defaultPython                  = "python3"
	defaultAnalysisScript          = "audio.py"
	defaultFFmpeg                  = "ffmpeg"
	defaultBitrate                 = "96k"
	defaultAnalyzeTimeoutSeconds   = 120
	defaultTranscodeTimeoutSeconds = 180
	defaultHTTPStrategy            = "auto"
	defaultCurlBinary              = "curl"
	defaultHTTPTimeoutSeconds      = 90
	defaultMaxRetries              = 3
	defaultLogFormat               = "auto"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Broker: Broker{
			Host:                  defaultBrokerHost,
			Port:                  defaultBrokerPort,
			User:                  defaultBrokerUser,
			Password:              defaultBrokerPassword,
			VHost:                 defaultBrokerVHost,
			Prefetch:              defaultBrokerPrefetch,
			Consumers:             defaultBrokerConsumers,
			RetryTTLSeconds:       defaultRetryTTLSeconds,
			HealthIntervalSeconds: defaultHealthIntervalSeconds,
			ReconnectDelaySeconds: defaultReconnectDelaySeconds,
			HeartbeatSeconds:      defaultHeartbeatSeconds,
		},
		ContentAPI: ContentAPI{
			TimeoutSeconds:         defaultContentTimeoutSeconds,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			BreakerFailures:        defaultBreakerFailures,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
		},
		Gemini: Gemini{
			Model:          defaultGeminiModel,
			BaseURL:        defaultGeminiBaseURL,
			TimeoutSeconds: defaultGeminiTimeoutSeconds,
			MaxAttempts:    defaultGeminiMaxAttempts,
			DailyLimit:     defaultGeminiDailyLimit,
			ResetTimezone:  defaultQuotaResetTimezone,
			ResetTime:      defaultQuotaResetTime,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Analysis: Analysis{
			Python:                  defaultPython,
			Script:                  defaultAnalysisScript,
			FFmpeg:                  defaultFFmpeg,
			Bitrate:                 defaultBitrate,
			AnalyzeTimeoutSeconds:   defaultAnalyzeTimeoutSeconds,
			TranscodeTimeoutSeconds: defaultTranscodeTimeoutSeconds,
		},
		HTTP: HTTP{
			Strategy:       defaultHTTPStrategy,
			CurlBinary:     defaultCurlBinary,
			TimeoutSeconds: defaultHTTPTimeoutSeconds,
		},
		Workflow: Workflow{
			MaxRetries: defaultMaxRetries,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
