package config

const (
	defaultDataDir             = "~/.local/share/tsumugi"
	defaultLogDir              = "~/.local/share/tsumugi/logs"
	defaultAPIBind             = "127.0.0.1:7810"
	defaultAIProvider          = "openrouter"
	defaultAIBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultAIModel             = "google/gemini-3-flash-preview"
	defaultClaudeModel         = "claude-haiku-4-5-20251001"
	defaultAITitle             = "Tsumugi Enrichment"
	defaultAITimeoutSeconds    = 60
	defaultCachePath           = "~/.cache/tsumugi/enrichment_cache.json"
	defaultCacheTTLDays        = 7
	defaultMaxAttempts         = 3
	defaultRetryBaseSeconds    = 2
	defaultRetryMaxSeconds     = 30
	defaultSaveConflictRetries = 3
	defaultBatchConcurrency    = 4
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		AI: AI{
			Provider:       defaultAIProvider,
			Model:          defaultAIModel,
			Title:          defaultAITitle,
			TimeoutSeconds: defaultAITimeoutSeconds,
		},
		Cache: Cache{
			Enabled:        true,
			Path:           defaultCachePath,
			DefaultTTLDays: defaultCacheTTLDays,
		},
		Enrichment: Enrichment{
			MaxAttempts:         defaultMaxAttempts,
			RetryBaseSeconds:    defaultRetryBaseSeconds,
			RetryMaxSeconds:     defaultRetryMaxSeconds,
			SaveConflictRetries: defaultSaveConflictRetries,
		},
		Batch: Batch{
			Concurrency: defaultBatchConcurrency,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			BatchEvents:    true,
			ErrorEvents:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
