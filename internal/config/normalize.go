package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeAI(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeEnrichment()
	c.normalizeBatch()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeAI() error {
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		c.AI.Provider = defaultAIProvider
	}
	c.AI.APIKey = strings.TrimSpace(c.AI.APIKey)
	if c.AI.APIKey == "" {
		switch c.AI.Provider {
		case "claude":
			if value, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
				c.AI.APIKey = strings.TrimSpace(value)
			}
		default:
			if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
				c.AI.APIKey = strings.TrimSpace(value)
			}
		}
	}
	c.AI.BaseURL = strings.TrimSpace(c.AI.BaseURL)
	if c.AI.BaseURL == "" && c.AI.Provider == "openrouter" {
		c.AI.BaseURL = defaultAIBaseURL
	}
	c.AI.Model = strings.TrimSpace(c.AI.Model)
	if c.AI.Model == "" {
		switch c.AI.Provider {
		case "claude":
			c.AI.Model = defaultClaudeModel
		case "openrouter":
			c.AI.Model = defaultAIModel
		}
	}
	c.AI.Referer = strings.TrimSpace(c.AI.Referer)
	c.AI.Title = strings.TrimSpace(c.AI.Title)
	if c.AI.Title == "" {
		c.AI.Title = defaultAITitle
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = defaultAITimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if c.Cache.DefaultTTLDays <= 0 {
		c.Cache.DefaultTTLDays = defaultCacheTTLDays
	}
	if len(c.Cache.CategoryTTL) > 0 {
		cleaned := make(map[string]int, len(c.Cache.CategoryTTL))
		for category, days := range c.Cache.CategoryTTL {
			name := strings.TrimSpace(category)
			if name == "" || days <= 0 {
				continue
			}
			cleaned[name] = days
		}
		c.Cache.CategoryTTL = cleaned
	}
	return nil
}

func (c *Config) normalizeEnrichment() {
	if c.Enrichment.MaxAttempts <= 0 {
		c.Enrichment.MaxAttempts = defaultMaxAttempts
	}
	if c.Enrichment.RetryBaseSeconds <= 0 {
		c.Enrichment.RetryBaseSeconds = defaultRetryBaseSeconds
	}
	if c.Enrichment.RetryMaxSeconds <= 0 {
		c.Enrichment.RetryMaxSeconds = defaultRetryMaxSeconds
	}
	if c.Enrichment.RetryMaxSeconds < c.Enrichment.RetryBaseSeconds {
		c.Enrichment.RetryMaxSeconds = c.Enrichment.RetryBaseSeconds
	}
	if c.Enrichment.SaveConflictRetries <= 0 {
		c.Enrichment.SaveConflictRetries = defaultSaveConflictRetries
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = defaultBatchConcurrency
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
