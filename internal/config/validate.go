package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAI() error {
	switch c.AI.Provider {
	case "openrouter", "claude":
	default:
		return fmt.Errorf("ai.provider must be %q or %q, got %q", "openrouter", "claude", c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tsumugi/config.toml"
		}
		envHint := "OPENROUTER_API_KEY"
		if c.AI.Provider == "claude" {
			envHint = "ANTHROPIC_API_KEY"
		}
		return fmt.Errorf("ai.api_key is required. Set %s env var or edit %s (create with 'tsumugi config init')", envHint, defaultPath)
	}
	if c.AI.Provider == "openrouter" && c.AI.BaseURL == "" {
		return errors.New("ai.base_url must be set for the openrouter provider")
	}
	if c.AI.Model == "" {
		return errors.New("ai.model must be set")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Enabled && c.Cache.Path == "" {
		return errors.New("cache.path must be set when cache.enabled is true")
	}
	if c.Cache.DefaultTTLDays <= 0 {
		return errors.New("cache.default_ttl_days must be positive")
	}
	for category, days := range c.Cache.CategoryTTL {
		if days <= 0 {
			return fmt.Errorf("cache.category_ttl_days[%q] must be positive", category)
		}
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	return ensurePositiveMap(map[string]int{
		"enrichment.max_attempts":          c.Enrichment.MaxAttempts,
		"enrichment.retry_base_seconds":    c.Enrichment.RetryBaseSeconds,
		"enrichment.retry_max_seconds":     c.Enrichment.RetryMaxSeconds,
		"enrichment.save_conflict_retries": c.Enrichment.SaveConflictRetries,
		"ai.timeout_seconds":               c.AI.TimeoutSeconds,
	})
}

func (c *Config) validateBatch() error {
	if c.Batch.Concurrency <= 0 {
		return errors.New("batch.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
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
