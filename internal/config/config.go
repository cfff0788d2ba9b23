package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// AI contains connection settings for the enrichment model provider.
type AI struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache contains configuration for the enrichment result cache.
type Cache struct {
	Enabled        bool           `toml:"enabled"`
	Path           string         `toml:"path"`
	DefaultTTLDays int            `toml:"default_ttl_days"`
	CategoryTTL    map[string]int `toml:"category_ttl_days"`
}

// Enrichment contains retry and persistence tuning for single-entity runs.
type Enrichment struct {
	MaxAttempts         int `toml:"max_attempts"`
	RetryBaseSeconds    int `toml:"retry_base_seconds"`
	RetryMaxSeconds     int `toml:"retry_max_seconds"`
	SaveConflictRetries int `toml:"save_conflict_retries"`
}

// Batch contains defaults for batch orchestration.
type Batch struct {
	Concurrency int `toml:"concurrency"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchEvents    bool   `toml:"batch_events"`
	ErrorEvents    bool   `toml:"error_events"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Tsumugi.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - AI: model provider connection settings
//   - Cache: enrichment result cache location and TTLs
//   - Enrichment: retry ceilings and backoff tuning
//   - Batch: default worker concurrency
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	AI            AI            `toml:"ai"`
	Cache         Cache         `toml:"cache"`
	Enrichment    Enrichment    `toml:"enrichment"`
	Batch         Batch         `toml:"batch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tsumugi/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
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

	defaultPath, err := expandPath("~/.config/tsumugi/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tsumugi.toml")
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

// EnsureDirectories creates the directories Tsumugi needs to operate.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(c.Cache.Path), 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", filepath.Dir(c.Cache.Path), err)
		}
	}
	return nil
}

// DatabasePath returns the location of the catalog database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "tsumugi.db")
}

// LockPath returns the location of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tsumugi.lock")
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
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// AIConfig contains resolved provider connection settings.
type AIConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetAI returns the provider connection settings with whitespace trimmed.
func (c *Config) GetAI() AIConfig {
	return AIConfig{
		Provider:       strings.ToLower(strings.TrimSpace(c.AI.Provider)),
		APIKey:         strings.TrimSpace(c.AI.APIKey),
		BaseURL:        strings.TrimSpace(c.AI.BaseURL),
		Model:          strings.TrimSpace(c.AI.Model),
		Referer:        strings.TrimSpace(c.AI.Referer),
		Title:          strings.TrimSpace(c.AI.Title),
		TimeoutSeconds: c.AI.TimeoutSeconds,
	}
}

// RequestTimeout returns the per-call deadline for provider invocations.
func (c *Config) RequestTimeout() time.Duration {
	seconds := c.AI.TimeoutSeconds
	if seconds <= 0 {
		seconds = defaultAITimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// CacheTTL returns the time-to-live for entries in the given category,
// falling back to the default TTL when no override is configured.
func (c *Config) CacheTTL(category string) time.Duration {
	days := c.Cache.DefaultTTLDays
	if override, ok := c.Cache.CategoryTTL[strings.TrimSpace(category)]; ok && override > 0 {
		days = override
	}
	if days <= 0 {
		days = defaultCacheTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// RetryBaseDelay returns the initial backoff delay between retryable attempts.
func (c *Config) RetryBaseDelay() time.Duration {
	seconds := c.Enrichment.RetryBaseSeconds
	if seconds <= 0 {
		seconds = defaultRetryBaseSeconds
	}
	return time.Duration(seconds) * time.Second
}

// RetryMaxDelay returns the backoff delay ceiling.
func (c *Config) RetryMaxDelay() time.Duration {
	seconds := c.Enrichment.RetryMaxSeconds
	if seconds <= 0 {
		seconds = defaultRetryMaxSeconds
	}
	return time.Duration(seconds) * time.Second
}
