package aicache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tsumugi/internal/logging"
)

// DefaultTTL is the entry lifetime applied when no resolver override exists.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached enrichment result keyed by a deterministic composite key.
type Entry struct {
	Key       string          `json:"key"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Stats describes current cache contents. ExpiredCount counts rows that are
// past expiry but not yet swept; they behave as misses on lookup.
type Stats struct {
	TotalEntries     int            `json:"total_entries"`
	PerCategory      map[string]int `json:"per_category"`
	ExpiredCount     int            `json:"expired_count"`
	ApproximateBytes int64          `json:"approximate_bytes"`
}

// Cache provides thread-safe access to cached enrichment payloads with lazy
// TTL expiration. With an empty path the cache runs memory-only; otherwise it
// persists to a JSON file on every mutation.
type Cache struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
	ttl     func(category string) time.Duration
}

// Option customizes cache construction.
type Option func(*Cache)

// WithClock overrides the time source. Tests use this to cross TTL boundaries
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTTLResolver overrides the per-category TTL lookup.
func WithTTLResolver(resolver func(category string) time.Duration) Option {
	return func(c *Cache) {
		if resolver != nil {
			c.ttl = resolver
		}
	}
}

// New creates a cache instance. If path is empty the cache is memory-only.
// The cache file is created lazily on first Put.
func New(path string, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "aicache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
		now:     time.Now,
		ttl:     func(string) time.Duration { return DefaultTTL },
	}
	for _, opt := range opts {
		opt(c)
	}

	if path == "" {
		return c
	}

	if err := c.load(); err != nil {
		logger.Warn("failed to load enrichment cache",
			logging.String(logging.FieldEventType, "aicache_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"),
			logging.String(logging.FieldImpact, "previously cached enrichments will be recomputed"))
	}

	return c
}

// Get returns the payload for key. Entries at or past their expiry behave as
// misses even while the row still exists; the stale row is dropped in passing.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()
	if !found {
		return nil, false
	}
	if !c.isExpired(entry, c.now()) {
		return entry.Payload, true
	}

	c.mu.Lock()
	if current, ok := c.entries[key]; ok && c.isExpired(current, c.now()) {
		delete(c.entries, key)
		if err := c.save(); err != nil {
			c.logger.Warn("failed to persist lazy expiry",
				logging.String(logging.FieldEventType, "aicache_persist_failed"),
				logging.String(logging.FieldCacheKey, key),
				logging.Error(err))
		}
	}
	c.mu.Unlock()
	return nil, false
}

// Put stores payload under key, wholesale replacing any existing entry. The
// expiry is computed from the category TTL at write time.
func (c *Cache) Put(key, category string, payload json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key cannot be empty")
	}
	category = strings.TrimSpace(category)

	now := c.now()
	entry := Entry{
		Key:       key,
		Category:  category,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl(category)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry

	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("cached enrichment payload",
		logging.String(logging.FieldCacheKey, key),
		logging.String(logging.FieldCategory, category),
		logging.Int("payload_bytes", len(entry.Payload)))

	return nil
}

// Invalidate removes the entry for key. Returns true when an entry was removed.
func (c *Cache) Invalidate(key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("cache key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		return false, nil
	}
	delete(c.entries, key)

	if err := c.save(); err != nil {
		return true, fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("invalidated cache entry", logging.String(logging.FieldCacheKey, key))
	return true, nil
}

// InvalidateCategory removes every entry tagged with category and reports how
// many were dropped.
func (c *Cache) InvalidateCategory(category string) (int, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return 0, errors.New("category cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.Category == category {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := c.save(); err != nil {
		return removed, fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("invalidated cache category",
		logging.String(logging.FieldCategory, category),
		logging.Int("removed", removed))
	return removed, nil
}

// SweepExpired removes all entries at or past expiry and reports the count.
// Safe to call concurrently and repeatedly; live entries are never touched.
func (c *Cache) SweepExpired() (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.isExpired(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := c.save(); err != nil {
		return removed, fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("swept expired cache entries", logging.Int("removed", removed))
	return removed, nil
}

// Stats computes aggregate counts without blocking concurrent readers.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalEntries: len(c.entries),
		PerCategory:  make(map[string]int),
	}
	for _, entry := range c.entries {
		stats.PerCategory[entry.Category]++
		stats.ApproximateBytes += int64(len(entry.Payload))
		if c.isExpired(entry, now) {
			stats.ExpiredCount++
		}
	}
	return stats
}

// List returns all entries sorted by CreatedAt descending (newest first).
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	return entries
}

// Clear removes all entries and persists the empty cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)

	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("cleared enrichment cache")
	return nil
}

// Count returns the number of entries currently held, expired rows included.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache) isExpired(entry Entry, now time.Time) bool {
	return !now.Before(entry.ExpiresAt)
}

// load reads the cache from disk into memory.
func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // fresh start
		}
		return fmt.Errorf("read cache file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Key) != "" {
			c.entries[entry.Key] = entry
		}
	}

	c.logger.Debug("loaded enrichment cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))

	return nil
}

// save writes the cache to disk atomically. Memory-only caches skip disk.
func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}

	// Sort for deterministic output
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath) // cleanup on failure
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
