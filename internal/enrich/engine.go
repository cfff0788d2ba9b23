package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tsumugi/internal/aicache"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/logging"
	"tsumugi/internal/notifications"
	"tsumugi/internal/retry"
	"tsumugi/internal/services"
)

// RecordStore is the narrow persistence surface the engine consumes.
type RecordStore interface {
	GetCharacter(ctx context.Context, id int64) (*catalog.Character, error)
	EnsureRecord(ctx context.Context, characterID int64) (*catalog.EnrichmentRecord, error)
	GetRecord(ctx context.Context, characterID int64) (*catalog.EnrichmentRecord, error)
	SaveRecord(ctx context.Context, record *catalog.EnrichmentRecord) error
}

// Cache is the subset of cache functionality the engine consumes. A nil cache
// disables result reuse entirely.
type Cache interface {
	Get(key string) (json.RawMessage, bool)
	Put(key, category string, payload json.RawMessage) error
	Invalidate(key string) (bool, error)
}

// Options controls a single enrichment request.
type Options struct {
	// Category selects the analysis; empty selects DefaultCategory.
	Category Category
	// Force re-runs enrichment even when the record already succeeded and
	// bypasses the cache read. The cache entry is overwritten on success.
	Force bool
	// Protection carries an explicit curator decision applied with the write.
	// Forcing past a protected record requires one.
	Protection *bool
}

// Disposition describes how an enrichment request concluded.
type Disposition string

const (
	// DispositionEnriched means new fields were persisted.
	DispositionEnriched Disposition = "enriched"
	// DispositionUnchanged means an already-successful record was returned
	// without touching it.
	DispositionUnchanged Disposition = "unchanged"
	// DispositionSkipped means no model call was warranted.
	DispositionSkipped Disposition = "skipped"
	// DispositionFailed means the attempt ended in a recorded failure.
	DispositionFailed Disposition = "failed"
)

// Outcome reports the terminal state of one enrichment request.
type Outcome struct {
	Character   *catalog.Character
	Record      *catalog.EnrichmentRecord
	Category    Category
	Disposition Disposition
	Reason      string
	FromCache   bool
	AICalls     int
}

// Engine drives the per-character enrichment state machine: protection gate,
// idempotence short-circuit, cache consult, model invocation under the retry
// policy, and the persist-before-success write.
type Engine struct {
	cfg         *config.Config
	store       RecordStore
	cache       Cache
	invoker     Invoker
	notifier    notifications.Service
	logger      *slog.Logger
	policy      retry.Policy
	saveRetries int
	now         func() time.Time
}

// NewEngine builds an engine with the provider client and cache described by
// configuration.
func NewEngine(cfg *config.Config, store *catalog.Store, logger *slog.Logger) (*Engine, error) {
	invoker, err := NewInvoker(cfg)
	if err != nil {
		return nil, err
	}
	var cache Cache
	if cfg.Cache.Enabled {
		cache = aicache.New(cfg.Cache.Path, logger, aicache.WithTTLResolver(cfg.CacheTTL))
	}
	return NewEngineWithDependencies(cfg, store, logger, invoker, cache, notifications.NewService(cfg)), nil
}

// NewEngineWithDependencies allows injecting the invoker, cache, and notifier
// (used in tests).
func NewEngineWithDependencies(cfg *config.Config, store RecordStore, logger *slog.Logger, invoker Invoker, cache Cache, notifier notifications.Service) *Engine {
	policy := retry.Policy{
		MaxAttempts: cfg.Enrichment.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = retry.DefaultMaxAttempts
	}
	saveRetries := cfg.Enrichment.SaveConflictRetries
	if saveRetries <= 0 {
		saveRetries = 3
	}
	return &Engine{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		invoker:     invoker,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(logger, "enrich"),
		policy:      policy,
		saveRetries: saveRetries,
		now:         time.Now,
	}
}

// ModelName reports the provider model the engine invokes.
func (e *Engine) ModelName() string {
	if e.invoker == nil {
		return ""
	}
	return e.invoker.Model()
}

// EnrichOne runs the state machine for a single character. Validation
// failures, unknown characters, and protected records forced without a
// decision are returned as errors; attempts that ran to a terminal state are
// reported through the outcome, including recorded failures.
func (e *Engine) EnrichOne(ctx context.Context, characterID int64, opts Options) (*Outcome, error) {
	category, err := normalizeCategory(opts.Category)
	if err != nil {
		return nil, err
	}
	opts.Category = category

	ctx = services.WithEntityID(ctx, characterID)
	ctx = services.WithCategory(ctx, category.String())
	logger := logging.WithContext(ctx, e.logger)

	character, err := e.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, services.Wrap(
			services.ErrNotFound,
			"enrich",
			"load character",
			fmt.Sprintf("character %d not found", characterID),
			nil,
		)
	}

	record, err := e.store.EnsureRecord(ctx, characterID)
	if err != nil {
		return nil, err
	}

	// Curator protection is decided before the record is touched.
	if record.Protected {
		if !opts.Force {
			logger.Info("skipping protected record", logging.String(logging.FieldEntityName, character.Name))
			return &Outcome{
				Character:   character,
				Record:      record,
				Category:    category,
				Disposition: DispositionSkipped,
				Reason:      "record is curator protected",
			}, nil
		}
		if opts.Protection == nil {
			return nil, services.Wrap(
				services.ErrProtectedRecord,
				"enrich",
				"force enrich",
				fmt.Sprintf("record for %q is protected; pass an explicit protection decision to overwrite", character.Name),
				nil,
			)
		}
	}

	if !opts.Force && record.Status == catalog.StatusSuccess {
		return &Outcome{
			Character:   character,
			Record:      record,
			Category:    category,
			Disposition: DispositionUnchanged,
			Reason:      "record already enriched",
		}, nil
	}

	if !character.HasContext() {
		return e.finishSkip(ctx, character, record, category, opts, "missing required context: character name is blank")
	}

	// The attempt becomes durable before the model is consulted so attempt
	// accounting survives a crash mid-call.
	now := e.now().UTC()
	enterPending := func(r *catalog.EnrichmentRecord) {
		r.Status = catalog.StatusPending
		r.Attempts++
		at := now
		r.LastAttemptAt = &at
	}
	enterPending(record)
	record, err = e.persistTransition(ctx, record, opts, enterPending)
	if err != nil {
		return nil, err
	}

	key := CacheKey(category, character)
	if e.cache != nil && !opts.Force {
		if payload, ok := e.cache.Get(key); ok {
			fields, _, decodeErr := decodeResult(category, string(payload))
			if decodeErr == nil {
				logger.Info("using cached enrichment", logging.String(logging.FieldCacheKey, key))
				return e.finishSuccess(ctx, character, record, category, opts, fields, outcomeMeta{fromCache: true})
			}
			logger.Warn("dropping undecodable cache entry",
				logging.String(logging.FieldCacheKey, key),
				logging.Error(decodeErr))
			if _, invErr := e.cache.Invalidate(key); invErr != nil {
				logger.Warn("cache invalidation failed", logging.Error(invErr))
			}
		}
	}

	policy := e.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("retrying model invocation",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.String("classification", string(services.Classify(err))),
			logging.Error(err))
	}

	var (
		payload string
		aiCalls int
	)
	invokeErr := policy.Do(ctx, "enrich "+category.String(), func(ctx context.Context, attempt int) error {
		aiCalls++
		raw, err := e.invoker.CompleteJSON(ctx, systemPrompt(category), buildUserPrompt(character))
		if err != nil {
			return err
		}
		payload = raw
		return nil
	})
	if invokeErr != nil {
		return e.finishFailure(ctx, character, record, category, opts, invokeErr, aiCalls)
	}

	fields, canonical, decodeErr := decodeResult(category, payload)
	if decodeErr != nil {
		return e.finishFailure(ctx, character, record, category, opts, decodeErr, aiCalls)
	}
	if e.cache != nil {
		if err := e.cache.Put(key, category.String(), canonical); err != nil {
			logger.Warn("cache write failed",
				logging.String(logging.FieldCacheKey, key),
				logging.Error(err))
		}
	}
	return e.finishSuccess(ctx, character, record, category, opts, fields, outcomeMeta{aiCalls: aiCalls})
}

type outcomeMeta struct {
	fromCache bool
	aiCalls   int
}

func (e *Engine) finishSuccess(ctx context.Context, character *catalog.Character, record *catalog.EnrichmentRecord, category Category, opts Options, fields catalog.EnrichmentFields, meta outcomeMeta) (*Outcome, error) {
	logger := logging.WithContext(ctx, e.logger)
	now := e.now().UTC()
	apply := func(r *catalog.EnrichmentRecord) {
		r.Fields.MergeFrom(fields)
		r.Status = catalog.StatusSuccess
		r.LastError = ""
		at := now
		r.LastSuccessAt = &at
		if opts.Protection != nil {
			r.Protected = *opts.Protection
		}
	}
	apply(record)
	saved, err := e.persistTransition(ctx, record, opts, apply)
	if err != nil {
		// The model produced a result but it never became durable; the record
		// must not claim success without a completed write.
		logger.Error("save after successful enrichment failed", logging.Error(err))
		return e.finishFailure(ctx, character, record, category, opts, err, meta.aiCalls)
	}
	logger.Info("enrichment persisted",
		logging.String(logging.FieldEntityName, character.Name),
		logging.Int(logging.FieldAttempt, saved.Attempts),
		logging.Bool("from_cache", meta.fromCache))
	return &Outcome{
		Character:   character,
		Record:      saved,
		Category:    category,
		Disposition: DispositionEnriched,
		FromCache:   meta.fromCache,
		AICalls:     meta.aiCalls,
	}, nil
}

func (e *Engine) finishFailure(ctx context.Context, character *catalog.Character, record *catalog.EnrichmentRecord, category Category, opts Options, cause error, aiCalls int) (*Outcome, error) {
	logger := logging.WithContext(ctx, e.logger)
	reason := fmt.Sprintf("%s: %s", services.Classify(cause), cause.Error())
	apply := func(r *catalog.EnrichmentRecord) {
		r.Status = catalog.StatusFailed
		r.LastError = reason
	}
	apply(record)
	saved, err := e.persistTransition(ctx, record, opts, apply)
	if err != nil {
		logger.Error("recording enrichment failure failed",
			logging.Error(err),
			logging.String("cause", cause.Error()))
		return nil, err
	}
	logger.Error("enrichment failed",
		logging.String(logging.FieldEntityName, character.Name),
		logging.Int(logging.FieldAttempt, saved.Attempts),
		logging.String("classification", string(services.Classify(cause))),
		logging.Error(cause))
	e.notifyFailure(ctx, character, reason)
	return &Outcome{
		Character:   character,
		Record:      saved,
		Category:    category,
		Disposition: DispositionFailed,
		Reason:      reason,
		AICalls:     aiCalls,
	}, nil
}

func (e *Engine) finishSkip(ctx context.Context, character *catalog.Character, record *catalog.EnrichmentRecord, category Category, opts Options, reason string) (*Outcome, error) {
	now := e.now().UTC()
	apply := func(r *catalog.EnrichmentRecord) {
		r.Status = catalog.StatusSkipped
		r.Attempts++
		at := now
		r.LastAttemptAt = &at
		r.LastError = reason
	}
	apply(record)
	saved, err := e.persistTransition(ctx, record, opts, apply)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, e.logger).Info("enrichment skipped",
		logging.String(logging.FieldEntityName, character.Name),
		logging.String("reason", reason))
	return &Outcome{
		Character:   character,
		Record:      saved,
		Category:    category,
		Disposition: DispositionSkipped,
		Reason:      reason,
	}, nil
}

// persistTransition saves the record, reloading and reapplying the mutation a
// bounded number of times when a concurrent writer bumped the revision.
func (e *Engine) persistTransition(ctx context.Context, record *catalog.EnrichmentRecord, opts Options, apply func(*catalog.EnrichmentRecord)) (*catalog.EnrichmentRecord, error) {
	allowProtected := opts.Force && opts.Protection != nil
	for attempt := 0; ; attempt++ {
		err := e.store.SaveRecord(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, services.ErrConflict) || attempt >= e.saveRetries {
			return nil, err
		}
		fresh, loadErr := e.store.GetRecord(ctx, record.CharacterID)
		if loadErr != nil {
			return nil, loadErr
		}
		if fresh == nil {
			return nil, services.Wrap(
				services.ErrNotFound,
				"enrich",
				"reload record",
				fmt.Sprintf("record for character %d disappeared during save", record.CharacterID),
				nil,
			)
		}
		if fresh.Protected && !allowProtected {
			return nil, services.Wrap(
				services.ErrProtectedRecord,
				"enrich",
				"save record",
				fmt.Sprintf("record for character %d became protected during enrichment", record.CharacterID),
				nil,
			)
		}
		apply(fresh)
		record = fresh
	}
}

func (e *Engine) notifyFailure(ctx context.Context, character *catalog.Character, reason string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, notifications.EventEnrichmentFailed, notifications.Payload{
		"character": character.Name,
		"error":     reason,
	}); err != nil {
		logging.WithContext(ctx, e.logger).Warn("failure notification failed", logging.Error(err))
	}
}

// CacheKey derives the content address for one category and character
// identity. Administrative invalidation uses the same derivation so a
// character edit can evict exactly its entries.
func CacheKey(category Category, character *catalog.Character) string {
	return aicache.Key(category.String(), "character", character.Name, character.Series)
}
