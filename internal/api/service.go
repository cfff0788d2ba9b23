package api

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"tsumugi/internal/aicache"
	"tsumugi/internal/batch"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/enrich"
	"tsumugi/internal/logging"
	"tsumugi/internal/notifications"
	"tsumugi/internal/services"
)

// Service is the operational facade over the enrichment engine, batch runner,
// catalog, and response cache.
type Service struct {
	cfg      *config.Config
	store    *catalog.Store
	engine   *enrich.Engine
	runner   *batch.Runner
	cache    *aicache.Cache
	invoker  enrich.Invoker
	notifier notifications.Service
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*batch.Job
}

// NewService wires the facade from configuration. The store stays owned by
// the caller.
func NewService(cfg *config.Config, store *catalog.Store, logger *slog.Logger) (*Service, error) {
	invoker, err := enrich.NewInvoker(cfg)
	if err != nil {
		return nil, err
	}
	var cache *aicache.Cache
	if cfg.Cache.Enabled {
		cache = aicache.New(cfg.Cache.Path, logger, aicache.WithTTLResolver(cfg.CacheTTL))
	}
	return NewServiceWithDependencies(cfg, store, logger, invoker, cache, notifications.NewService(cfg)), nil
}

// NewServiceWithDependencies wires the facade from explicit collaborators.
// A nil cache disables response reuse and makes cache operations report a
// configuration error.
func NewServiceWithDependencies(cfg *config.Config, store *catalog.Store, logger *slog.Logger, invoker enrich.Invoker, cache *aicache.Cache, notifier notifications.Service) *Service {
	var engineCache enrich.Cache
	if cache != nil {
		engineCache = cache
	}
	engine := enrich.NewEngineWithDependencies(cfg, store, logger, invoker, engineCache, notifier)
	return &Service{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		runner:   batch.NewRunnerWithNotifier(engine, logger, notifier),
		cache:    cache,
		invoker:  invoker,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "api"),
		jobs:     make(map[string]*batch.Job),
	}
}

// EnrichOne runs the enrichment state machine for one character.
func (s *Service) EnrichOne(ctx context.Context, req EnrichRequest) (*EnrichmentOutcome, error) {
	category, err := enrich.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	outcome, err := s.engine.EnrichOne(ctx, req.CharacterID, enrich.Options{
		Category:   category,
		Force:      req.Force,
		Protection: req.Protection,
	})
	if err != nil {
		return nil, err
	}
	dto := FromOutcome(outcome)
	return &dto, nil
}

// EnrichBatch resolves the request worklist and runs it to completion.
func (s *Service) EnrichBatch(ctx context.Context, req BatchRequest) (*BatchSummary, error) {
	worklist, opts, err := s.prepareBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	summary, err := s.runner.Run(ctx, worklist, opts)
	if err != nil {
		return nil, err
	}
	dto := FromSummary(summary)
	return &dto, nil
}

// StartBatch launches a batch in the background and registers the job for
// polling. The returned snapshot carries the job id.
func (s *Service) StartBatch(ctx context.Context, req BatchRequest) (*BatchProgress, error) {
	worklist, opts, err := s.prepareBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := s.runner.Start(ctx, worklist, opts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.jobs[job.ID()] = job
	s.mu.Unlock()
	dto := FromJob(job)
	return &dto, nil
}

func (s *Service) prepareBatch(ctx context.Context, req BatchRequest) ([]int64, batch.Options, error) {
	category, err := enrich.ParseCategory(req.Category)
	if err != nil {
		return nil, batch.Options{}, err
	}
	worklist, err := s.resolveWorklist(ctx, req)
	if err != nil {
		return nil, batch.Options{}, err
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Batch.Concurrency
	}
	return worklist, batch.Options{
		Category:    category,
		Force:       req.Force,
		Concurrency: concurrency,
	}, nil
}

// resolveWorklist prefers an explicit id list. Otherwise it selects by record
// status, defaulting to pending plus failed so reruns pick up earlier
// failures without touching successful records.
func (s *Service) resolveWorklist(ctx context.Context, req BatchRequest) ([]int64, error) {
	if len(req.CharacterIDs) > 0 {
		return req.CharacterIDs, nil
	}
	statuses, err := parseStatuses(req.Statuses)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = []catalog.Status{catalog.StatusPending, catalog.StatusFailed}
	}
	worklist, err := s.store.CharacterIDsByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	if len(worklist) == 0 {
		return nil, services.Wrap(
			services.ErrValidation,
			"api",
			"resolve worklist",
			"no characters match the requested statuses",
			nil,
		)
	}
	return worklist, nil
}

// Job returns the progress snapshot for a registered batch job.
func (s *Service) Job(jobID string) (*BatchProgress, error) {
	job, err := s.lookupJob(jobID)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Jobs lists registered jobs, newest first.
func (s *Service) Jobs() []BatchProgress {
	s.mu.Lock()
	jobs := make([]*batch.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *batch.Job) int {
		return b.StartedAt().Compare(a.StartedAt())
	})
	out := make([]BatchProgress, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// JobSummary returns the terminal report for a finished job.
func (s *Service) JobSummary(jobID string) (*BatchSummary, error) {
	job, err := s.lookupJob(jobID)
	if err != nil {
		return nil, err
	}
	summary, ok := job.Summary()
	if !ok {
		return nil, services.Wrap(
			services.ErrConflict,
			"api",
			"job summary",
			fmt.Sprintf("job %s is still running", jobID),
			nil,
		)
	}
	dto := FromSummary(summary)
	return &dto, nil
}

// WaitJob blocks until the job finishes or ctx expires.
func (s *Service) WaitJob(ctx context.Context, jobID string) (*BatchSummary, error) {
	job, err := s.lookupJob(jobID)
	if err != nil {
		return nil, err
	}
	summary, err := job.Wait(ctx)
	if err != nil {
		return nil, err
	}
	dto := FromSummary(summary)
	return &dto, nil
}

// CancelJob requests cooperative cancellation. In-flight characters finish
// their current attempt before the job settles.
func (s *Service) CancelJob(jobID string) error {
	job, err := s.lookupJob(jobID)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

func (s *Service) lookupJob(jobID string) (*batch.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, services.Wrap(
			services.ErrNotFound,
			"api",
			"lookup job",
			fmt.Sprintf("unknown job %s", jobID),
			nil,
		)
	}
	return job, nil
}

// CacheStats reports cache size and composition. A disabled cache reports
// zeroes with Enabled false.
func (s *Service) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return FromCacheStats(s.cache.Stats(), true)
}

// InvalidateCharacter evicts the cached result for one character and
// category, using the same key derivation the engine caches under.
func (s *Service) InvalidateCharacter(ctx context.Context, characterID int64, category string) (bool, error) {
	if s.cache == nil {
		return false, errCacheDisabled("invalidate entry")
	}
	parsed, err := enrich.ParseCategory(category)
	if err != nil {
		return false, err
	}
	character, err := s.getCharacter(ctx, characterID)
	if err != nil {
		return false, err
	}
	return s.cache.Invalidate(enrich.CacheKey(parsed, character))
}

// InvalidateCategory evicts every cached result for one category.
func (s *Service) InvalidateCategory(category string) (int, error) {
	if s.cache == nil {
		return 0, errCacheDisabled("invalidate category")
	}
	parsed, err := enrich.ParseCategory(category)
	if err != nil {
		return 0, err
	}
	return s.cache.InvalidateCategory(parsed.String())
}

// SweepExpiredCache drops entries past their TTL.
func (s *Service) SweepExpiredCache() (int, error) {
	if s.cache == nil {
		return 0, errCacheDisabled("sweep expired")
	}
	return s.cache.SweepExpired()
}

// ClearCache drops every cached entry and reports how many were removed.
func (s *Service) ClearCache() (int, error) {
	if s.cache == nil {
		return 0, errCacheDisabled("clear cache")
	}
	count := s.cache.Count()
	if err := s.cache.Clear(); err != nil {
		return 0, err
	}
	return count, nil
}

func errCacheDisabled(operation string) error {
	return services.Wrap(
		services.ErrConfiguration,
		"api",
		operation,
		"response cache is disabled in configuration",
		nil,
	)
}

// ListCharacters returns catalog entries, optionally filtered by record
// status.
func (s *Service) ListCharacters(ctx context.Context, statuses ...string) ([]CharacterSummary, error) {
	parsed, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, parsed...)
	if err != nil {
		return nil, err
	}
	out := make([]CharacterSummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromCharacter(&entry.Character, entry.Record))
	}
	return out, nil
}

// DescribeCharacter returns the full record for one character.
func (s *Service) DescribeCharacter(ctx context.Context, characterID int64) (*CharacterRecord, error) {
	character, err := s.getCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetRecord(ctx, characterID)
	if err != nil {
		return nil, err
	}
	dto := FromRecord(character, record)
	return &dto, nil
}

// AddCharacter inserts a catalog entry with a pending enrichment record.
func (s *Service) AddCharacter(ctx context.Context, name, series, description string) (*CharacterSummary, error) {
	character, err := s.store.AddCharacter(ctx, name, series, description)
	if err != nil {
		return nil, err
	}
	record, err := s.store.EnsureRecord(ctx, character.ID)
	if err != nil {
		return nil, err
	}
	dto := FromCharacter(character, record)
	return &dto, nil
}

// ImportCharacters bulk-loads catalog entries, skipping duplicates. It
// reports how many were added and how many already existed.
func (s *Service) ImportCharacters(ctx context.Context, entries []catalog.CharacterImport) (int, int, error) {
	return s.store.ImportCharacters(ctx, entries)
}

// SetProtection marks or clears curator protection for one character.
func (s *Service) SetProtection(ctx context.Context, characterID int64, protected bool) (*CharacterRecord, error) {
	character, err := s.getCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	record, err := s.store.SetProtected(ctx, characterID, protected)
	if err != nil {
		return nil, err
	}
	dto := FromRecord(character, record)
	return &dto, nil
}

// RemoveCharacter deletes a character together with its record and cached
// results.
func (s *Service) RemoveCharacter(ctx context.Context, characterID int64) error {
	character, err := s.getCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	removed, err := s.store.RemoveCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	if !removed {
		return services.Wrap(
			services.ErrNotFound,
			"api",
			"remove character",
			fmt.Sprintf("character %d not found", characterID),
			nil,
		)
	}
	if s.cache == nil {
		return nil
	}
	for _, category := range enrich.AllCategories() {
		if _, err := s.cache.Invalidate(enrich.CacheKey(category, character)); err != nil {
			s.logger.Warn("cache eviction after removal failed",
				logging.Int64(logging.FieldEntityID, characterID),
				logging.String(logging.FieldCategory, category.String()),
				logging.Error(err))
		}
	}
	return nil
}

// RetryFailed resets failed records to pending. With no ids every failed
// record resets.
func (s *Service) RetryFailed(ctx context.Context, characterIDs ...int64) (int64, error) {
	return s.store.RetryFailed(ctx, characterIDs...)
}

// Status aggregates catalog counts, provider identity, and cache state.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	summary, err := s.store.Summarize(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		DatabasePath: s.store.Path(),
		Provider:     s.cfg.GetAI().Provider,
		Model:        s.invoker.Model(),
		Characters:   summary.Characters,
		Records: RecordStats{
			Total:     summary.Records,
			Pending:   summary.Pending,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
			Protected: summary.Protected,
		},
		Cache: s.CacheStats(),
	}, nil
}

// SendTestNotification publishes a test event through the configured sink.
func (s *Service) SendTestNotification(ctx context.Context) error {
	return s.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{})
}

func (s *Service) getCharacter(ctx context.Context, characterID int64) (*catalog.Character, error) {
	character, err := s.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, services.Wrap(
			services.ErrNotFound,
			"api",
			"lookup character",
			fmt.Sprintf("character %d not found", characterID),
			nil,
		)
	}
	return character, nil
}

func parseStatuses(raw []string) ([]catalog.Status, error) {
	statuses := make([]catalog.Status, 0, len(raw))
	for _, value := range raw {
		status, ok := catalog.ParseStatus(value)
		if !ok {
			return nil, services.Wrap(
				services.ErrValidation,
				"api",
				"parse status",
				fmt.Sprintf("unknown status %q", value),
				nil,
			)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
