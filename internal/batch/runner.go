package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tsumugi/internal/config"
	"tsumugi/internal/enrich"
	"tsumugi/internal/logging"
	"tsumugi/internal/notifications"
	"tsumugi/internal/services"
)

// Enricher is the per-character flow the runner drives. *enrich.Engine
// satisfies it.
type Enricher interface {
	EnrichOne(ctx context.Context, characterID int64, opts enrich.Options) (*enrich.Outcome, error)
}

// Options shapes one batch run.
type Options struct {
	// Category selects the analysis; empty selects the default category.
	Category enrich.Category
	// Force re-runs enrichment on already-successful records. Protected
	// records still refuse a batch force; overriding protection is a
	// per-character administrative action.
	Force bool
	// Concurrency is the worker pool size and must be positive.
	Concurrency int
}

// UnitOutcome records how a single worklist entry concluded.
type UnitOutcome struct {
	CharacterID int64              `json:"characterId"`
	Name        string             `json:"name,omitempty"`
	Disposition enrich.Disposition `json:"disposition"`
	Reason      string             `json:"reason,omitempty"`
	FromCache   bool               `json:"fromCache,omitempty"`
	AICalls     int                `json:"aiCalls,omitempty"`
}

// Summary is the immutable report of a terminal job.
type Summary struct {
	JobID        string        `json:"jobId"`
	Category     string        `json:"category"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	NotProcessed int           `json:"notProcessed"`
	FromCache    int           `json:"fromCache"`
	AICalls      int           `json:"aiCalls"`
	Outcomes     []UnitOutcome `json:"outcomes"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
}

// Duration reports wall-clock time from start to finish.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Runner coordinates worklist enrichment through a bounded worker pool.
type Runner struct {
	enricher Enricher
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner constructs a runner with the notification service described by
// configuration.
func NewRunner(cfg *config.Config, enricher Enricher, logger *slog.Logger) *Runner {
	return NewRunnerWithNotifier(enricher, logger, notifications.NewService(cfg))
}

// NewRunnerWithNotifier constructs a runner with a custom notifier (used in
// tests).
func NewRunnerWithNotifier(enricher Enricher, logger *slog.Logger, notifier notifications.Service) *Runner {
	return &Runner{
		enricher: enricher,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "batch"),
		now:      time.Now,
	}
}

// Run processes the worklist and blocks until every unit is terminal or the
// context is cancelled. Malformed requests are rejected before any unit
// starts.
func (r *Runner) Run(ctx context.Context, worklist []int64, opts Options) (*Summary, error) {
	job, err := r.Start(ctx, worklist, opts)
	if err != nil {
		return nil, err
	}
	return job.Wait(context.Background())
}

// Start validates the request, launches the worker pool, and returns a handle
// for polling progress.
func (r *Runner) Start(ctx context.Context, worklist []int64, opts Options) (*Job, error) {
	category, err := validateRequest(worklist, opts)
	if err != nil {
		return nil, err
	}
	opts.Category = category

	runCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		id:        uuid.NewString(),
		category:  category,
		total:     len(worklist),
		tracker:   newTracker(len(worklist)),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: r.now().UTC(),
	}

	go r.execute(runCtx, job, worklist, opts)
	return job, nil
}

func validateRequest(worklist []int64, opts Options) (enrich.Category, error) {
	if len(worklist) == 0 {
		return "", services.Wrap(
			services.ErrValidation,
			"batch",
			"validate request",
			"worklist is empty",
			nil,
		)
	}
	if opts.Concurrency <= 0 {
		return "", services.Wrap(
			services.ErrValidation,
			"batch",
			"validate request",
			fmt.Sprintf("concurrency must be positive, got %d", opts.Concurrency),
			nil,
		)
	}
	return enrich.ParseCategory(opts.Category.String())
}

type unit struct {
	index       int
	characterID int64
}

func (r *Runner) execute(ctx context.Context, job *Job, worklist []int64, opts Options) {
	defer job.cancel()

	ctx = services.WithJobID(ctx, job.id)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("batch started",
		logging.Int("worklist", len(worklist)),
		logging.Int("concurrency", opts.Concurrency),
		logging.String(logging.FieldCategory, opts.Category.String()))
	r.notifyStarted(ctx, len(worklist), opts.Category)

	outcomes := make([]UnitOutcome, len(worklist))
	units := make(chan unit)
	workers := opts.Concurrency
	if workers > len(worklist) {
		workers = len(worklist)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for u := range units {
				outcomes[u.index] = r.processUnit(ctx, job.tracker, u, opts)
			}
		}()
	}

	// The feeder is the single cancellation gate: once the context is done
	// no further unit is handed to a worker.
feed:
	for i, characterID := range worklist {
		select {
		case units <- unit{index: i, characterID: characterID}:
		case <-ctx.Done():
			break feed
		}
	}
	close(units)
	wg.Wait()

	progress := job.tracker.finalize()
	summary := &Summary{
		JobID:        job.id,
		Category:     opts.Category.String(),
		Total:        len(worklist),
		Succeeded:    progress.Succeeded,
		Failed:       progress.Failed,
		Skipped:      progress.Skipped,
		NotProcessed: progress.NotProcessed,
		Outcomes:     outcomes,
		StartedAt:    job.startedAt,
		FinishedAt:   r.now().UTC(),
	}
	for _, outcome := range outcomes {
		if outcome.FromCache {
			summary.FromCache++
		}
		summary.AICalls += outcome.AICalls
	}

	job.complete(summary)
	logger.Info("batch finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Int("not_processed", summary.NotProcessed),
		logging.Duration("duration", summary.Duration()))
	r.notifyCompleted(ctx, summary)
}

func (r *Runner) processUnit(ctx context.Context, tracker *tracker, u unit, opts Options) UnitOutcome {
	tracker.dequeue()
	logger := logging.WithContext(services.WithEntityID(ctx, u.characterID), r.logger)

	outcome, err := r.enricher.EnrichOne(ctx, u.characterID, enrich.Options{
		Category: opts.Category,
		Force:    opts.Force,
	})
	if err != nil {
		tracker.finish(enrich.DispositionFailed)
		logger.Error("unit rejected", logging.Error(err))
		return UnitOutcome{
			CharacterID: u.characterID,
			Disposition: enrich.DispositionFailed,
			Reason:      err.Error(),
		}
	}

	tracker.finish(outcome.Disposition)
	result := UnitOutcome{
		CharacterID: u.characterID,
		Disposition: outcome.Disposition,
		Reason:      outcome.Reason,
		FromCache:   outcome.FromCache,
		AICalls:     outcome.AICalls,
	}
	if outcome.Character != nil {
		result.Name = outcome.Character.Name
	}
	return result
}

func (r *Runner) notifyStarted(ctx context.Context, count int, category enrich.Category) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Publish(ctx, notifications.EventBatchStarted, notifications.Payload{
		"count":    count,
		"category": category.String(),
	})
	if err != nil {
		r.logger.Debug("batch start notification failed", logging.Error(err))
	}
}

func (r *Runner) notifyCompleted(ctx context.Context, summary *Summary) {
	if r.notifier == nil {
		return
	}
	// The run context is usually cancelled by now; notification delivery
	// still has to go out.
	err := r.notifier.Publish(context.WithoutCancel(ctx), notifications.EventBatchCompleted, notifications.Payload{
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
		"notProcessed": summary.NotProcessed,
		"duration":     summary.Duration(),
	})
	if err != nil {
		r.logger.Debug("batch completion notification failed", logging.Error(err))
	}
}
