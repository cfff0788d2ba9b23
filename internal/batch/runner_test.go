package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tsumugi/internal/batch"
	"tsumugi/internal/catalog"
	"tsumugi/internal/enrich"
	"tsumugi/internal/logging"
	"tsumugi/internal/notifications"
	"tsumugi/internal/services"
)

type scripted struct {
	outcome *enrich.Outcome
	err     error
}

type fakeEnricher struct {
	mu       sync.Mutex
	results  map[int64]scripted
	calls    []int64
	inFlight int
	peak     int

	// block, when set, holds every call until the channel closes. started
	// receives each character ID as its call begins.
	block   chan struct{}
	started chan int64
}

func (f *fakeEnricher) EnrichOne(_ context.Context, characterID int64, _ enrich.Options) (*enrich.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, characterID)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- characterID
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if s, ok := f.results[characterID]; ok {
		return s.outcome, s.err
	}
	return successOutcome(characterID), nil
}

func (f *fakeEnricher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEnricher) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func successOutcome(characterID int64) *enrich.Outcome {
	return &enrich.Outcome{
		Character:   &catalog.Character{ID: characterID, Name: fmt.Sprintf("Character %d", characterID)},
		Category:    enrich.CategoryProfile,
		Disposition: enrich.DispositionEnriched,
		AICalls:     1,
	}
}

type recordedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (r *recordingNotifier) recorded() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newTestRunner(enricher batch.Enricher, notifier notifications.Service) *batch.Runner {
	return batch.NewRunnerWithNotifier(enricher, logging.NewNop(), notifier)
}

func TestRunProcessesWorklist(t *testing.T) {
	enricher := &fakeEnricher{}
	runner := newTestRunner(enricher, nil)

	summary, err := runner.Run(context.Background(), []int64{1, 2, 3}, batch.Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.JobID == "" {
		t.Error("expected a job ID")
	}
	if summary.Succeeded != 3 || summary.Failed != 0 || summary.Skipped != 0 || summary.NotProcessed != 0 {
		t.Fatalf("counts = %d/%d/%d/%d", summary.Succeeded, summary.Failed, summary.Skipped, summary.NotProcessed)
	}
	if summary.AICalls != 3 {
		t.Errorf("ai calls = %d, want 3", summary.AICalls)
	}
	if len(summary.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(summary.Outcomes))
	}
	for i, outcome := range summary.Outcomes {
		if outcome.CharacterID != int64(i+1) {
			t.Errorf("outcome %d is for character %d, want worklist order kept", i, outcome.CharacterID)
		}
		if outcome.Name == "" {
			t.Errorf("outcome %d missing character name", i)
		}
	}
	if summary.FinishedAt.Before(summary.StartedAt) {
		t.Error("finished before started")
	}
}

func TestRunIsolatesUnitFailures(t *testing.T) {
	enricher := &fakeEnricher{results: map[int64]scripted{
		2: {outcome: &enrich.Outcome{
			Character:   &catalog.Character{ID: 2, Name: "Character 2"},
			Disposition: enrich.DispositionFailed,
			Reason:      "malformed_response: model returned no usable fields",
		}},
		3: {outcome: &enrich.Outcome{
			Character:   &catalog.Character{ID: 3, Name: "Character 3"},
			Disposition: enrich.DispositionSkipped,
			Reason:      "record is curator protected",
		}},
		4: {err: services.Wrap(services.ErrProtectedRecord, "enrich", "force enrich", "protected", nil)},
	}}
	runner := newTestRunner(enricher, nil)

	summary, err := runner.Run(context.Background(), []int64{1, 2, 3, 4}, batch.Options{Concurrency: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 2 || summary.Skipped != 1 {
		t.Fatalf("counts = %d/%d/%d", summary.Succeeded, summary.Failed, summary.Skipped)
	}
	if got := summary.Succeeded + summary.Failed + summary.Skipped + summary.NotProcessed; got != summary.Total {
		t.Fatalf("terminal buckets sum to %d, want %d", got, summary.Total)
	}
	if !strings.Contains(summary.Outcomes[1].Reason, "malformed_response") {
		t.Errorf("outcome reason = %q", summary.Outcomes[1].Reason)
	}
	if summary.Outcomes[3].Disposition != enrich.DispositionFailed {
		t.Errorf("rejected unit disposition = %s, want failed", summary.Outcomes[3].Disposition)
	}
	if !strings.Contains(summary.Outcomes[3].Reason, "protected") {
		t.Errorf("rejected unit reason = %q", summary.Outcomes[3].Reason)
	}
}

func TestRunCountsUnchangedAsSucceeded(t *testing.T) {
	enricher := &fakeEnricher{results: map[int64]scripted{
		1: {outcome: &enrich.Outcome{
			Character:   &catalog.Character{ID: 1, Name: "Character 1"},
			Disposition: enrich.DispositionUnchanged,
			Reason:      "record already enriched",
		}},
	}}
	runner := newTestRunner(enricher, nil)

	summary, err := runner.Run(context.Background(), []int64{1}, batch.Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want unchanged records counted", summary.Succeeded)
	}
}

func TestRunValidatesRequest(t *testing.T) {
	runner := newTestRunner(&fakeEnricher{}, nil)
	ctx := context.Background()

	if _, err := runner.Run(ctx, nil, batch.Options{Concurrency: 2}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty worklist: expected validation error, got %v", err)
	}
	if _, err := runner.Run(ctx, []int64{1}, batch.Options{Concurrency: 0}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("zero concurrency: expected validation error, got %v", err)
	}
	if _, err := runner.Run(ctx, []int64{1}, batch.Options{Concurrency: -3}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("negative concurrency: expected validation error, got %v", err)
	}
	if _, err := runner.Run(ctx, []int64{1}, batch.Options{Concurrency: 1, Category: enrich.Category("vibes")}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown category: expected validation error, got %v", err)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	enricher := &fakeEnricher{
		block:   make(chan struct{}),
		started: make(chan int64, 8),
	}
	runner := newTestRunner(enricher, nil)

	done := make(chan *batch.Summary, 1)
	go func() {
		summary, err := runner.Run(context.Background(), []int64{1, 2, 3, 4, 5, 6}, batch.Options{Concurrency: 2})
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- summary
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-enricher.started:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for workers to start")
		}
	}
	close(enricher.block)

	summary := <-done
	if summary == nil {
		t.Fatal("no summary")
	}
	if summary.Succeeded != 6 {
		t.Fatalf("succeeded = %d, want 6", summary.Succeeded)
	}
	if peak := enricher.peakInFlight(); peak != 2 {
		t.Fatalf("peak in-flight = %d, want exactly the pool size", peak)
	}
}

func TestStartProgressAndCancellation(t *testing.T) {
	enricher := &fakeEnricher{
		block:   make(chan struct{}),
		started: make(chan int64, 4),
	}
	runner := newTestRunner(enricher, nil)

	job, err := runner.Start(context.Background(), []int64{1, 2, 3}, batch.Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-enricher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first unit")
	}

	progress := job.Progress()
	if progress.InFlight != 1 || progress.Queued != 2 {
		t.Fatalf("progress = %+v, want one in flight and two queued", progress)
	}
	if progress.Total() != 3 {
		t.Fatalf("progress total = %d, want 3", progress.Total())
	}

	job.Cancel()
	close(enricher.block)

	summary, err := job.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Errorf("succeeded = %d, want the in-flight unit to finish", summary.Succeeded)
	}
	if summary.NotProcessed != 2 {
		t.Errorf("not processed = %d, want undequeued units counted", summary.NotProcessed)
	}
	if enricher.callCount() != 1 {
		t.Errorf("calls = %d, cancellation must stop dequeueing", enricher.callCount())
	}

	final := job.Progress()
	if final.Queued != 0 || final.InFlight != 0 {
		t.Errorf("terminal progress = %+v, want all buckets settled", final)
	}
	if got := final.Processed() + final.NotProcessed; got != 3 {
		t.Errorf("terminal conservation broken: %d of 3", got)
	}
}

func TestRunPublishesBatchEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	runner := newTestRunner(&fakeEnricher{}, notifier)

	summary, err := runner.Run(context.Background(), []int64{1, 2}, batch.Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := notifier.recorded()
	if len(events) != 2 {
		t.Fatalf("events = %d, want started and completed", len(events))
	}
	if events[0].event != notifications.EventBatchStarted {
		t.Errorf("first event = %s", events[0].event)
	}
	if got := events[0].payload["count"]; got != 2 {
		t.Errorf("started count = %v", got)
	}
	if events[1].event != notifications.EventBatchCompleted {
		t.Errorf("second event = %s", events[1].event)
	}
	if got := events[1].payload["succeeded"]; got != summary.Succeeded {
		t.Errorf("completed succeeded = %v, want %d", got, summary.Succeeded)
	}
}

func TestJobWaitHonorsContext(t *testing.T) {
	enricher := &fakeEnricher{block: make(chan struct{}), started: make(chan int64, 1)}
	runner := newTestRunner(enricher, nil)

	job, err := runner.Start(context.Background(), []int64{1}, batch.Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer close(enricher.block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := job.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	if _, ok := job.Summary(); ok {
		t.Fatal("summary must not be available while the job runs")
	}
}
