package batch

import (
	"sync"

	"tsumugi/internal/enrich"
)

// Progress is a point-in-time view of a job's counters. Every unit of the
// worklist is in exactly one bucket, so the six counts always sum to the
// worklist length.
type Progress struct {
	Queued       int `json:"queued"`
	InFlight     int `json:"inFlight"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	NotProcessed int `json:"notProcessed"`
}

// Processed counts units that reached a terminal disposition.
func (p Progress) Processed() int {
	return p.Succeeded + p.Failed + p.Skipped
}

// Total counts every unit across all buckets.
func (p Progress) Total() int {
	return p.Queued + p.InFlight + p.Processed() + p.NotProcessed
}

type tracker struct {
	mu       sync.Mutex
	progress Progress
}

func newTracker(total int) *tracker {
	return &tracker{progress: Progress{Queued: total}}
}

func (t *tracker) dequeue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Queued--
	t.progress.InFlight++
}

// finish moves an in-flight unit into its terminal bucket. An unchanged
// record counts as succeeded; the request was satisfied from durable state.
func (t *tracker) finish(disposition enrich.Disposition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.InFlight--
	switch disposition {
	case enrich.DispositionEnriched, enrich.DispositionUnchanged:
		t.progress.Succeeded++
	case enrich.DispositionSkipped:
		t.progress.Skipped++
	default:
		t.progress.Failed++
	}
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// finalize reassigns units never dequeued to the not-processed bucket and
// returns the terminal counts.
func (t *tracker) finalize() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.NotProcessed += t.progress.Queued
	t.progress.Queued = 0
	return t.progress
}
