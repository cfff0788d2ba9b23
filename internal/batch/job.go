package batch

import (
	"context"
	"sync"
	"time"

	"tsumugi/internal/enrich"
)

// Job is the handle for an in-flight batch run. It is safe for concurrent use.
type Job struct {
	id        string
	category  enrich.Category
	total     int
	tracker   *tracker
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu      sync.Mutex
	summary *Summary
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Category returns the analysis category the job runs.
func (j *Job) Category() enrich.Category { return j.category }

// Total returns the worklist length.
func (j *Job) Total() int { return j.total }

// StartedAt returns when the job was accepted.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// Progress returns a point-in-time view of the counters.
func (j *Job) Progress() Progress {
	return j.tracker.snapshot()
}

// Done is closed once the job is terminal.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cooperative cancellation. Units already in flight finish
// their current call; undequeued units are reported as not processed.
func (j *Job) Cancel() { j.cancel() }

// Summary returns the terminal report, or false while the job is running.
func (j *Job) Summary() (*Summary, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary, j.summary != nil
}

// Wait blocks until the job is terminal and returns its summary. The context
// bounds the wait only; cancelling it does not cancel the job.
func (j *Job) Wait(ctx context.Context) (*Summary, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	summary, _ := j.Summary()
	return summary, nil
}

func (j *Job) complete(summary *Summary) {
	j.mu.Lock()
	j.summary = summary
	j.mu.Unlock()
	close(j.done)
}
