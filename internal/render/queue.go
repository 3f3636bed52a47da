// Package render serializes every device write. Decision makers enqueue
// Jobs; exactly one Worker dequeues them and is the only caller of the
// renderer and the display device.
package render

import (
	"context"
	"sync"

	"github.com/farouk15160/room-display-agent/internal/room"
)

// Job asks the worker to draw View. Rev is the state store revision the job
// was decided at; Snapshot is a private copy owned by the job.
type Job struct {
	View     room.View
	Snapshot *room.Snapshot
	Link     room.Link
	Rev      uint64
}

// Queue is a FIFO of jobs holding at most one pending job per view.
//
// A newer job replaces any pending job of the same view and every pending job
// of an older revision. Jobs older than the newest accepted revision are
// refused, so the device never goes back to content already superseded.
// The state store hands out a new revision for every job, so in practice
// the queue is a latest-wins slot holding at most one job.
type Queue struct {
	mu        sync.Mutex
	pending   []Job
	highWater uint64
	closed    bool
	notify    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue adds j without blocking. It reports false when j was refused
// because it is stale or the queue is closed.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || j.Rev < q.highWater {
		return false
	}
	q.highWater = j.Rev

	kept := q.pending[:0]
	for _, p := range q.pending {
		if p.View == j.View || p.Rev < j.Rev {
			continue
		}
		kept = append(kept, p)
	}
	// Zero the tail so dropped snapshots can be collected.
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = Job{}
	}
	q.pending = append(kept, j)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a job is available, the queue is closed or ctx is done.
// The boolean is false in the latter two cases.
func (q *Queue) Next(ctx context.Context) (Job, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, false
		}
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = Job{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false
		case <-q.notify:
		}
	}
}

// Close discards pending jobs and wakes the consumer. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.notify)
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the pending jobs in dequeue order.
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.pending))
	copy(out, q.pending)
	return out
}
