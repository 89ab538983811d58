package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/task"
)

// queueRunner holds one queue's pending work. Submissions are never
// dropped: the backlog grows without bound and workers drain it in
// FIFO order, pacing starts through the queue's token bucket.
type queueRunner struct {
	name    task.Queue
	workers int
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []*managed
	wake    chan struct{}
}

func newQueueRunner(name task.Queue, qc config.QueueConfig) *queueRunner {
	q := &queueRunner{
		name:    name,
		workers: qc.Workers,
		wake:    make(chan struct{}, 1),
	}
	if qc.RatePerSecond > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(qc.RatePerSecond), qc.Burst)
	}
	return q
}

// enqueue appends work and wakes one idle worker.
func (q *queueRunner) enqueue(m *managed) {
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()
	q.signal()
}

func (q *queueRunner) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until work is available or ctx is cancelled. After a
// successful pop it re-signals when the backlog is non-empty, so a
// single wake token is enough for any number of workers.
func (q *queueRunner) next(ctx context.Context) (*managed, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			m := q.pending[0]
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

func (q *queueRunner) backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
