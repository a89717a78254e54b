package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

// MemoryQueue is the in-process Queue used for tests and single-node
// deployments. Delivery order is FIFO; Nack redelivers through a timer.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    chan model.ExtractionJob
	canceled map[string]struct{}
	timers   map[string]*time.Timer
	closed   bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue builds a queue buffering up to capacity jobs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ready:    make(chan model.ExtractionJob, capacity),
		canceled: make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job model.ExtractionJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()
	select {
	case q.ready <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next non-canceled job.
func (q *MemoryQueue) Dequeue(ctx context.Context) (model.ExtractionJob, error) {
	for {
		select {
		case job, ok := <-q.ready:
			if !ok {
				return model.ExtractionJob{}, ErrQueueClosed
			}
			q.mu.Lock()
			_, dropped := q.canceled[job.ID]
			if dropped {
				delete(q.canceled, job.ID)
			}
			q.mu.Unlock()
			if dropped {
				continue
			}
			return job, nil
		case <-ctx.Done():
			return model.ExtractionJob{}, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.canceled, jobID)
	return nil
}

// Nack schedules redelivery after delay. A zero delay requeues immediately.
func (q *MemoryQueue) Nack(ctx context.Context, job model.ExtractionJob, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if delay <= 0 {
		q.mu.Unlock()
		return q.Enqueue(ctx, job)
	}
	timer := time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ready <- job:
		default:
			// Queue full: the job is lost from the queue but still tracked
			// as failed by the orchestrator on its next sweep.
		}
	})
	q.timers[job.ID] = timer
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.timers[jobID]; ok {
		timer.Stop()
		delete(q.timers, jobID)
		return nil
	}
	q.canceled[jobID] = struct{}{}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	close(q.ready)
	return nil
}
