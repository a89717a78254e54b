package jobs

import (
	"context"
	"sync"
)

// sequencer keeps submission order per scope so same-scope jobs commit in
// FIFO order even when several workers race between dequeue and the scope
// lock. A job's slot is released when its attempt ends; redelivered retries
// run without a slot and may be overtaken, which keeps a failing job from
// stalling its scope.
type sequencer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string][]string
}

func newSequencer() *sequencer {
	s := &sequencer{queues: make(map[string][]string)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// add appends the job to its scope's line.
func (s *sequencer) add(token, jobID string) {
	s.mu.Lock()
	s.queues[token] = append(s.queues[token], jobID)
	s.mu.Unlock()
}

// wait blocks until the job reaches the head of its scope's line. Jobs not
// in line (released or never added) pass immediately.
func (s *sequencer) wait(ctx context.Context, token, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if position(s.queues[token], jobID) <= 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
}

// release removes the job from its scope's line and wakes waiters. Releasing
// an absent job is a no-op.
func (s *sequencer) release(token, jobID string) {
	s.mu.Lock()
	q := s.queues[token]
	if i := position(q, jobID); i >= 0 {
		s.queues[token] = append(q[:i], q[i+1:]...)
		if len(s.queues[token]) == 0 {
			delete(s.queues, token)
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// wake unblocks every waiter so it can observe a canceled context.
func (s *sequencer) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func position(q []string, jobID string) int {
	for i, id := range q {
		if id == jobID {
			return i
		}
	}
	return -1
}
