package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

// Tracker holds the authoritative status of every submitted job. Status
// moves are compare-and-swap so a cancel racing a worker cannot be
// overwritten by a late transition.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[string]model.ExtractionJob
	nowFn func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs:  make(map[string]model.ExtractionJob),
		nowFn: time.Now,
	}
}

// Put registers a job, overwriting any previous record with the same id.
func (t *Tracker) Put(job model.ExtractionJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job.UpdatedAt = t.nowFn()
	t.jobs[job.ID] = job
}

// Get returns the job record.
func (t *Tracker) Get(id string) (model.ExtractionJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return model.ExtractionJob{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// Transition moves the job from one status to another; it fails when the
// job is missing or no longer in the expected status.
func (t *Tracker) Transition(id string, from, to model.JobStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if job.Status != from {
		return fmt.Errorf("job %s is %s, not %s", id, job.Status, from)
	}
	job.Status = to
	job.UpdatedAt = t.nowFn()
	t.jobs[id] = job
	return nil
}

// RecordFailure bumps the attempt count and stores the error, moving the job
// to the given status (pending for retry, failed when exhausted). Terminal
// jobs are left alone so a cancel racing a failing attempt sticks.
func (t *Tracker) RecordFailure(id string, failure error, to model.JobStatus) (model.ExtractionJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return model.ExtractionJob{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return model.ExtractionJob{}, fmt.Errorf("job %s is already %s", id, job.Status)
	}
	job.Attempts++
	if failure != nil {
		job.LastError = failure.Error()
	}
	job.Status = to
	job.UpdatedAt = t.nowFn()
	t.jobs[id] = job
	return job, nil
}

// Status returns the job's current status.
func (t *Tracker) Status(id string) (model.JobStatus, error) {
	job, err := t.Get(id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}
