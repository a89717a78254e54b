package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/concurrent"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/tiers"
	"github.com/google/uuid"
)

// ErrNotCancelable is returned when canceling a job already in a terminal
// status.
var ErrNotCancelable = errors.New("job is not cancelable")

// errCommitAborted marks an attempt whose job left the running state before
// its commit; the extraction result is thrown away.
var errCommitAborted = errors.New("commit aborted")

// OrchestratorConfig tunes the job runner.
type OrchestratorConfig struct {
	// Workers is the number of dequeue loops.
	Workers int
	// MaxExtractions caps concurrent LLM calls across all workers.
	MaxExtractions int
	// MaxAttempts is the total number of tries before a job dead-letters.
	MaxAttempts int
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration
	// JobTimeout bounds a single extraction attempt.
	JobTimeout time.Duration
	// SessionMaxIdle is the idle window after which maintenance expires a
	// session.
	SessionMaxIdle time.Duration
	// MaintenanceEvery is the cadence of self-enqueued maintenance jobs;
	// zero disables the ticker.
	MaintenanceEvery time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxExtractions <= 0 {
		c.MaxExtractions = c.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.SessionMaxIdle <= 0 {
		c.SessionMaxIdle = 24 * time.Hour
	}
}

// Orchestrator owns the async ingestion lifecycle: submission, worker
// dispatch, per-scope ordering, retries with backoff, cancelation and
// dead-lettering.
type Orchestrator struct {
	queue   Queue
	tracker *Tracker
	engine  *extract.Engine
	tiers   *tiers.Manager
	archive DeadLetterArchive
	pool    *concurrent.WorkerPool
	cfg     OrchestratorConfig

	scopeMu sync.Mutex
	scopes  map[string]*sync.Mutex

	submitMu sync.Mutex
	seq      *sequencer

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewOrchestrator wires the runner. The archive may be nil, in which case
// exhausted jobs are only tracked, not archived.
func NewOrchestrator(queue Queue, engine *extract.Engine, tierManager *tiers.Manager, archive DeadLetterArchive, cfg OrchestratorConfig) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		queue:   queue,
		tracker: NewTracker(),
		engine:  engine,
		tiers:   tierManager,
		archive: archive,
		pool:    concurrent.NewWorkerPool(cfg.MaxExtractions),
		cfg:     cfg,
		scopes:  make(map[string]*sync.Mutex),
		seq:     newSequencer(),
	}
}

// Tracker exposes job status lookups.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Start launches the worker loops and, when configured, the maintenance
// ticker.
func (o *Orchestrator) Start() {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.runCtx, o.cancel = context.WithCancel(context.Background())
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	if o.cfg.MaintenanceEvery > 0 {
		o.wg.Add(1)
		go o.maintenanceLoop()
	}
}

// Stop halts the workers. In-flight jobs finish their current attempt.
func (o *Orchestrator) Stop() {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if !o.started {
		return
	}
	o.started = false
	o.cancel()
	o.seq.wake()
	o.wg.Wait()
}

// Submit queues a turn for extraction into the scope. Company-tier
// submissions are rejected: company knowledge is written only through the
// curated path.
func (o *Orchestrator) Submit(ctx context.Context, scope model.Scope, turn model.Turn) (model.ExtractionJob, error) {
	if err := scope.Validate(); err != nil {
		return model.ExtractionJob{}, err
	}
	if scope.Tier == model.TierCompany {
		return model.ExtractionJob{}, fmt.Errorf("company scope does not accept extraction jobs")
	}
	now := time.Now()
	job := model.ExtractionJob{
		ID:        uuid.NewString(),
		Kind:      model.JobExtraction,
		Scope:     scope,
		Turn:      turn,
		Status:    model.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.tracker.Put(job)
	// The sequencer line and the queue must agree on submission order, so
	// the pair is taken under one lock.
	o.submitMu.Lock()
	o.seq.add(scope.Token(), job.ID)
	err := o.queue.Enqueue(ctx, job)
	o.submitMu.Unlock()
	if err != nil {
		o.seq.release(scope.Token(), job.ID)
		return model.ExtractionJob{}, err
	}
	return job, nil
}

// SubmitMaintenance queues a session-expiry sweep.
func (o *Orchestrator) SubmitMaintenance(ctx context.Context) (model.ExtractionJob, error) {
	now := time.Now()
	job := model.ExtractionJob{
		ID:        uuid.NewString(),
		Kind:      model.JobMaintenance,
		Status:    model.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.tracker.Put(job)
	if err := o.queue.Enqueue(ctx, job); err != nil {
		return model.ExtractionJob{}, err
	}
	return job, nil
}

// Job returns the tracked record for a job id.
func (o *Orchestrator) Job(id string) (model.ExtractionJob, error) {
	return o.tracker.Get(id)
}

// Cancel stops a pending job and marks a running one so its result is
// discarded. Terminal jobs cannot be canceled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	job, err := o.tracker.Get(id)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobPending:
		if err := o.tracker.Transition(id, model.JobPending, model.JobCanceled); err != nil {
			return err
		}
		o.seq.release(job.Scope.Token(), id)
		return o.queue.Cancel(ctx, id)
	case model.JobRunning:
		return o.tracker.Transition(id, model.JobRunning, model.JobCanceled)
	default:
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrNotCancelable)
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		job, err := o.queue.Dequeue(o.runCtx)
		if err != nil {
			return
		}
		o.process(job)
	}
}

func (o *Orchestrator) maintenanceLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			if _, err := o.SubmitMaintenance(o.runCtx); err != nil {
				log.Printf("jobs: submit maintenance: %v", err)
			}
		}
	}
}

// scopeLock serializes jobs for one scope so a scope's turns commit in the
// order they were dequeued.
func (o *Orchestrator) scopeLock(scope model.Scope) *sync.Mutex {
	o.scopeMu.Lock()
	defer o.scopeMu.Unlock()
	token := scope.Token()
	mu, ok := o.scopes[token]
	if !ok {
		mu = &sync.Mutex{}
		o.scopes[token] = mu
	}
	return mu
}

func (o *Orchestrator) process(job model.ExtractionJob) {
	if err := o.tracker.Transition(job.ID, model.JobPending, model.JobRunning); err != nil {
		// Canceled (or unknown) while queued; drop it.
		o.seq.release(job.Scope.Token(), job.ID)
		_ = o.queue.Ack(o.runCtx, job.ID)
		return
	}

	var runErr error
	switch job.Kind {
	case model.JobMaintenance:
		runErr = o.runMaintenance()
	default:
		runErr = o.runExtraction(job)
	}

	if runErr == nil {
		if err := o.tracker.Transition(job.ID, model.JobRunning, model.JobSucceeded); err != nil {
			// Canceled after the commit gate passed: the job record keeps
			// its canceled status.
			log.Printf("jobs: job %s finished after cancel", job.ID)
		}
		_ = o.queue.Ack(o.runCtx, job.ID)
		return
	}

	o.handleFailure(job, runErr)
}

func (o *Orchestrator) runExtraction(job model.ExtractionJob) error {
	ctx, cancelAttempt := context.WithTimeout(o.runCtx, o.cfg.JobTimeout)
	defer cancelAttempt()

	token := job.Scope.Token()
	defer o.seq.release(token, job.ID)
	if err := o.seq.wait(ctx, token, job.ID); err != nil {
		return err
	}

	mu := o.scopeLock(job.Scope)
	mu.Lock()
	defer mu.Unlock()

	return o.pool.Do(ctx, func() error {
		_, err := o.engine.ProcessTurnIf(ctx, job.Scope, job.Turn, func() error {
			return o.commitAllowed(job.ID)
		})
		return err
	})
}

// commitAllowed re-checks the job record between extraction and commit so a
// cancel issued while the job was running discards its result instead of
// letting the delta land in the graph.
func (o *Orchestrator) commitAllowed(jobID string) error {
	status, err := o.tracker.Status(jobID)
	if err != nil {
		return err
	}
	if status != model.JobRunning {
		return fmt.Errorf("job %s is %s: %w", jobID, status, errCommitAborted)
	}
	return nil
}

func (o *Orchestrator) runMaintenance() error {
	if o.tiers == nil {
		return nil
	}
	ctx, cancelAttempt := context.WithTimeout(o.runCtx, o.cfg.JobTimeout)
	defer cancelAttempt()
	expired, err := o.tiers.ExpireSessions(ctx, o.cfg.SessionMaxIdle)
	if len(expired) > 0 {
		log.Printf("jobs: expired %d idle sessions", len(expired))
	}
	return err
}

// transient reports whether the failure is worth retrying: provider
// timeouts and unavailable backends are, malformed model output is not.
func transient(err error) bool {
	return errors.Is(err, extract.ErrTimeout) ||
		errors.Is(err, extract.ErrUnavailable) ||
		errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) handleFailure(job model.ExtractionJob, runErr error) {
	updated, err := o.tracker.RecordFailure(job.ID, runErr, model.JobPending)
	if err != nil {
		_ = o.queue.Ack(o.runCtx, job.ID)
		return
	}

	if transient(runErr) && updated.Attempts < o.cfg.MaxAttempts {
		delay := o.backoff(updated.Attempts)
		log.Printf("jobs: job %s attempt %d failed, retrying in %s: %v", job.ID, updated.Attempts, delay, runErr)
		if err := o.queue.Nack(o.runCtx, updated, delay); err != nil {
			log.Printf("jobs: requeue job %s: %v", job.ID, err)
		}
		return
	}

	if err := o.tracker.Transition(job.ID, model.JobPending, model.JobFailed); err != nil {
		log.Printf("jobs: record terminal failure for %s: %v", job.ID, err)
	}
	_ = o.queue.Ack(o.runCtx, job.ID)
	if o.archive != nil {
		final, _ := o.tracker.Get(job.ID)
		if err := o.archive.Archive(o.runCtx, final, runErr); err != nil {
			log.Printf("jobs: archive job %s: %v", job.ID, err)
		}
	}
	log.Printf("jobs: job %s failed permanently: %v", job.ID, runErr)
}

// backoff doubles per attempt: base, 2*base, 4*base...
func (o *Orchestrator) backoff(attempts int) time.Duration {
	delay := o.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
