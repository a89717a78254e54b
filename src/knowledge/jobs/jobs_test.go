package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/tiers"
)

// scriptedExtractor fails a set number of times before succeeding.
type scriptedExtractor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	delta    model.GraphDelta
}

func (s *scriptedExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return model.GraphDelta{}, s.err
	}
	return s.delta, nil
}

func (s *scriptedExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sampleDelta() model.GraphDelta {
	return model.GraphDelta{
		Entities: []model.EntityDraft{
			{Name: "Python", Type: model.EntitySkill},
		},
	}
}

func newTestOrchestrator(t *testing.T, extractor extract.Extractor, cfg OrchestratorConfig) (*Orchestrator, *store.InMemoryGraphStore, *MemoryArchive) {
	t.Helper()
	graph := store.NewInMemoryGraphStore()
	engine := extract.NewEngine(extractor, graph, nil)
	archive := NewMemoryArchive()
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	o := NewOrchestrator(NewMemoryQueue(64), engine, tiers.NewManager(graph, ""), archive, cfg)
	t.Cleanup(o.Stop)
	return o, graph, archive
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want model.JobStatus) model.ExtractionJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.Job(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := o.Job(id)
	t.Fatalf("job %s never reached %s, stuck at %s (%s)", id, want, job.Status, job.LastError)
	return model.ExtractionJob{}
}

func TestSubmitAndProcess(t *testing.T) {
	extractor := &scriptedExtractor{delta: sampleDelta()}
	o, graph, _ := newTestOrchestrator(t, extractor, OrchestratorConfig{})
	o.Start()

	scope := model.UserScope("u1")
	job, err := o.Submit(context.Background(), scope, model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != model.JobPending {
		t.Fatalf("expected pending on submit, got %s", job.Status)
	}
	waitForStatus(t, o, job.ID, model.JobSucceeded)

	got, err := graph.QueryByText(context.Background(), scope, []string{"python"}, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the extracted entity committed, got %#v (%v)", got, err)
	}
}

func TestSubmitCompanyScopeRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedExtractor{}, OrchestratorConfig{})
	_, err := o.Submit(context.Background(), model.CompanyScope("global"), model.Turn{Question: "q", Answer: "a"})
	if err == nil {
		t.Fatal("expected company submissions rejected")
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	extractor := &scriptedExtractor{failures: 2, err: extract.ErrTimeout, delta: sampleDelta()}
	o, _, archive := newTestOrchestrator(t, extractor, OrchestratorConfig{MaxAttempts: 3})
	o.Start()

	job, err := o.Submit(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := waitForStatus(t, o, job.ID, model.JobSucceeded)
	if final.Attempts != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", final.Attempts)
	}
	if extractor.callCount() != 3 {
		t.Fatalf("expected 3 extraction attempts, got %d", extractor.callCount())
	}
	if len(archive.Letters()) != 0 {
		t.Fatal("expected no dead letters for a recovered job")
	}
}

func TestRetriesExhaustedDeadLetter(t *testing.T) {
	extractor := &scriptedExtractor{failures: 100, err: extract.ErrTimeout}
	o, _, archive := newTestOrchestrator(t, extractor, OrchestratorConfig{MaxAttempts: 2})
	o.Start()

	job, err := o.Submit(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := waitForStatus(t, o, job.ID, model.JobFailed)
	if final.Attempts != 2 {
		t.Fatalf("expected attempts capped at 2, got %d", final.Attempts)
	}
	if final.LastError == "" {
		t.Fatal("expected the last error recorded")
	}
	letters := archive.Letters()
	if len(letters) != 1 || letters[0].Job.ID != job.ID {
		t.Fatalf("expected the job dead-lettered, got %#v", letters)
	}
}

func TestMalformedOutputFailsWithoutRetry(t *testing.T) {
	extractor := &scriptedExtractor{failures: 100, err: extract.ErrMalformedOutput}
	o, _, archive := newTestOrchestrator(t, extractor, OrchestratorConfig{MaxAttempts: 3})
	o.Start()

	job, err := o.Submit(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := waitForStatus(t, o, job.ID, model.JobFailed)
	if final.Attempts != 1 {
		t.Fatalf("expected a single attempt for a permanent failure, got %d", final.Attempts)
	}
	if extractor.callCount() != 1 {
		t.Fatalf("expected 1 extraction call, got %d", extractor.callCount())
	}
	if len(archive.Letters()) != 1 {
		t.Fatal("expected the job dead-lettered")
	}
}

func TestCancelPendingJob(t *testing.T) {
	extractor := &scriptedExtractor{delta: sampleDelta()}
	o, _, _ := newTestOrchestrator(t, extractor, OrchestratorConfig{})

	// Submit before starting so the job stays queued.
	job, err := o.Submit(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.Start()
	time.Sleep(20 * time.Millisecond)

	final, err := o.Job(job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != model.JobCanceled {
		t.Fatalf("expected canceled, got %s", final.Status)
	}
	if extractor.callCount() != 0 {
		t.Fatalf("expected the canceled job never run, got %d calls", extractor.callCount())
	}
}

func TestCancelTerminalJobFails(t *testing.T) {
	extractor := &scriptedExtractor{delta: sampleDelta()}
	o, _, _ := newTestOrchestrator(t, extractor, OrchestratorConfig{})
	o.Start()

	job, err := o.Submit(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForStatus(t, o, job.ID, model.JobSucceeded)
	if err := o.Cancel(context.Background(), job.ID); !errors.Is(err, ErrNotCancelable) {
		t.Fatalf("expected ErrNotCancelable, got %v", err)
	}
}

func TestMaintenanceExpiresIdleSessions(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	engine := extract.NewEngine(&scriptedExtractor{}, graph, nil)
	manager := tiers.NewManager(graph, "")
	o := NewOrchestrator(NewMemoryQueue(8), engine, manager, nil, OrchestratorConfig{
		Workers:        1,
		BackoffBase:    time.Millisecond,
		SessionMaxIdle: time.Nanosecond,
	})
	t.Cleanup(o.Stop)

	manager.OpenSession("s1")
	time.Sleep(time.Millisecond)
	o.Start()

	job, err := o.SubmitMaintenance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForStatus(t, o, job.ID, model.JobSucceeded)
	if manager.SessionOpen("s1") {
		t.Fatal("expected the idle session expired")
	}
}

func TestMemoryQueueNackRedelivers(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()

	job := model.ExtractionJob{ID: "j1"}
	if err := q.Nack(context.Background(), job, 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "j1" {
		t.Fatalf("unexpected job %#v", got)
	}
}

func TestMemoryQueueCancelDropsQueuedJob(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()

	if err := q.Enqueue(context.Background(), model.ExtractionJob{ID: "doomed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(context.Background(), model.ExtractionJob{ID: "kept"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Cancel(context.Background(), "doomed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "kept" {
		t.Fatalf("expected the canceled job skipped, got %q", got.ID)
	}
}

func TestTrackerTransitionCAS(t *testing.T) {
	tr := NewTracker()
	tr.Put(model.ExtractionJob{ID: "j1", Status: model.JobPending})

	if err := tr.Transition("j1", model.JobPending, model.JobRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Transition("j1", model.JobPending, model.JobRunning); err == nil {
		t.Fatal("expected stale transition rejected")
	}
	if err := tr.Transition("missing", model.JobPending, model.JobRunning); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestBackoffDoubles(t *testing.T) {
	o := &Orchestrator{cfg: OrchestratorConfig{BackoffBase: time.Minute}}
	cases := map[int]time.Duration{
		1: time.Minute,
		2: 2 * time.Minute,
		3: 4 * time.Minute,
	}
	for attempts, want := range cases {
		if got := o.backoff(attempts); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempts, want, got)
		}
	}
}

func TestScopeOrderingSerialized(t *testing.T) {
	var active, peak int32
	block := make(chan struct{})
	extractor := &gateExtractor{gate: block, active: &active, peak: &peak}
	graph := store.NewInMemoryGraphStore()
	engine := extract.NewEngine(extractor, graph, nil)
	o := NewOrchestrator(NewMemoryQueue(8), engine, tiers.NewManager(graph, ""), nil, OrchestratorConfig{
		Workers:     4,
		BackoffBase: time.Millisecond,
	})
	t.Cleanup(o.Stop)
	o.Start()

	scope := model.UserScope("u1")
	for i := 0; i < 4; i++ {
		if _, err := o.Submit(context.Background(), scope, model.Turn{Question: "q", Answer: "a"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&peak); got > 1 {
		t.Fatalf("expected same-scope jobs serialized, saw %d concurrent", got)
	}
}

type gateExtractor struct {
	gate   chan struct{}
	active *int32
	peak   *int32
}

func (g *gateExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	cur := atomic.AddInt32(g.active, 1)
	for {
		p := atomic.LoadInt32(g.peak)
		if cur <= p || atomic.CompareAndSwapInt32(g.peak, p, cur) {
			break
		}
	}
	<-g.gate
	atomic.AddInt32(g.active, -1)
	return model.GraphDelta{}, nil
}

// holdExtractor signals when extraction starts and blocks until released.
type holdExtractor struct {
	started chan struct{}
	release chan struct{}
	delta   model.GraphDelta
}

func (h *holdExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	h.started <- struct{}{}
	<-h.release
	return h.delta, nil
}

func TestCancelRunningJobDiscardsResult(t *testing.T) {
	extractor := &holdExtractor{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		delta:   sampleDelta(),
	}
	o, graph, archive := newTestOrchestrator(t, extractor, OrchestratorConfig{Workers: 1})
	o.Start()

	scope := model.UserScope("u1")
	job, err := o.Submit(context.Background(), scope, model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-extractor.started
	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(extractor.release)
	time.Sleep(50 * time.Millisecond)

	final, err := o.Job(job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != model.JobCanceled {
		t.Fatalf("expected canceled, got %s", final.Status)
	}
	got, err := graph.QueryByText(context.Background(), scope, []string{"python"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected the canceled job's extraction discarded, found %d entities", len(got))
	}
	if len(archive.Letters()) != 0 {
		t.Fatal("expected no dead letters for a canceled job")
	}
}

// recordingExtractor captures the order extractions actually run in.
type recordingExtractor struct {
	mu    sync.Mutex
	turns []string
}

func (r *recordingExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	r.mu.Lock()
	r.turns = append(r.turns, turn.Question)
	r.mu.Unlock()
	return model.GraphDelta{}, nil
}

func (r *recordingExtractor) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.turns...)
}

func TestSameScopeJobsProcessFIFO(t *testing.T) {
	extractor := &recordingExtractor{}
	o, _, _ := newTestOrchestrator(t, extractor, OrchestratorConfig{Workers: 4})
	o.Start()

	scope := model.UserScope("u1")
	var lastID string
	const n = 6
	for i := 0; i < n; i++ {
		job, err := o.Submit(context.Background(), scope, model.Turn{Question: strconv.Itoa(i), Answer: "a"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastID = job.ID
	}
	waitForStatus(t, o, lastID, model.JobSucceeded)

	got := extractor.order()
	if len(got) != n {
		t.Fatalf("expected %d extractions, got %d", n, len(got))
	}
	for i, q := range got {
		if q != strconv.Itoa(i) {
			t.Fatalf("expected submission order preserved, got %v", got)
		}
	}
}

func TestSequencerHoldsSuccessorUntilRelease(t *testing.T) {
	s := newSequencer()
	s.add("user:u1", "a")
	s.add("user:u1", "b")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.wait(context.Background(), "user:u1", "b"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("expected the later job held behind its predecessor")
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.wait(context.Background(), "user:u1", "a"); err != nil {
		t.Fatalf("expected the head to pass, got %v", err)
	}
	s.release("user:u1", "a")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the successor released after its predecessor")
	}
}

func TestSequencerReleasedJobPassesImmediately(t *testing.T) {
	s := newSequencer()
	s.add("user:u1", "a")
	s.add("user:u1", "b")
	s.release("user:u1", "b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.wait(ctx, "user:u1", "b"); err != nil {
		t.Fatalf("expected a released job to pass, got %v", err)
	}
}

func TestSequencerWaitHonorsContext(t *testing.T) {
	s := newSequencer()
	s.add("user:u1", "a")
	s.add("user:u1", "b")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.wait(ctx, "user:u1", "b") }()

	cancel()
	s.wake()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a context error")
		}
	case <-time.After(time.Second):
		t.Fatal("wait never returned")
	}
}
