// Package memengine is the knowledge memory engine: it extracts entities and
// relationships from conversation turns into a scoped knowledge graph,
// retrieves them through hybrid vector/text/graph search and synthesizes
// bounded context blocks for prompt injection.
package memengine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/jobs"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/retrieval"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/synth"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/tiers"
)

// ErrNoExtractor is returned by Ingest when the engine was built without an
// extraction provider.
var ErrNoExtractor = errors.New("no extractor configured")

// Engine is the public facade over the knowledge memory subsystems.
type Engine struct {
	opts         options
	tiers        *tiers.Manager
	searcher     *retrieval.Searcher
	orchestrator *jobs.Orchestrator
}

// New builds an engine. Without options it runs fully in-process: in-memory
// graph store, in-memory queue and the deterministic dummy embedder.
func New(optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.extractor != nil {
		opts.extractEngine = extract.NewEngine(opts.extractor, opts.store, opts.embedder)
	}
	e := &Engine{
		opts:  opts,
		tiers: tiers.NewManager(opts.store, opts.companyID),
	}
	e.searcher = retrieval.NewSearcher(opts.store, opts.embedder, opts.expander).
		WithWeights(opts.weights).
		WithOptions(opts.retrieval)
	if opts.extractEngine != nil {
		e.orchestrator = jobs.NewOrchestrator(opts.queue, opts.extractEngine, e.tiers, opts.archive, opts.jobConfig)
	}
	return e, nil
}

// Start launches the async workers. A no-op for engines without an
// extractor.
func (e *Engine) Start() {
	if e.orchestrator != nil {
		e.orchestrator.Start()
	}
}

// Stop halts the workers and closes the queue.
func (e *Engine) Stop() {
	if e.orchestrator != nil {
		e.orchestrator.Stop()
	}
	if e.opts.queue != nil {
		_ = e.opts.queue.Close()
	}
}

// BeginSession registers a session scope for ingestion and search.
func (e *Engine) BeginSession(id string) error {
	return e.tiers.OpenSession(id)
}

// ClearSession wipes a session's knowledge and unregisters it.
func (e *Engine) ClearSession(ctx context.Context, id string) error {
	return e.tiers.ClearSession(ctx, id)
}

// Ingest queues a turn for asynchronous extraction into the scope and
// returns the job id. Session scopes are registered on first use so a turn
// can open its own session.
func (e *Engine) Ingest(ctx context.Context, scope model.Scope, turn model.Turn) (string, error) {
	if e.orchestrator == nil {
		return "", ErrNoExtractor
	}
	if scope.Tier == model.TierSession && !e.tiers.SessionOpen(scope.ID) {
		if err := e.tiers.OpenSession(scope.ID); err != nil {
			return "", err
		}
	}
	if scope.Tier == model.TierSession {
		_ = e.tiers.Touch(scope.ID)
	}
	job, err := e.orchestrator.Submit(ctx, scope, turn)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// JobStatus returns the tracked record for an ingestion job.
func (e *Engine) JobStatus(id string) (model.ExtractionJob, error) {
	if e.orchestrator == nil {
		return model.ExtractionJob{}, ErrNoExtractor
	}
	return e.orchestrator.Job(id)
}

// CancelJob cancels a queued job, or marks a running one so its status
// stays canceled.
func (e *Engine) CancelJob(ctx context.Context, id string) error {
	if e.orchestrator == nil {
		return ErrNoExtractor
	}
	return e.orchestrator.Cancel(ctx, id)
}

// Search runs hybrid retrieval across the scopes. Session scopes that are
// not open (cleared or expired) are skipped rather than failing the whole
// search.
func (e *Engine) Search(ctx context.Context, query string, scopes []model.Scope) ([]retrieval.Result, error) {
	resolved := make([]model.Scope, 0, len(scopes))
	for _, scope := range scopes {
		if err := e.tiers.Resolve(scope); err != nil {
			if errors.Is(err, tiers.ErrScopeNotFound) {
				log.Printf("memengine: skipping unknown scope %s", scope.Token())
				continue
			}
			return nil, fmt.Errorf("resolve scope %s: %w", scope.Token(), err)
		}
		resolved = append(resolved, scope)
	}
	return e.searcher.Search(ctx, query, resolved)
}

// SearchScopes is the default scope set for a user in a session: the
// session itself, the user's memory and the shared company scope.
func (e *Engine) SearchScopes(userID, sessionID string) []model.Scope {
	scopes := make([]model.Scope, 0, 3)
	if sessionID != "" {
		scopes = append(scopes, model.SessionScope(sessionID))
	}
	if userID != "" {
		scopes = append(scopes, model.UserScope(userID))
	}
	return append(scopes, e.tiers.CompanyScope())
}

// SynthesizeContext searches and renders the results into a bounded context
// block. The bool reports whether any memory was used.
func (e *Engine) SynthesizeContext(ctx context.Context, query string, scopes []model.Scope) (string, bool, error) {
	results, err := e.Search(ctx, query, scopes)
	if err != nil {
		return "", false, err
	}
	block, used := synth.Synthesize(results, e.opts.contextBudget)
	return block, used, nil
}

// WriteCompanyContext records a curated fact in the shared company scope.
func (e *Engine) WriteCompanyContext(ctx context.Context, name, description string, attrs map[string]any) (model.Entity, error) {
	return e.tiers.WriteCompanyContext(ctx, name, description, attrs)
}

// ExpireSessions removes sessions idle longer than the configured window.
// Normally driven by the maintenance job; exposed for operational tooling.
func (e *Engine) ExpireSessions(ctx context.Context) ([]string, error) {
	return e.tiers.ExpireSessions(ctx, e.opts.jobConfig.SessionMaxIdle)
}
