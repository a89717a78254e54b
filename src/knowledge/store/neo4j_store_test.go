package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

type fakeRecord map[string]any

func (r fakeRecord) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

type fakeResult struct {
	records []fakeRecord
	idx     int
	err     error
}

func (r *fakeResult) Next(ctx context.Context) bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeResult) Record() neo4jRecord {
	if r.idx == 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

func (r *fakeResult) Err() error               { return r.err }
func (r *fakeResult) Close(ctx context.Context) error { return nil }

type runCall struct {
	query  string
	params map[string]any
}

// fakeRunner scripts query responses by substring match and records every
// statement the store issues.
type fakeRunner struct {
	calls   []runCall
	respond func(query string, params map[string]any) (neo4jResult, error)
}

func (r *fakeRunner) run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	r.calls = append(r.calls, runCall{query: query, params: params})
	if r.respond != nil {
		return r.respond(query, params)
	}
	return &fakeResult{}, nil
}

func (r *fakeRunner) callsContaining(fragment string) []runCall {
	var out []runCall
	for _, call := range r.calls {
		if strings.Contains(call.query, fragment) {
			out = append(out, call)
		}
	}
	return out
}

type fakeTx struct {
	runner     *fakeRunner
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	return t.runner.run(ctx, query, params)
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }
func (t *fakeTx) Close(ctx context.Context) error    { return nil }

type fakeSession struct {
	runner *fakeRunner
	txs    []*fakeTx
	closed bool
}

func (s *fakeSession) BeginTransaction(ctx context.Context) (neo4jTransaction, error) {
	tx := &fakeTx{runner: s.runner}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *fakeSession) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	return s.runner.run(ctx, query, params)
}

func (s *fakeSession) Close(ctx context.Context) error { s.closed = true; return nil }

type fakeDriver struct {
	runner   *fakeRunner
	sessions []*fakeSession
	closed   bool
}

func (d *fakeDriver) NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error) {
	session := &fakeSession{runner: d.runner}
	d.sessions = append(d.sessions, session)
	return session, nil
}

func (d *fakeDriver) Close(ctx context.Context) error { d.closed = true; return nil }

func newFakeStore(t *testing.T, runner *fakeRunner) (*Neo4jGraphStore, *fakeDriver) {
	t.Helper()
	driver := &fakeDriver{runner: runner}
	store, err := NewNeo4jGraphStore(driver, "neo4j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.nowFn = func() time.Time { return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC) }
	return store, driver
}

func TestNeo4jUpsertEntityCreatesWhenAbsent(t *testing.T) {
	runner := &fakeRunner{}
	store, driver := newFakeStore(t, runner)

	ent, err := store.UpsertEntity(context.Background(), model.UserScope("u1"), model.EntityDraft{
		Name:        "João",
		Type:        model.EntityPerson,
		Description: "the user",
		Attributes:  map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.ID == "" {
		t.Fatal("expected a generated entity id")
	}
	if ent.NormName != "joão" {
		t.Fatalf("unexpected norm name %q", ent.NormName)
	}
	upserts := runner.callsContaining("MERGE (e:Entity")
	if len(upserts) != 1 {
		t.Fatalf("expected a single entity MERGE, got %d", len(upserts))
	}
	if upserts[0].params["scope"] != "user:u1" {
		t.Fatalf("unexpected scope param %v", upserts[0].params["scope"])
	}
	if upserts[0].params["has_embedding"] != false {
		t.Fatal("expected has_embedding=false for a draft without a vector")
	}
	if len(driver.sessions) != 1 || !driver.sessions[0].closed {
		t.Fatal("expected the session to be closed")
	}
	if !driver.sessions[0].txs[0].committed {
		t.Fatal("expected the transaction to commit")
	}
}

func TestNeo4jUpsertEntityMergesExistingAttributes(t *testing.T) {
	runner := &fakeRunner{}
	runner.respond = func(query string, params map[string]any) (neo4jResult, error) {
		if strings.Contains(query, "MATCH (e:Entity {scope: $scope, norm_name: $norm_name") {
			return &fakeResult{records: []fakeRecord{{
				"id":          "entity-1",
				"scope":       "user:u1",
				"name":        "João",
				"norm_name":   "joão",
				"type":        model.EntityPerson,
				"description": "the user",
				"attrs":       `{"city":"Lisbon","role":"developer"}`,
				"embedding":   []any{1.0, 0.0},
				"updated_at":  "2025-02-01T00:00:00Z",
			}}}, nil
		}
		return &fakeResult{}, nil
	}
	store, _ := newFakeStore(t, runner)

	ent, err := store.UpsertEntity(context.Background(), model.UserScope("u1"), model.EntityDraft{
		Name:       "João",
		Type:       model.EntityPerson,
		Attributes: map[string]any{"city": "Porto"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.ID != "entity-1" {
		t.Fatalf("expected existing id to be reused, got %q", ent.ID)
	}
	if ent.Attributes["city"] != "Porto" {
		t.Fatalf("expected city overwritten, got %v", ent.Attributes["city"])
	}
	if ent.Attributes["role"] != "developer" {
		t.Fatalf("expected role to survive the merge, got %v", ent.Attributes["role"])
	}
	if ent.Description != "the user" {
		t.Fatalf("expected description to survive empty update, got %q", ent.Description)
	}
	if len(ent.Embedding) != 2 {
		t.Fatalf("expected stored embedding to survive, got %#v", ent.Embedding)
	}
	upserts := runner.callsContaining("MERGE (e:Entity")
	if len(upserts) != 1 {
		t.Fatalf("expected a single entity MERGE, got %d", len(upserts))
	}
	attrs, _ := upserts[0].params["attrs"].(string)
	if !strings.Contains(attrs, `"city":"Porto"`) || !strings.Contains(attrs, `"role":"developer"`) {
		t.Fatalf("unexpected merged attrs payload %q", attrs)
	}
}

func TestNeo4jUpsertRelationshipMissingEndpointRollsBack(t *testing.T) {
	runner := &fakeRunner{}
	store, driver := newFakeStore(t, runner)

	err := store.UpsertRelationship(context.Background(), model.UserScope("u1"), "a", "missing", "KNOWS", "", 0.5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	tx := driver.sessions[0].txs[0]
	if tx.committed {
		t.Fatal("expected no commit for a missing endpoint")
	}
	if !tx.rolledBack {
		t.Fatal("expected rollback for a missing endpoint")
	}
}

func TestNeo4jApplyDeltaCommitsEntitiesAndEdges(t *testing.T) {
	runner := &fakeRunner{}
	runner.respond = func(query string, params map[string]any) (neo4jResult, error) {
		if strings.Contains(query, "MERGE (s)-[r:RELATED") {
			return &fakeResult{records: []fakeRecord{{"strength": 0.8}}}, nil
		}
		return &fakeResult{}, nil
	}
	store, driver := newFakeStore(t, runner)

	err := store.ApplyDelta(context.Background(), model.UserScope("u1"), model.GraphDelta{
		Entities: []model.EntityDraft{
			{Name: "João", Type: model.EntityPerson},
			{Name: "Python", Type: model.EntitySkill},
		},
		Relationships: []model.RelationshipDraft{
			{Source: "João", Target: "Python", Type: "KNOWS", Strength: 0.8},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(driver.sessions) != 1 {
		t.Fatalf("expected a single session, got %d", len(driver.sessions))
	}
	txs := driver.sessions[0].txs
	if len(txs) != 1 || !txs[0].committed {
		t.Fatal("expected the whole delta inside one committed transaction")
	}
	if got := len(runner.callsContaining("MERGE (e:Entity")); got != 2 {
		t.Fatalf("expected 2 entity upserts, got %d", got)
	}
	if got := len(runner.callsContaining("MERGE (s)-[r:RELATED")); got != 1 {
		t.Fatalf("expected 1 relationship upsert, got %d", got)
	}
}

func TestNeo4jApplyDeltaResolvesStoredEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	runner.respond = func(query string, params map[string]any) (neo4jResult, error) {
		if strings.Contains(query, "norm_name: $norm_name})") {
			return &fakeResult{records: []fakeRecord{{"id": "stored-python"}}}, nil
		}
		if strings.Contains(query, "MERGE (s)-[r:RELATED") {
			return &fakeResult{records: []fakeRecord{{"strength": 0.8}}}, nil
		}
		return &fakeResult{}, nil
	}
	store, driver := newFakeStore(t, runner)

	err := store.ApplyDelta(context.Background(), model.UserScope("u1"), model.GraphDelta{
		Entities: []model.EntityDraft{
			{Name: "João", Type: model.EntityPerson},
		},
		Relationships: []model.RelationshipDraft{
			{Source: "João", Target: "Python", Type: "KNOWS", Strength: 0.8},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lookups := runner.callsContaining("norm_name: $norm_name})")
	if len(lookups) != 1 {
		t.Fatalf("expected one stored-entity lookup, got %d", len(lookups))
	}
	if lookups[0].params["norm_name"] != "python" || lookups[0].params["scope"] != "user:u1" {
		t.Fatalf("unexpected lookup params %#v", lookups[0].params)
	}
	edges := runner.callsContaining("MERGE (s)-[r:RELATED")
	if len(edges) != 1 {
		t.Fatalf("expected 1 relationship upsert, got %d", len(edges))
	}
	if edges[0].params["target"] != "stored-python" {
		t.Fatalf("expected the edge to target the stored entity, got %v", edges[0].params["target"])
	}
	if !driver.sessions[0].txs[0].committed {
		t.Fatal("expected the transaction to commit")
	}
}

func TestNeo4jApplyDeltaRollsBackOnUnknownEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	store, driver := newFakeStore(t, runner)

	err := store.ApplyDelta(context.Background(), model.UserScope("u1"), model.GraphDelta{
		Entities: []model.EntityDraft{
			{Name: "João", Type: model.EntityPerson},
		},
		Relationships: []model.RelationshipDraft{
			{Source: "João", Target: "Rust", Type: "KNOWS", Strength: 0.8},
		},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	tx := driver.sessions[0].txs[0]
	if tx.committed || !tx.rolledBack {
		t.Fatal("expected rollback, not commit")
	}
}

func TestNeo4jQueryByEmbedding(t *testing.T) {
	runner := &fakeRunner{}
	runner.respond = func(query string, params map[string]any) (neo4jResult, error) {
		if strings.Contains(query, "db.index.vector.queryNodes") {
			return &fakeResult{records: []fakeRecord{
				{
					"id": "e1", "scope": "user:u1", "name": "Python",
					"norm_name": "python", "type": model.EntitySkill,
					"description": "language", "attrs": "{}",
					"updated_at": "2025-02-01T00:00:00Z", "score": 0.92,
				},
				{
					"id": "e2", "scope": "user:u1", "name": "Coffee",
					"norm_name": "coffee", "type": model.EntityInterest,
					"description": "", "attrs": "",
					"updated_at": "2025-01-01T00:00:00Z", "score": 0.74,
				},
			}}, nil
		}
		return &fakeResult{}, nil
	}
	store, _ := newFakeStore(t, runner)

	scored, err := store.QueryByEmbedding(context.Background(), model.UserScope("u1"), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 results, got %d", len(scored))
	}
	if scored[0].Entity.ID != "e1" || scored[0].Score != 0.92 {
		t.Fatalf("unexpected first result %#v", scored[0])
	}
	calls := runner.callsContaining("db.index.vector.queryNodes")
	if len(calls) != 1 {
		t.Fatalf("expected a single vector query, got %d", len(calls))
	}
	if calls[0].params["index"] != "entity_embedding" || calls[0].params["scope"] != "user:u1" {
		t.Fatalf("unexpected query params %#v", calls[0].params)
	}
}

func TestNeo4jQueryByTextLowersTerms(t *testing.T) {
	runner := &fakeRunner{}
	store, _ := newFakeStore(t, runner)

	if _, err := store.QueryByText(context.Background(), model.UserScope("u1"), []string{" Python ", "GoLang"}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := runner.callsContaining("CONTAINS term")
	if len(calls) != 1 {
		t.Fatalf("expected a single text query, got %d", len(calls))
	}
	terms, _ := calls[0].params["terms"].([]string)
	if len(terms) != 2 || terms[0] != "python" || terms[1] != "golang" {
		t.Fatalf("expected lowered trimmed terms, got %#v", terms)
	}
}

func TestNeo4jEntityNotFound(t *testing.T) {
	runner := &fakeRunner{}
	store, _ := newFakeStore(t, runner)

	_, err := store.Entity(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNeo4jCreateSchemaIssuesVectorIndex(t *testing.T) {
	runner := &fakeRunner{}
	store, _ := newFakeStore(t, runner)

	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.callsContaining("CREATE VECTOR INDEX")) != 1 {
		t.Fatal("expected the vector index statement")
	}
	if len(runner.callsContaining("CREATE CONSTRAINT")) != 1 {
		t.Fatal("expected the uniqueness constraint statement")
	}
}
