package tiers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

func TestResolveSessionRequiresOpen(t *testing.T) {
	m := NewManager(store.NewInMemoryGraphStore(), "")

	if err := m.Resolve(model.SessionScope("s1")); !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("expected ErrScopeNotFound, got %v", err)
	}
	if err := m.OpenSession("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Resolve(model.SessionScope("s1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveUserAndCompanyAlwaysSucceed(t *testing.T) {
	m := NewManager(store.NewInMemoryGraphStore(), "")
	if err := m.Resolve(model.UserScope("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Resolve(m.CompanyScope()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClearSessionPurgesGraph(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	m := NewManager(graph, "")
	m.OpenSession("s1")

	scope := model.SessionScope("s1")
	if _, err := graph.UpsertEntity(context.Background(), scope, model.EntityDraft{Name: "secret", Type: model.EntityConcept}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.ClearSession(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := graph.QueryByText(context.Background(), scope, []string{"secret"}, 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty scope after clear, got %#v (%v)", got, err)
	}
	if m.SessionOpen("s1") {
		t.Fatal("expected session unregistered after clear")
	}
}

func TestClearUnknownSession(t *testing.T) {
	m := NewManager(store.NewInMemoryGraphStore(), "")
	if err := m.ClearSession(context.Background(), "nope"); !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("expected ErrScopeNotFound, got %v", err)
	}
}

func TestExpireSessions(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	m := NewManager(graph, "")
	current := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return current }

	m.OpenSession("old")
	if _, err := graph.UpsertEntity(context.Background(), model.SessionScope("old"), model.EntityDraft{Name: "stale", Type: model.EntityConcept}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = current.Add(2 * time.Hour)
	m.OpenSession("fresh")

	expired, err := m.ExpireSessions(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expected only the idle session expired, got %#v", expired)
	}
	if m.SessionOpen("old") || !m.SessionOpen("fresh") {
		t.Fatal("unexpected session registry state")
	}
	got, err := graph.QueryByText(context.Background(), model.SessionScope("old"), []string{"stale"}, 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected expired session purged, got %#v (%v)", got, err)
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	m := NewManager(store.NewInMemoryGraphStore(), "")
	current := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return current }

	m.OpenSession("s1")
	current = current.Add(50 * time.Minute)
	if err := m.Touch("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(50 * time.Minute)

	expired, err := m.ExpireSessions(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected touched session to survive, got %#v", expired)
	}
}

func TestWriteCompanyContext(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	m := NewManager(graph, "acme")

	ent, err := m.WriteCompanyContext(context.Background(), "Refund policy", "30 days, no questions asked", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.Type != model.EntityContext {
		t.Fatalf("expected CONTEXT type, got %q", ent.Type)
	}
	if ent.Scope != model.CompanyScope("acme") {
		t.Fatalf("unexpected scope %#v", ent.Scope)
	}
}
