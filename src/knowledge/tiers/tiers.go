// Package tiers manages the three memory scopes: per-user, per-session and
// company-wide. Sessions are registered explicitly and expire; user and
// company scopes are long-lived.
package tiers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

// ErrScopeNotFound is returned when a session scope is referenced before
// being opened or after it expired.
var ErrScopeNotFound = errors.New("scope not found")

// Manager tracks live sessions and owns scope lifecycle operations.
type Manager struct {
	store     store.GraphStore
	companyID string

	mu       sync.RWMutex
	sessions map[string]time.Time // session id -> last activity
	nowFn    func() time.Time
}

// NewManager builds a manager over the graph store. companyID names the
// shared company scope; "global" when empty.
func NewManager(graphStore store.GraphStore, companyID string) *Manager {
	if companyID == "" {
		companyID = "global"
	}
	return &Manager{
		store:     graphStore,
		companyID: companyID,
		sessions:  make(map[string]time.Time),
		nowFn:     time.Now,
	}
}

// CompanyScope returns the shared company scope.
func (m *Manager) CompanyScope() model.Scope {
	return model.CompanyScope(m.companyID)
}

// OpenSession registers a session id, creating it if unknown and refreshing
// its activity timestamp otherwise.
func (m *Manager) OpenSession(id string) error {
	if id == "" {
		return errors.New("session id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = m.nowFn()
	return nil
}

// Touch refreshes a session's activity timestamp; unknown sessions error.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, ErrScopeNotFound)
	}
	m.sessions[id] = m.nowFn()
	return nil
}

// Resolve validates a scope for reads. Session scopes must be open; user and
// company scopes always resolve.
func (m *Manager) Resolve(scope model.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if scope.Tier != model.TierSession {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[scope.ID]; !ok {
		return fmt.Errorf("session %q: %w", scope.ID, ErrScopeNotFound)
	}
	return nil
}

// SessionOpen reports whether the session id is currently registered.
func (m *Manager) SessionOpen(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// ClearSession deletes the session's graph data and unregisters it.
func (m *Manager) ClearSession(ctx context.Context, id string) error {
	m.mu.Lock()
	_, known := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("session %q: %w", id, ErrScopeNotFound)
	}
	return m.store.DeleteScope(ctx, model.SessionScope(id))
}

// ExpireSessions removes sessions idle for longer than maxIdle, purging
// their graph data. Returns the expired session ids.
func (m *Manager) ExpireSessions(ctx context.Context, maxIdle time.Duration) ([]string, error) {
	cutoff := m.nowFn().Add(-maxIdle)

	m.mu.Lock()
	var expired []string
	for id, last := range m.sessions {
		if last.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.store.DeleteScope(ctx, model.SessionScope(id)); err != nil {
			log.Printf("tiers: purge expired session %s: %v", id, err)
			return expired, err
		}
	}
	return expired, nil
}

// WriteCompanyContext records a curated fact in the shared company scope as
// a CONTEXT entity.
func (m *Manager) WriteCompanyContext(ctx context.Context, name, description string, attrs map[string]any) (model.Entity, error) {
	return m.store.UpsertEntity(ctx, m.CompanyScope(), model.EntityDraft{
		Name:        name,
		Type:        model.EntityContext,
		Description: description,
		Attributes:  attrs,
	})
}
