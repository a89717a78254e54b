package store

import (
	"context"
	"errors"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

// ErrNotFound is returned when a direct lookup or a relationship endpoint
// references an entity that does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrUnavailable signals a transport failure of the persistence layer; the
// caller decides the retry policy.
var ErrUnavailable = errors.New("graph store unavailable")

// GraphStore is the narrow persistence contract for entities and
// relationships. Upserts match on (scope, normalized name, type); attribute
// maps merge key-wise, relationship strength accumulates bounded at 1.0.
// Concurrent upserts to the same entity identity are serialized by the
// implementation.
type GraphStore interface {
	// UpsertEntity creates or merges an entity and returns its persisted form.
	// A nil embedding keeps the stored one.
	UpsertEntity(ctx context.Context, scope model.Scope, draft model.EntityDraft) (model.Entity, error)

	// UpsertRelationship reinforces (source, target, type) by delta, creating
	// the edge with strength=delta when absent. Fails with ErrNotFound when an
	// endpoint id does not exist.
	UpsertRelationship(ctx context.Context, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error

	// ApplyDelta commits everything one turn extracted as a single atomic
	// unit: either all entities and relationships land, or none do.
	ApplyDelta(ctx context.Context, scope model.Scope, delta model.GraphDelta) error

	// QueryByEmbedding returns entities ordered by cosine similarity to the
	// query vector, best first.
	QueryByEmbedding(ctx context.Context, scope model.Scope, vector []float32, limit int) ([]model.ScoredEntity, error)

	// QueryByText returns entities whose name, description or type contain any
	// of the given terms (case-insensitive substring match).
	QueryByText(ctx context.Context, scope model.Scope, terms []string, limit int) ([]model.Entity, error)

	// Neighbors returns the relationships reachable within depth hops of the
	// entity, in either edge direction.
	Neighbors(ctx context.Context, entityID string, depth int) ([]model.Relationship, error)

	// Entity resolves an entity by id.
	Entity(ctx context.Context, id string) (model.Entity, error)

	// DeleteScope removes every entity and relationship owned by the scope.
	DeleteScope(ctx context.Context, scope model.Scope) error
}

// SchemaInitializer is implemented by stores that need constraints, indexes
// or tables bootstrapped before first use.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context) error
}
