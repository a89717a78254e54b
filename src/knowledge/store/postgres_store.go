package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	json "github.com/alpkeskin/gotoon"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresGraphStore keeps the knowledge graph in Postgres with pgvector for
// similarity search. Attribute merge uses jsonb ||, strength reinforcement
// uses LEAST(1.0, old + delta), and ApplyDelta runs in one transaction.
type PostgresGraphStore struct {
	pool *pgxpool.Pool
}

var (
	_ GraphStore        = (*PostgresGraphStore)(nil)
	_ SchemaInitializer = (*PostgresGraphStore)(nil)
)

// NewPostgresGraphStore connects to the given DSN.
func NewPostgresGraphStore(ctx context.Context, dsn string) (*PostgresGraphStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresGraphStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresGraphStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema bootstraps the pgvector extension and both tables.
func (s *PostgresGraphStore) CreateSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS kg_entities (
			id          UUID PRIMARY KEY,
			scope       TEXT NOT NULL,
			name        TEXT NOT NULL,
			norm_name   TEXT NOT NULL,
			type        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			attrs       JSONB NOT NULL DEFAULT '{}',
			embedding   vector(1536),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (scope, norm_name, type)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_relationships (
			scope       TEXT NOT NULL,
			source_id   UUID NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
			target_id   UUID NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
			type        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			strength    DOUBLE PRECISION NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, target_id, type)
		)`,
		`CREATE INDEX IF NOT EXISTS kg_entities_scope_idx ON kg_entities (scope)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgUpsertEntitySQL = `
INSERT INTO kg_entities (id, scope, name, norm_name, type, description, attrs, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (scope, norm_name, type) DO UPDATE SET
	name        = EXCLUDED.name,
	description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE kg_entities.description END,
	attrs       = kg_entities.attrs || EXCLUDED.attrs,
	embedding   = COALESCE(EXCLUDED.embedding, kg_entities.embedding),
	updated_at  = EXCLUDED.updated_at
RETURNING id, description, attrs, updated_at
`

func (s *PostgresGraphStore) upsertEntityIn(ctx context.Context, q pgQuerier, scope model.Scope, draft model.EntityDraft) (model.Entity, error) {
	norm := model.NormalizeName(draft.Name)
	attrs := draft.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return model.Entity{}, fmt.Errorf("encode attrs: %w", err)
	}
	var embedding any
	if len(draft.Embedding) > 0 {
		embedding = pgvector.NewVector(draft.Embedding)
	}
	row := q.QueryRow(ctx, pgUpsertEntitySQL,
		uuid.NewString(), scope.Token(), draft.Name, norm, draft.Type,
		draft.Description, attrsJSON, embedding, time.Now().UTC())
	ent := model.Entity{
		Scope:    scope,
		Name:     draft.Name,
		NormName: norm,
		Type:     draft.Type,
	}
	var mergedAttrs []byte
	if err := row.Scan(&ent.ID, &ent.Description, &mergedAttrs, &ent.UpdatedAt); err != nil {
		return model.Entity{}, wrapPgError("upsert entity", err)
	}
	if len(mergedAttrs) > 0 {
		merged := make(map[string]any)
		if err := json.Unmarshal(mergedAttrs, &merged); err == nil && len(merged) > 0 {
			ent.Attributes = merged
		}
	}
	return ent, nil
}

// UpsertEntity creates or merges the entity row.
func (s *PostgresGraphStore) UpsertEntity(ctx context.Context, scope model.Scope, draft model.EntityDraft) (model.Entity, error) {
	if err := scope.Validate(); err != nil {
		return model.Entity{}, err
	}
	if err := draft.Validate(); err != nil {
		return model.Entity{}, err
	}
	return s.upsertEntityIn(ctx, s.pool, scope, draft)
}

const pgUpsertRelationshipSQL = `
INSERT INTO kg_relationships (scope, source_id, target_id, type, description, strength, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_id, target_id, type) DO UPDATE SET
	strength    = LEAST(1.0, kg_relationships.strength + EXCLUDED.strength),
	description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE kg_relationships.description END,
	updated_at  = EXCLUDED.updated_at
`

func (s *PostgresGraphStore) upsertRelationshipIn(ctx context.Context, q pgQuerier, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error {
	_, err := q.Exec(ctx, pgUpsertRelationshipSQL,
		scope.Token(), sourceID, targetID, relType, description, delta, time.Now().UTC())
	if err != nil {
		return wrapPgError("upsert relationship", err)
	}
	return nil
}

// UpsertRelationship reinforces the edge; a foreign key violation maps to
// ErrNotFound since it means an endpoint id does not exist.
func (s *PostgresGraphStore) UpsertRelationship(ctx context.Context, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error {
	if delta < 0.0 || delta > 1.0 {
		return fmt.Errorf("strength delta %v out of range", delta)
	}
	return s.upsertRelationshipIn(ctx, s.pool, scope, sourceID, targetID, relType, description, delta)
}

// ApplyDelta commits the turn inside one transaction.
func (s *PostgresGraphStore) ApplyDelta(ctx context.Context, scope model.Scope, delta model.GraphDelta) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	ids := make(map[string]string, len(delta.Entities))
	for _, draft := range delta.Entities {
		if err := draft.Validate(); err != nil {
			return err
		}
		ent, upErr := s.upsertEntityIn(ctx, tx, scope, draft)
		if upErr != nil {
			return upErr
		}
		ids[ent.NormName] = ent.ID
	}
	for _, rel := range delta.Relationships {
		if err := rel.Validate(); err != nil {
			return err
		}
		sourceID, err := s.resolveEndpointIn(ctx, tx, scope, rel.Source, ids)
		if err != nil {
			return err
		}
		targetID, err := s.resolveEndpointIn(ctx, tx, scope, rel.Target, ids)
		if err != nil {
			return err
		}
		if err := s.upsertRelationshipIn(ctx, tx, scope, sourceID, targetID, rel.Type, rel.Description, rel.Strength); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

const pgResolveEndpointSQL = `
SELECT id FROM kg_entities WHERE scope = $1 AND norm_name = $2 LIMIT 1
`

// resolveEndpointIn maps a relationship endpoint name to an entity id: first
// against the delta's own entities, then against entities already stored in
// the scope, same as the in-memory store.
func (s *PostgresGraphStore) resolveEndpointIn(ctx context.Context, q pgQuerier, scope model.Scope, name string, ids map[string]string) (string, error) {
	norm := model.NormalizeName(name)
	if id, ok := ids[norm]; ok {
		return id, nil
	}
	var id string
	if err := q.QueryRow(ctx, pgResolveEndpointSQL, scope.Token(), norm).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("relationship endpoint %q: %w", name, ErrNotFound)
		}
		return "", wrapPgError("resolve endpoint", err)
	}
	return id, nil
}

const pgVectorQuerySQL = `
SELECT id, scope, name, norm_name, type, description, attrs, updated_at,
       1 - (embedding <=> $2) AS score
FROM kg_entities
WHERE scope = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3
`

// QueryByEmbedding orders by pgvector cosine distance.
func (s *PostgresGraphStore) QueryByEmbedding(ctx context.Context, scope model.Scope, vector []float32, limit int) ([]model.ScoredEntity, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, pgVectorQuerySQL, scope.Token(), pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, wrapPgError("vector query", err)
	}
	defer rows.Close()
	var out []model.ScoredEntity
	for rows.Next() {
		var scored model.ScoredEntity
		ent, scanErr := scanPgEntity(rows, &scored.Score)
		if scanErr != nil {
			return nil, scanErr
		}
		scored.Entity = ent
		out = append(out, scored)
	}
	return out, rows.Err()
}

const pgTextQuerySQL = `
SELECT id, scope, name, norm_name, type, description, attrs, updated_at
FROM kg_entities
WHERE scope = $1 AND (name ILIKE ANY($2) OR description ILIKE ANY($2) OR type ILIKE ANY($2))
ORDER BY updated_at DESC
LIMIT $3
`

// likeEscaper neutralizes ILIKE metacharacters so terms match literally, the
// same semantics as the in-memory store's substring match.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// QueryByText matches any term as a case-insensitive literal substring.
func (s *PostgresGraphStore) QueryByText(ctx context.Context, scope model.Scope, terms []string, limit int) ([]model.Entity, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := strings.TrimSpace(term); t != "" {
			patterns = append(patterns, likePattern(t))
		}
	}
	rows, err := s.pool.Query(ctx, pgTextQuerySQL, scope.Token(), patterns, limit)
	if err != nil {
		return nil, wrapPgError("text query", err)
	}
	defer rows.Close()
	var out []model.Entity
	for rows.Next() {
		ent, scanErr := scanPgEntity(rows, nil)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

const pgNeighborsSQL = `
SELECT scope, source_id, target_id, type, description, strength, updated_at
FROM kg_relationships
WHERE source_id = ANY($1) OR target_id = ANY($1)
`

// Neighbors walks the edge table iteratively, one frontier per hop.
func (s *PostgresGraphStore) Neighbors(ctx context.Context, entityID string, depth int) ([]model.Relationship, error) {
	if depth <= 0 {
		return nil, nil
	}
	visited := map[string]struct{}{entityID: {}}
	frontier := []string{entityID}
	seen := make(map[string]struct{})
	var out []model.Relationship
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rows, err := s.pool.Query(ctx, pgNeighborsSQL, frontier)
		if err != nil {
			return nil, wrapPgError("neighbors", err)
		}
		var next []string
		for rows.Next() {
			var rel model.Relationship
			var scopeToken string
			if err := rows.Scan(&scopeToken, &rel.SourceID, &rel.TargetID, &rel.Type, &rel.Description, &rel.Strength, &rel.UpdatedAt); err != nil {
				rows.Close()
				return nil, wrapPgError("neighbors scan", err)
			}
			if scope, err := model.ParseScope(scopeToken); err == nil {
				rel.Scope = scope
			}
			key := relKey(rel.SourceID, rel.TargetID, rel.Type)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rel)
			for _, id := range []string{rel.SourceID, rel.TargetID} {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					next = append(next, id)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, wrapPgError("neighbors", err)
		}
		rows.Close()
		frontier = next
	}
	return out, nil
}

const pgGetEntitySQL = `
SELECT id, scope, name, norm_name, type, description, attrs, updated_at
FROM kg_entities
WHERE id = $1
`

// Entity resolves an entity row by id.
func (s *PostgresGraphStore) Entity(ctx context.Context, id string) (model.Entity, error) {
	rows, err := s.pool.Query(ctx, pgGetEntitySQL, id)
	if err != nil {
		return model.Entity{}, wrapPgError("get entity", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.Entity{}, wrapPgError("get entity", err)
		}
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return scanPgEntity(rows, nil)
}

// DeleteScope removes the scope's rows; edges follow via ON DELETE CASCADE.
func (s *PostgresGraphStore) DeleteScope(ctx context.Context, scope model.Scope) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kg_entities WHERE scope = $1`, scope.Token()); err != nil {
		return wrapPgError("delete scope", err)
	}
	return nil
}

func scanPgEntity(rows pgx.Rows, score *float64) (model.Entity, error) {
	var ent model.Entity
	var scopeToken string
	var attrs []byte
	dest := []any{&ent.ID, &scopeToken, &ent.Name, &ent.NormName, &ent.Type, &ent.Description, &attrs, &ent.UpdatedAt}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return model.Entity{}, wrapPgError("scan entity", err)
	}
	if scope, err := model.ParseScope(scopeToken); err == nil {
		ent.Scope = scope
	}
	if len(attrs) > 0 {
		decoded := make(map[string]any)
		if err := json.Unmarshal(attrs, &decoded); err == nil && len(decoded) > 0 {
			ent.Attributes = decoded
		}
	}
	return ent, nil
}

func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return fmt.Errorf("postgres %s: %w", op, ErrNotFound)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres %s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("postgres %s: %w: %v", op, ErrUnavailable, err)
}
