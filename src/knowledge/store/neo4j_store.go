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
)

// Neo4jAccessMode controls whether a session is opened for read or write.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of Neo4j session
// configuration the store requires.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the driver capabilities used by the store so tests
// can provide lightweight fakes; the real driver adapter is guarded behind
// the neo4j build tag.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jGraphStore persists the knowledge graph in Neo4j: entities as Entity
// nodes keyed by (scope, norm_name, type), relationships as RELATED edges
// with bounded reinforced strength, and vector search through the entity
// embedding index.
type Neo4jGraphStore struct {
	driver    neo4jDriver
	database  string
	vectorIdx string
	vectorDim int
	nowFn     func() time.Time
}

var (
	_ GraphStore        = (*Neo4jGraphStore)(nil)
	_ SchemaInitializer = (*Neo4jGraphStore)(nil)
)

// ErrNeo4jUnavailable is returned when graph operations are attempted
// without a configured driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// NewNeo4jGraphStore builds a store over the provided driver.
func NewNeo4jGraphStore(driver neo4jDriver, database string) (*Neo4jGraphStore, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jGraphStore{
		driver:    driver,
		database:  database,
		vectorIdx: "entity_embedding",
		vectorDim: 1536,
		nowFn:     time.Now,
	}, nil
}

func (s *Neo4jGraphStore) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Neo4jGraphStore) session(ctx context.Context, mode Neo4jAccessMode) (neo4jSession, error) {
	if s.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: mode, DatabaseName: s.database})
	if err != nil {
		return nil, fmt.Errorf("%w: new session: %v", ErrUnavailable, err)
	}
	return session, nil
}

// CreateSchema ensures uniqueness constraints, the scope index and the
// vector index exist.
func (s *Neo4jGraphStore) CreateSchema(ctx context.Context) error {
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (e:Entity) ON (e.scope)",
		"CREATE INDEX IF NOT EXISTS FOR (e:Entity) ON (e.scope, e.norm_name, e.type)",
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (e:Entity) ON (e.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			s.vectorIdx, s.vectorDim),
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

// Close releases the underlying driver.
func (s *Neo4jGraphStore) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

// UpsertEntity merges the entity node, combining attributes client-side so
// new keys are added and existing ones overwritten.
func (s *Neo4jGraphStore) UpsertEntity(ctx context.Context, scope model.Scope, draft model.EntityDraft) (model.Entity, error) {
	if err := scope.Validate(); err != nil {
		return model.Entity{}, err
	}
	if err := draft.Validate(); err != nil {
		return model.Entity{}, err
	}
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return model.Entity{}, err
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return model.Entity{}, fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Close(ctx)
	ent, err := s.upsertEntityTx(ctx, tx, scope, draft)
	if err != nil {
		tx.Rollback(ctx)
		return model.Entity{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return model.Entity{}, fmt.Errorf("neo4j commit: %w", err)
	}
	return ent, nil
}

func (s *Neo4jGraphStore) upsertEntityTx(ctx context.Context, tx neo4jTransaction, scope model.Scope, draft model.EntityDraft) (model.Entity, error) {
	norm := model.NormalizeName(draft.Name)
	now := s.now()

	// Read the current attributes first; jsonb-style merge happens here, not
	// in Cypher, because attrs live as one JSON string property.
	existing, err := s.findEntityTx(ctx, tx, scope, norm, draft.Type)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.Entity{}, err
	}

	attrs := make(map[string]any)
	id := uuid.NewString()
	description := draft.Description
	if existing != nil {
		id = existing.ID
		for k, v := range existing.Attributes {
			attrs[k] = v
		}
		if strings.TrimSpace(description) == "" {
			description = existing.Description
		}
	}
	for k, v := range draft.Attributes {
		attrs[k] = v
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return model.Entity{}, fmt.Errorf("encode attrs: %w", err)
	}

	params := map[string]any{
		"id":            id,
		"scope":         scope.Token(),
		"name":          draft.Name,
		"norm_name":     norm,
		"type":          draft.Type,
		"description":   description,
		"attrs":         string(attrsJSON),
		"embedding":     f32toF64(draft.Embedding),
		"has_embedding": len(draft.Embedding) > 0,
		"updated_at":    now.Format(time.RFC3339Nano),
	}
	res, err := tx.Run(ctx, neo4jUpsertEntityCypher, params)
	if err != nil {
		return model.Entity{}, fmt.Errorf("neo4j upsert entity: %w", err)
	}
	if res != nil {
		_ = res.Close(ctx)
	}

	ent := model.Entity{
		ID:          id,
		Scope:       scope,
		Name:        draft.Name,
		NormName:    norm,
		Type:        draft.Type,
		Description: description,
		Attributes:  attrs,
		UpdatedAt:   now,
	}
	if len(draft.Embedding) > 0 {
		ent.Embedding = append([]float32(nil), draft.Embedding...)
	} else if existing != nil {
		ent.Embedding = existing.Embedding
	}
	return ent, nil
}

func (s *Neo4jGraphStore) findEntityTx(ctx context.Context, tx neo4jTransaction, scope model.Scope, norm, typ string) (*model.Entity, error) {
	res, err := tx.Run(ctx, neo4jFindEntityCypher, map[string]any{
		"scope":     scope.Token(),
		"norm_name": norm,
		"type":      typ,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j find entity: %w", err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	ent, err := mapNeo4jEntity(res.Record())
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// resolveEndpointTx maps a relationship endpoint name to an entity id: the
// delta's own entities first, then entities already stored in the scope,
// matching the in-memory store's resolution.
func (s *Neo4jGraphStore) resolveEndpointTx(ctx context.Context, tx neo4jTransaction, scope model.Scope, name string, ids map[string]string) (string, error) {
	norm := model.NormalizeName(name)
	if id, ok := ids[norm]; ok {
		return id, nil
	}
	res, err := tx.Run(ctx, neo4jFindByNameCypher, map[string]any{
		"scope":     scope.Token(),
		"norm_name": norm,
	})
	if err != nil {
		return "", fmt.Errorf("neo4j resolve endpoint: %w", err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("relationship endpoint %q: %w", name, ErrNotFound)
	}
	if v, ok := res.Record().Get("id"); ok {
		if id := toString(v); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("relationship endpoint %q: %w", name, ErrNotFound)
}

// UpsertRelationship reinforces the edge inside Neo4j; strength accumulation
// is done in Cypher so concurrent writers never lose an update.
func (s *Neo4jGraphStore) UpsertRelationship(ctx context.Context, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error {
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Close(ctx)
	if err := s.upsertRelationshipTx(ctx, tx, scope, sourceID, targetID, relType, description, delta); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

func (s *Neo4jGraphStore) upsertRelationshipTx(ctx context.Context, tx neo4jTransaction, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error {
	params := map[string]any{
		"source":      sourceID,
		"target":      targetID,
		"rel_type":    relType,
		"description": description,
		"delta":       delta,
		"scope":       scope.Token(),
		"updated_at":  s.now().Format(time.RFC3339Nano),
	}
	res, err := tx.Run(ctx, neo4jUpsertRelationshipCypher, params)
	if err != nil {
		return fmt.Errorf("neo4j upsert relationship: %w", err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return err
		}
		return fmt.Errorf("relationship endpoints %s -> %s: %w", sourceID, targetID, ErrNotFound)
	}
	return nil
}

// ApplyDelta commits one turn's extraction inside a single explicit
// transaction; any failure rolls the whole turn back.
func (s *Neo4jGraphStore) ApplyDelta(ctx context.Context, scope model.Scope, delta model.GraphDelta) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Close(ctx)

	ids := make(map[string]string, len(delta.Entities))
	for _, draft := range delta.Entities {
		ent, upErr := s.upsertEntityTx(ctx, tx, scope, draft)
		if upErr != nil {
			tx.Rollback(ctx)
			return upErr
		}
		ids[ent.NormName] = ent.ID
	}
	for _, rel := range delta.Relationships {
		sourceID, rErr := s.resolveEndpointTx(ctx, tx, scope, rel.Source, ids)
		if rErr != nil {
			tx.Rollback(ctx)
			return rErr
		}
		targetID, rErr := s.resolveEndpointTx(ctx, tx, scope, rel.Target, ids)
		if rErr != nil {
			tx.Rollback(ctx)
			return rErr
		}
		if err := s.upsertRelationshipTx(ctx, tx, scope, sourceID, targetID, rel.Type, rel.Description, rel.Strength); err != nil {
			tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

// QueryByEmbedding queries the vector index and filters to the scope.
func (s *Neo4jGraphStore) QueryByEmbedding(ctx context.Context, scope model.Scope, vector []float32, limit int) ([]model.ScoredEntity, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jVectorQueryCypher, map[string]any{
		"index":  s.vectorIdx,
		"k":      limit * 4,
		"vector": f32toF64(vector),
		"scope":  scope.Token(),
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j vector query: %w", err)
	}
	defer res.Close(ctx)
	var out []model.ScoredEntity
	for res.Next(ctx) {
		ent, mapErr := mapNeo4jEntity(res.Record())
		if mapErr != nil {
			return nil, mapErr
		}
		score := 0.0
		if v, ok := res.Record().Get("score"); ok {
			score = toFloat64(v)
		}
		out = append(out, model.ScoredEntity{Entity: ent, Score: score})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryByText mirrors the original deployment's CONTAINS matching.
func (s *Neo4jGraphStore) QueryByText(ctx context.Context, scope model.Scope, terms []string, limit int) ([]model.Entity, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			lowered = append(lowered, t)
		}
	}
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jTextQueryCypher, map[string]any{
		"scope": scope.Token(),
		"terms": lowered,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j text query: %w", err)
	}
	defer res.Close(ctx)
	var out []model.Entity
	for res.Next(ctx) {
		ent, mapErr := mapNeo4jEntity(res.Record())
		if mapErr != nil {
			return nil, mapErr
		}
		out = append(out, ent)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Neighbors returns RELATED edges within depth hops of the entity.
func (s *Neo4jGraphStore) Neighbors(ctx context.Context, entityID string, depth int) ([]model.Relationship, error) {
	if depth <= 0 {
		return nil, nil
	}
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jNeighborsCypher, map[string]any{
		"id":   entityID,
		"hops": depth,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j neighbors: %w", err)
	}
	defer res.Close(ctx)
	var out []model.Relationship
	for res.Next(ctx) {
		rel, mapErr := mapNeo4jRelationship(res.Record())
		if mapErr != nil {
			return nil, mapErr
		}
		out = append(out, rel)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Entity resolves an entity node by id.
func (s *Neo4jGraphStore) Entity(ctx context.Context, id string) (model.Entity, error) {
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return model.Entity{}, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jGetEntityCypher, map[string]any{"id": id})
	if err != nil {
		return model.Entity{}, fmt.Errorf("neo4j get entity: %w", err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return model.Entity{}, err
		}
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return mapNeo4jEntity(res.Record())
}

// DeleteScope detaches and deletes every node owned by the scope.
func (s *Neo4jGraphStore) DeleteScope(ctx context.Context, scope model.Scope) error {
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, "MATCH (e:Entity {scope: $scope}) DETACH DELETE e", map[string]any{"scope": scope.Token()})
	if err != nil {
		return fmt.Errorf("neo4j delete scope: %w", err)
	}
	if res != nil {
		_ = res.Close(ctx)
	}
	return nil
}

const (
	neo4jUpsertEntityCypher = `
MERGE (e:Entity {scope: $scope, norm_name: $norm_name, type: $type})
ON CREATE SET e.id = $id, e.created_at = $updated_at
SET e.name = $name,
    e.description = $description,
    e.attrs = $attrs,
    e.embedding = CASE WHEN $has_embedding THEN $embedding ELSE e.embedding END,
    e.updated_at = $updated_at
`
	neo4jFindEntityCypher = `
MATCH (e:Entity {scope: $scope, norm_name: $norm_name, type: $type})
RETURN e.id AS id, e.scope AS scope, e.name AS name, e.norm_name AS norm_name,
       e.type AS type, e.description AS description, e.attrs AS attrs,
       e.embedding AS embedding, e.updated_at AS updated_at
LIMIT 1
`
	neo4jFindByNameCypher = `
MATCH (e:Entity {scope: $scope, norm_name: $norm_name})
RETURN e.id AS id
LIMIT 1
`
	neo4jUpsertRelationshipCypher = `
MATCH (s:Entity {id: $source})
MATCH (t:Entity {id: $target})
MERGE (s)-[r:RELATED {type: $rel_type}]->(t)
ON CREATE SET r.strength = 0.0, r.created_at = $updated_at
SET r.strength = CASE WHEN r.strength + $delta > 1.0 THEN 1.0 ELSE r.strength + $delta END,
    r.description = CASE WHEN $description <> '' THEN $description ELSE coalesce(r.description, '') END,
    r.scope = $scope,
    r.updated_at = $updated_at
RETURN r.strength AS strength
`
	neo4jVectorQueryCypher = `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
WHERE node.scope = $scope
RETURN node.id AS id, node.scope AS scope, node.name AS name,
       node.norm_name AS norm_name, node.type AS type,
       node.description AS description, node.attrs AS attrs,
       node.embedding AS embedding, node.updated_at AS updated_at,
       score
ORDER BY score DESC
LIMIT $limit
`
	neo4jTextQueryCypher = `
MATCH (e:Entity {scope: $scope})
WHERE ANY(term IN $terms WHERE toLower(e.name) CONTAINS term
   OR toLower(e.description) CONTAINS term
   OR toLower(e.type) CONTAINS term)
RETURN e.id AS id, e.scope AS scope, e.name AS name, e.norm_name AS norm_name,
       e.type AS type, e.description AS description, e.attrs AS attrs,
       e.embedding AS embedding, e.updated_at AS updated_at
ORDER BY e.updated_at DESC
LIMIT $limit
`
	neo4jNeighborsCypher = `
MATCH (e:Entity {id: $id})
MATCH path=(e)-[:RELATED*1..$hops]-(n:Entity)
UNWIND relationships(path) AS r
WITH DISTINCT r
MATCH (s:Entity)-[r]->(t:Entity)
RETURN s.id AS source_id, t.id AS target_id, r.type AS type,
       r.description AS description, r.strength AS strength,
       r.scope AS scope, r.updated_at AS updated_at
`
	neo4jGetEntityCypher = `
MATCH (e:Entity {id: $id})
RETURN e.id AS id, e.scope AS scope, e.name AS name, e.norm_name AS norm_name,
       e.type AS type, e.description AS description, e.attrs AS attrs,
       e.embedding AS embedding, e.updated_at AS updated_at
LIMIT 1
`
)

func mapNeo4jEntity(rec neo4jRecord) (model.Entity, error) {
	if rec == nil {
		return model.Entity{}, errors.New("neo4j record is nil")
	}
	var out model.Entity
	if v, ok := rec.Get("id"); ok {
		out.ID = toString(v)
	}
	if v, ok := rec.Get("scope"); ok {
		if scope, err := model.ParseScope(toString(v)); err == nil {
			out.Scope = scope
		}
	}
	if v, ok := rec.Get("name"); ok {
		out.Name = toString(v)
	}
	if v, ok := rec.Get("norm_name"); ok {
		out.NormName = toString(v)
	}
	if v, ok := rec.Get("type"); ok {
		out.Type = toString(v)
	}
	if v, ok := rec.Get("description"); ok {
		out.Description = toString(v)
	}
	if v, ok := rec.Get("attrs"); ok {
		raw := toString(v)
		if strings.TrimSpace(raw) != "" && raw != "{}" {
			attrs := make(map[string]any)
			if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
				out.Attributes = attrs
			}
		}
	}
	if v, ok := rec.Get("embedding"); ok {
		out.Embedding = toVector(v)
	}
	if v, ok := rec.Get("updated_at"); ok {
		out.UpdatedAt = parseTime(toString(v))
	}
	return out, nil
}

func mapNeo4jRelationship(rec neo4jRecord) (model.Relationship, error) {
	if rec == nil {
		return model.Relationship{}, errors.New("neo4j record is nil")
	}
	var out model.Relationship
	if v, ok := rec.Get("source_id"); ok {
		out.SourceID = toString(v)
	}
	if v, ok := rec.Get("target_id"); ok {
		out.TargetID = toString(v)
	}
	if v, ok := rec.Get("type"); ok {
		out.Type = toString(v)
	}
	if v, ok := rec.Get("description"); ok {
		out.Description = toString(v)
	}
	if v, ok := rec.Get("strength"); ok {
		out.Strength = toFloat64(v)
	}
	if v, ok := rec.Get("scope"); ok {
		if scope, err := model.ParseScope(toString(v)); err == nil {
			out.Scope = scope
		}
	}
	if v, ok := rec.Get("updated_at"); ok {
		out.UpdatedAt = parseTime(toString(v))
	}
	return out, nil
}

func f32toF64(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toVector(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, item := range list {
		out = append(out, float32(toFloat64(item)))
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float32:
		return float64(t)
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}
