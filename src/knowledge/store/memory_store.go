package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/google/uuid"
)

// InMemoryGraphStore is the reference GraphStore: a process-local graph with
// the full upsert/merge semantics. It backs tests and single-node setups.
// A single lock serializes mutations, which also gives ApplyDelta its
// all-or-nothing behavior: validation happens before any write.
type InMemoryGraphStore struct {
	mu       sync.RWMutex
	entities map[string]*model.Entity          // by id
	byKey    map[string]string                 // (scope|norm_name|type) -> id
	byScope  map[string]map[string]struct{}    // scope token -> entity ids
	rels     map[string]*model.Relationship    // (source|target|type) -> edge
	nowFn    func() time.Time
}

var _ GraphStore = (*InMemoryGraphStore)(nil)

// NewInMemoryGraphStore returns an empty store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		entities: make(map[string]*model.Entity),
		byKey:    make(map[string]string),
		byScope:  make(map[string]map[string]struct{}),
		rels:     make(map[string]*model.Relationship),
		nowFn:    time.Now,
	}
}

func relKey(sourceID, targetID, relType string) string {
	return sourceID + "|" + targetID + "|" + relType
}

func (s *InMemoryGraphStore) now() time.Time {
	if s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

// UpsertEntity creates or merges an entity under the (scope, normalized name,
// type) identity. New attribute keys are added, existing keys overwritten;
// the embedding is replaced only when a new one is supplied.
func (s *InMemoryGraphStore) UpsertEntity(ctx context.Context, scope model.Scope, draft model.EntityDraft) (model.Entity, error) {
	if err := scope.Validate(); err != nil {
		return model.Entity{}, err
	}
	if err := draft.Validate(); err != nil {
		return model.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent := s.upsertEntityLocked(scope, draft)
	return *ent, nil
}

func (s *InMemoryGraphStore) upsertEntityLocked(scope model.Scope, draft model.EntityDraft) *model.Entity {
	norm := model.NormalizeName(draft.Name)
	key := model.EntityKey(scope, norm, draft.Type)
	now := s.now()
	if id, ok := s.byKey[key]; ok {
		ent := s.entities[id]
		ent.Name = draft.Name
		if strings.TrimSpace(draft.Description) != "" {
			ent.Description = draft.Description
		}
		if len(draft.Attributes) > 0 {
			if ent.Attributes == nil {
				ent.Attributes = make(map[string]any, len(draft.Attributes))
			}
			for k, v := range draft.Attributes {
				ent.Attributes[k] = v
			}
		}
		if len(draft.Embedding) > 0 {
			ent.Embedding = append([]float32(nil), draft.Embedding...)
		}
		ent.UpdatedAt = now
		return ent
	}
	ent := &model.Entity{
		ID:          uuid.NewString(),
		Scope:       scope,
		Name:        draft.Name,
		NormName:    norm,
		Type:        draft.Type,
		Description: draft.Description,
		UpdatedAt:   now,
	}
	if len(draft.Attributes) > 0 {
		ent.Attributes = make(map[string]any, len(draft.Attributes))
		for k, v := range draft.Attributes {
			ent.Attributes[k] = v
		}
	}
	if len(draft.Embedding) > 0 {
		ent.Embedding = append([]float32(nil), draft.Embedding...)
	}
	s.entities[ent.ID] = ent
	s.byKey[key] = ent.ID
	token := scope.Token()
	if s.byScope[token] == nil {
		s.byScope[token] = make(map[string]struct{})
	}
	s.byScope[token][ent.ID] = struct{}{}
	return ent
}

// UpsertRelationship reinforces the (source, target, type) edge by delta,
// creating it with strength=delta when absent.
func (s *InMemoryGraphStore) UpsertRelationship(ctx context.Context, scope model.Scope, sourceID, targetID, relType, description string, delta float64) error {
	if delta < 0.0 || delta > 1.0 {
		return fmt.Errorf("strength delta %v out of range", delta)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[sourceID]; !ok {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	if _, ok := s.entities[targetID]; !ok {
		return fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	s.upsertRelationshipLocked(scope, sourceID, targetID, relType, description, delta)
	return nil
}

func (s *InMemoryGraphStore) upsertRelationshipLocked(scope model.Scope, sourceID, targetID, relType, description string, delta float64) {
	key := relKey(sourceID, targetID, relType)
	now := s.now()
	if rel, ok := s.rels[key]; ok {
		rel.Strength = model.ReinforceStrength(rel.Strength, delta)
		if strings.TrimSpace(description) != "" {
			rel.Description = description
		}
		rel.UpdatedAt = now
		return
	}
	s.rels[key] = &model.Relationship{
		Scope:       scope,
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        relType,
		Description: description,
		Strength:    delta,
		UpdatedAt:   now,
	}
}

// ApplyDelta validates the whole delta first and only then mutates, so a
// rejected turn leaves no partial writes behind.
func (s *InMemoryGraphStore) ApplyDelta(ctx context.Context, scope model.Scope, delta model.GraphDelta) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]int, len(delta.Entities))
	for i, ent := range delta.Entities {
		if err := ent.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		byName[model.NormalizeName(ent.Name)] = i
	}
	for i, rel := range delta.Relationships {
		if err := rel.Validate(); err != nil {
			return fmt.Errorf("relationship %d: %w", i, err)
		}
		if _, ok := s.resolveLocked(scope, rel.Source, byName); !ok {
			return fmt.Errorf("relationship %d source %q: %w", i, rel.Source, ErrNotFound)
		}
		if _, ok := s.resolveLocked(scope, rel.Target, byName); !ok {
			return fmt.Errorf("relationship %d target %q: %w", i, rel.Target, ErrNotFound)
		}
	}

	ids := make(map[string]string, len(delta.Entities))
	for _, draft := range delta.Entities {
		ent := s.upsertEntityLocked(scope, draft)
		ids[ent.NormName] = ent.ID
	}
	for _, rel := range delta.Relationships {
		sourceID := ids[model.NormalizeName(rel.Source)]
		if sourceID == "" {
			sourceID, _ = s.lookupLocked(scope, rel.Source)
		}
		targetID := ids[model.NormalizeName(rel.Target)]
		if targetID == "" {
			targetID, _ = s.lookupLocked(scope, rel.Target)
		}
		s.upsertRelationshipLocked(scope, sourceID, targetID, rel.Type, rel.Description, rel.Strength)
	}
	return nil
}

// resolveLocked reports whether a relationship endpoint name resolves either
// to an entity in the delta itself or to one already stored in the scope.
func (s *InMemoryGraphStore) resolveLocked(scope model.Scope, name string, inDelta map[string]int) (string, bool) {
	norm := model.NormalizeName(name)
	if _, ok := inDelta[norm]; ok {
		return "", true
	}
	return s.lookupLocked(scope, name)
}

func (s *InMemoryGraphStore) lookupLocked(scope model.Scope, name string) (string, bool) {
	norm := model.NormalizeName(name)
	for id := range s.byScope[scope.Token()] {
		if s.entities[id].NormName == norm {
			return id, true
		}
	}
	return "", false
}

// QueryByEmbedding returns the scope's entities ordered by cosine similarity.
func (s *InMemoryGraphStore) QueryByEmbedding(ctx context.Context, scope model.Scope, vector []float32, limit int) ([]model.ScoredEntity, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	scored := make([]model.ScoredEntity, 0, limit)
	for id := range s.byScope[scope.Token()] {
		ent := s.entities[id]
		if len(ent.Embedding) == 0 {
			continue
		}
		scored = append(scored, model.ScoredEntity{Entity: cloneEntity(ent), Score: CosineSimilarity(vector, ent.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// QueryByText matches any term as a case-insensitive substring of the
// entity's name, description or type, most recently updated first.
func (s *InMemoryGraphStore) QueryByText(ctx context.Context, scope model.Scope, terms []string, limit int) ([]model.Entity, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			lowered = append(lowered, t)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Entity
	for id := range s.byScope[scope.Token()] {
		ent := s.entities[id]
		if entityMatches(ent, lowered) {
			out = append(out, cloneEntity(ent))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func entityMatches(ent *model.Entity, terms []string) bool {
	name := strings.ToLower(ent.Name)
	desc := strings.ToLower(ent.Description)
	typ := strings.ToLower(ent.Type)
	for _, term := range terms {
		if strings.Contains(name, term) || strings.Contains(desc, term) || strings.Contains(typ, term) {
			return true
		}
	}
	return false
}

// Neighbors walks the edge set breadth-first up to depth hops.
func (s *InMemoryGraphStore) Neighbors(ctx context.Context, entityID string, depth int) ([]model.Relationship, error) {
	if depth <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	visited := map[string]struct{}{entityID: {}}
	frontier := []string{entityID}
	var out []model.Relationship
	seen := make(map[string]struct{})
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, rel := range s.relsSortedLocked() {
			var other string
			for _, id := range frontier {
				if rel.SourceID == id {
					other = rel.TargetID
				} else if rel.TargetID == id {
					other = rel.SourceID
				}
			}
			if other == "" {
				continue
			}
			key := relKey(rel.SourceID, rel.TargetID, rel.Type)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, *rel)
			if _, ok := visited[other]; !ok {
				visited[other] = struct{}{}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *InMemoryGraphStore) relsSortedLocked() []*model.Relationship {
	keys := make([]string, 0, len(s.rels))
	for k := range s.rels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*model.Relationship, len(keys))
	for i, k := range keys {
		out[i] = s.rels[k]
	}
	return out
}

// Entity resolves an entity by id.
func (s *InMemoryGraphStore) Entity(ctx context.Context, id string) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return cloneEntity(ent), nil
}

// DeleteScope purges every entity and relationship owned by the scope.
func (s *InMemoryGraphStore) DeleteScope(ctx context.Context, scope model.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := scope.Token()
	ids := s.byScope[token]
	for id := range ids {
		ent := s.entities[id]
		delete(s.byKey, ent.Key())
		delete(s.entities, id)
	}
	delete(s.byScope, token)
	for key, rel := range s.rels {
		if _, ok := ids[rel.SourceID]; ok {
			delete(s.rels, key)
			continue
		}
		if _, ok := ids[rel.TargetID]; ok {
			delete(s.rels, key)
		}
	}
	return nil
}

func cloneEntity(ent *model.Entity) model.Entity {
	out := *ent
	if ent.Attributes != nil {
		out.Attributes = make(map[string]any, len(ent.Attributes))
		for k, v := range ent.Attributes {
			out.Attributes[k] = v
		}
	}
	out.Embedding = append([]float32(nil), ent.Embedding...)
	return out
}

// CosineSimilarity computes the cosine of the angle between two vectors;
// zero when either has no magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
