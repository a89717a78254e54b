package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tier identifies the visibility and lifecycle boundary a memory fact lives in.
type Tier string

const (
	TierUser    Tier = "user"
	TierSession Tier = "session"
	TierCompany Tier = "company"
)

var validTiers = map[Tier]struct{}{
	TierUser:    {},
	TierSession: {},
	TierCompany: {},
}

// Valid reports whether the tier is one of the supported three.
func (t Tier) Valid() bool {
	_, ok := validTiers[t]
	return ok
}

// Scope is a tier plus its owning identifier, e.g. user:u1 or session:sess1.
type Scope struct {
	Tier Tier   `json:"tier"`
	ID   string `json:"id"`
}

// Token renders the scope as the store-level grouping key.
func (s Scope) Token() string {
	return string(s.Tier) + ":" + s.ID
}

// Validate ensures the scope is usable as a storage key.
func (s Scope) Validate() error {
	if !s.Tier.Valid() {
		return fmt.Errorf("unsupported tier %q", s.Tier)
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("scope id is empty")
	}
	return nil
}

// ParseScope parses a tier:id token back into a Scope.
func ParseScope(token string) (Scope, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return Scope{}, fmt.Errorf("malformed scope token %q", token)
	}
	scope := Scope{Tier: Tier(parts[0]), ID: parts[1]}
	if err := scope.Validate(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

// UserScope, SessionScope and CompanyScope are shorthand constructors.
func UserScope(id string) Scope    { return Scope{Tier: TierUser, ID: id} }
func SessionScope(id string) Scope { return Scope{Tier: TierSession, ID: id} }
func CompanyScope(id string) Scope { return Scope{Tier: TierCompany, ID: id} }

// Common entity types produced by extraction. The set is open; these are the
// ones the extraction prompt names.
const (
	EntityPerson       = "PERSON"
	EntityOrganization = "ORGANIZATION"
	EntityLocation     = "LOCATION"
	EntityConcept      = "CONCEPT"
	EntitySkill        = "SKILL"
	EntityRole         = "ROLE"
	EntityInterest     = "INTEREST"
	EntityContext      = "CONTEXT"
)

// Entity is a named thing extracted from conversation. Identity within a
// scope is (normalized name, type); re-extraction upserts, never duplicates.
type Entity struct {
	ID          string         `json:"id"`
	Scope       Scope          `json:"scope"`
	Name        string         `json:"name"`
	NormName    string         `json:"norm_name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Key is the upsert identity of the entity inside its scope.
func (e Entity) Key() string {
	return EntityKey(e.Scope, e.NormName, e.Type)
}

// EntityKey builds the (scope, normalized name, type) identity key.
func EntityKey(scope Scope, normName, typ string) string {
	return scope.Token() + "|" + normName + "|" + typ
}

// NormalizeName lowercases and collapses whitespace so that "João " and
// "joão" resolve to the same entity.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Relationship is a typed, weighted edge between two entities. Strength stays
// within [0, 1] and is only ever reinforced, never silently reset.
type Relationship struct {
	Scope       Scope     `json:"scope"`
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Strength    float64   `json:"strength"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReinforceStrength is the single reinforcement policy: additive and bounded,
// with no decay.
func ReinforceStrength(old, delta float64) float64 {
	s := old + delta
	if s > 1.0 {
		return 1.0
	}
	return s
}

// EntityDraft is an extraction candidate before it is committed to a scope.
type EntityDraft struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Embedding   []float32      `json:"-"`
}

// Validate rejects candidates that cannot form a stable entity identity.
func (d EntityDraft) Validate() error {
	if NormalizeName(d.Name) == "" {
		return errors.New("entity name is empty")
	}
	if strings.TrimSpace(d.Type) == "" {
		return errors.New("entity type is empty")
	}
	return nil
}

// RelationshipDraft references its endpoints by entity name; names are
// resolved inside the scope when the delta is committed.
type RelationshipDraft struct {
	Source      string  `json:"source_entity"`
	Target      string  `json:"target_entity"`
	Type        string  `json:"relationship_type"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

// Validate rejects candidates with empty endpoints or an out-of-range strength.
func (d RelationshipDraft) Validate() error {
	if NormalizeName(d.Source) == "" || NormalizeName(d.Target) == "" {
		return errors.New("relationship endpoint name is empty")
	}
	if strings.TrimSpace(d.Type) == "" {
		return errors.New("relationship type is empty")
	}
	if d.Strength < 0.0 || d.Strength > 1.0 {
		return fmt.Errorf("relationship strength %v out of range", d.Strength)
	}
	return nil
}

// GraphDelta is everything one conversation turn contributed: committed
// atomically, all or nothing.
type GraphDelta struct {
	Entities      []EntityDraft       `json:"entities"`
	Relationships []RelationshipDraft `json:"relationships"`
	Summary       string              `json:"summary,omitempty"`
	KeyFacts      []string            `json:"key_facts,omitempty"`
}

// Empty reports whether the delta carries no graph updates.
func (d GraphDelta) Empty() bool {
	return len(d.Entities) == 0 && len(d.Relationships) == 0
}

// Sanitize drops invalid candidates and returns the surviving delta.
// Relationships whose endpoints did not survive are dropped as well.
func (d GraphDelta) Sanitize() GraphDelta {
	out := GraphDelta{Summary: d.Summary, KeyFacts: d.KeyFacts}
	names := make(map[string]struct{}, len(d.Entities))
	for _, ent := range d.Entities {
		if err := ent.Validate(); err != nil {
			continue
		}
		out.Entities = append(out.Entities, ent)
		names[NormalizeName(ent.Name)] = struct{}{}
	}
	for _, rel := range d.Relationships {
		if err := rel.Validate(); err != nil {
			continue
		}
		if _, ok := names[NormalizeName(rel.Source)]; !ok {
			continue
		}
		if _, ok := names[NormalizeName(rel.Target)]; !ok {
			continue
		}
		out.Relationships = append(out.Relationships, rel)
	}
	return out
}

// ScoredEntity pairs an entity with its cosine similarity to a query vector.
type ScoredEntity struct {
	Entity Entity
	Score  float64
}

// Turn is one question/answer exchange of a conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Text renders the turn the way it is fed to extraction and embedding.
func (t Turn) Text() string {
	return "Q: " + t.Question + "\nA: " + t.Answer
}
