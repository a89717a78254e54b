// Package extract turns conversation turns into graph deltas with an LLM and
// expands search queries into related terms.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	json "github.com/alpkeskin/gotoon"
)

var (
	// ErrTimeout signals that the model did not answer within the deadline.
	// Callers treat it as transient and retry the job.
	ErrTimeout = errors.New("extraction timed out")

	// ErrMalformedOutput signals that the model's reply could not be decoded
	// into a graph delta. Not retryable: the same prompt yields the same junk.
	ErrMalformedOutput = errors.New("malformed extraction output")

	// ErrUnavailable signals a transport-level failure talking to the model.
	ErrUnavailable = errors.New("extraction backend unavailable")
)

// Extractor derives entities and relationships from a single turn.
type Extractor interface {
	Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error)
}

// Expander rewrites a search query into related terms for text matching.
// Implementations return the terms most likely to appear in stored entity
// names; the caller falls back to the raw query when expansion fails.
type Expander interface {
	Expand(ctx context.Context, query string, max int) ([]string, error)
}

// extractionWire is the JSON shape the model is instructed to emit.
type extractionWire struct {
	Entities []struct {
		Name        string         `json:"name"`
		Type        string         `json:"type"`
		Description string         `json:"description"`
		Attributes  map[string]any `json:"attributes"`
	} `json:"entities"`
	Relationships []struct {
		Source      string  `json:"source_entity"`
		Target      string  `json:"target_entity"`
		Type        string  `json:"relationship_type"`
		Description string  `json:"description"`
		Strength    float64 `json:"strength"`
	} `json:"relationships"`
	Summary  string   `json:"summary"`
	KeyFacts []string `json:"key_facts"`
}

type expansionWire struct {
	Terms []string `json:"terms"`
}

// decodeExtraction parses a model reply into a sanitized GraphDelta. Models
// occasionally wrap JSON in markdown fences even when told not to, so those
// are stripped first.
func decodeExtraction(raw string) (model.GraphDelta, error) {
	cleaned := stripCodeFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		return model.GraphDelta{}, fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	var wire extractionWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return model.GraphDelta{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	delta := model.GraphDelta{
		Summary:  strings.TrimSpace(wire.Summary),
		KeyFacts: wire.KeyFacts,
	}
	for _, ent := range wire.Entities {
		delta.Entities = append(delta.Entities, model.EntityDraft{
			Name:        strings.TrimSpace(ent.Name),
			Type:        strings.ToUpper(strings.TrimSpace(ent.Type)),
			Description: strings.TrimSpace(ent.Description),
			Attributes:  ent.Attributes,
		})
	}
	for _, rel := range wire.Relationships {
		delta.Relationships = append(delta.Relationships, model.RelationshipDraft{
			Source:      strings.TrimSpace(rel.Source),
			Target:      strings.TrimSpace(rel.Target),
			Type:        strings.ToUpper(strings.TrimSpace(rel.Type)),
			Description: strings.TrimSpace(rel.Description),
			Strength:    rel.Strength,
		})
	}
	return delta.Sanitize(), nil
}

func decodeExpansion(raw string, max int) ([]string, error) {
	cleaned := stripCodeFences(raw)
	var wire expansionWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	terms := make([]string, 0, len(wire.Terms))
	for _, term := range wire.Terms {
		if t := strings.TrimSpace(term); t != "" {
			terms = append(terms, t)
		}
		if max > 0 && len(terms) >= max {
			break
		}
	}
	return terms, nil
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

const extractionSystemPrompt = `You extract structured knowledge from a conversation turn.
Return ONLY a JSON object with this exact shape, no prose, no markdown:
{
  "entities": [
    {"name": "...", "type": "PERSON|SKILL|ROLE|PREFERENCE|INTEREST|GOAL|PROBLEM|SOLUTION|CONCEPT|CONTEXT", "description": "...", "attributes": {}}
  ],
  "relationships": [
    {"source_entity": "...", "target_entity": "...", "relationship_type": "...", "description": "...", "strength": 0.0}
  ],
  "summary": "one sentence about the turn",
  "key_facts": ["..."]
}
Rules:
- every relationship endpoint must be one of the extracted entity names
- strength is a float in [0.0, 1.0] reflecting how strongly the turn asserts the relationship
- omit entities you are not confident about; an empty entities list is valid
- keep names short and canonical (e.g. "Python", not "the Python language")`

const expansionSystemPrompt = `You expand a search query into related lookup terms.
Return ONLY a JSON object: {"terms": ["...", "..."]}.
Include synonyms, related concepts and likely entity names. Keep each term short.`

func extractionUserPrompt(turn model.Turn) string {
	return "Extract knowledge from this exchange:\n\n" + turn.Text()
}

func expansionUserPrompt(query string, max int) string {
	return fmt.Sprintf("Query: %s\n\nReturn at most %d terms.", query, max)
}
