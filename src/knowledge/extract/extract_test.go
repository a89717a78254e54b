package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

const sampleExtraction = `{
  "entities": [
    {"name": "João", "type": "person", "description": "the user", "attributes": {"city": "Lisbon"}},
    {"name": "Python", "type": "SKILL", "description": "programming language"},
    {"name": "", "type": "SKILL"}
  ],
  "relationships": [
    {"source_entity": "João", "target_entity": "Python", "relationship_type": "knows", "strength": 0.8},
    {"source_entity": "João", "target_entity": "Rust", "relationship_type": "KNOWS", "strength": 0.5}
  ],
  "summary": "João knows Python.",
  "key_facts": ["João lives in Lisbon"]
}`

func TestDecodeExtraction(t *testing.T) {
	delta, err := decodeExtraction(sampleExtraction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delta.Entities) != 2 {
		t.Fatalf("expected the empty-name entity dropped, got %d entities", len(delta.Entities))
	}
	if delta.Entities[0].Type != model.EntityPerson {
		t.Fatalf("expected type upper-cased, got %q", delta.Entities[0].Type)
	}
	if len(delta.Relationships) != 1 {
		t.Fatalf("expected the dangling relationship dropped, got %d", len(delta.Relationships))
	}
	rel := delta.Relationships[0]
	if rel.Type != "KNOWS" || rel.Strength != 0.8 {
		t.Fatalf("unexpected relationship %#v", rel)
	}
	if delta.Summary != "João knows Python." {
		t.Fatalf("unexpected summary %q", delta.Summary)
	}
	if len(delta.KeyFacts) != 1 {
		t.Fatalf("unexpected key facts %#v", delta.KeyFacts)
	}
}

func TestDecodeExtractionStripsCodeFences(t *testing.T) {
	fenced := "```json\n" + sampleExtraction + "\n```"
	delta, err := decodeExtraction(fenced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delta.Entities) != 2 {
		t.Fatalf("expected fences stripped, got %d entities", len(delta.Entities))
	}
}

func TestDecodeExtractionMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", "```\nnope\n```"} {
		if _, err := decodeExtraction(raw); !errors.Is(err, ErrMalformedOutput) {
			t.Fatalf("raw %q: expected ErrMalformedOutput, got %v", raw, err)
		}
	}
}

func TestDecodeExpansion(t *testing.T) {
	terms, err := decodeExpansion(`{"terms": ["python", " coding ", "", "software", "golang"]}`, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 3 {
		t.Fatalf("expected expansion capped at 3, got %#v", terms)
	}
	if terms[1] != "coding" {
		t.Fatalf("expected trimmed terms, got %#v", terms)
	}
}

type stubExtractor struct {
	delta model.GraphDelta
	err   error
}

func (s stubExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	return s.delta, s.err
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func TestProcessTurnCommitsDelta(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	engine := NewEngine(stubExtractor{delta: model.GraphDelta{
		Entities: []model.EntityDraft{
			{Name: "João", Type: model.EntityPerson},
			{Name: "Python", Type: model.EntitySkill},
		},
		Relationships: []model.RelationshipDraft{
			{Source: "João", Target: "Python", Type: "KNOWS", Strength: 0.8},
		},
	}}, graph, nil)

	scope := model.UserScope("u1")
	delta, err := engine.ProcessTurn(context.Background(), scope, model.Turn{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delta.Entities) != 2 {
		t.Fatalf("unexpected delta %#v", delta)
	}
	got, err := graph.QueryByText(context.Background(), scope, []string{"python"}, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the committed entity, got %#v (%v)", got, err)
	}
}

func TestProcessTurnEmptyExtractionIsNoop(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	engine := NewEngine(stubExtractor{}, graph, nil)

	delta, err := engine.ProcessTurn(context.Background(), model.UserScope("u1"), model.Turn{Question: "hi", Answer: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delta.Empty() {
		t.Fatalf("expected an empty delta, got %#v", delta)
	}
}

func TestProcessTurnExtractorFailurePropagates(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	engine := NewEngine(stubExtractor{err: ErrTimeout}, graph, nil)

	_, err := engine.ProcessTurn(context.Background(), model.UserScope("u1"), model.Turn{Question: "q", Answer: "a"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestProcessTurnEmbeddingFailureDegrades(t *testing.T) {
	graph := store.NewInMemoryGraphStore()
	engine := NewEngine(stubExtractor{delta: model.GraphDelta{
		Entities: []model.EntityDraft{{Name: "Python", Type: model.EntitySkill}},
	}}, graph, failingEmbedder{})

	scope := model.UserScope("u1")
	if _, err := engine.ProcessTurn(context.Background(), scope, model.Turn{Question: "q", Answer: "a"}); err != nil {
		t.Fatalf("expected degradation, got %v", err)
	}
	got, err := graph.QueryByText(context.Background(), scope, []string{"python"}, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the entity stored without a vector, got %#v (%v)", got, err)
	}
	if len(got[0].Embedding) != 0 {
		t.Fatal("expected no embedding after provider failure")
	}
}

func TestStripCodeFences(t *testing.T) {
	if got := stripCodeFences("```json\n{}\n```"); got != "{}" {
		t.Fatalf("unexpected strip result %q", got)
	}
	if got := stripCodeFences("{}"); got != "{}" {
		t.Fatalf("unexpected passthrough %q", got)
	}
}
