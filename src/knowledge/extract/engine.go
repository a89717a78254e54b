package extract

import (
	"context"
	"fmt"
	"log"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/embed"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

// Engine runs the full ingestion path for one turn: extract a delta, attach
// embeddings, commit atomically.
type Engine struct {
	extractor Extractor
	store     store.GraphStore
	embedder  embed.Embedder
}

// NewEngine wires the ingestion pipeline. The embedder may be nil, in which
// case entities are stored without vectors and retrieval leans on text
// matching.
func NewEngine(extractor Extractor, graphStore store.GraphStore, embedder embed.Embedder) *Engine {
	return &Engine{extractor: extractor, store: graphStore, embedder: embedder}
}

// ProcessTurn extracts knowledge from the turn and commits it to the scope.
// An empty extraction is a successful no-op. Embedding failures degrade to
// vectorless entities; extraction and store failures propagate so the job
// layer can decide on a retry.
func (e *Engine) ProcessTurn(ctx context.Context, scope model.Scope, turn model.Turn) (model.GraphDelta, error) {
	return e.processTurn(ctx, scope, turn, nil)
}

// ProcessTurnIf is ProcessTurn with a commit gate: proceed is consulted after
// extraction, right before the delta is committed. An error from proceed
// discards the extraction and propagates without touching the graph.
func (e *Engine) ProcessTurnIf(ctx context.Context, scope model.Scope, turn model.Turn, proceed func() error) (model.GraphDelta, error) {
	return e.processTurn(ctx, scope, turn, proceed)
}

func (e *Engine) processTurn(ctx context.Context, scope model.Scope, turn model.Turn, proceed func() error) (model.GraphDelta, error) {
	if err := scope.Validate(); err != nil {
		return model.GraphDelta{}, err
	}
	delta, err := e.extractor.Extract(ctx, turn)
	if err != nil {
		return model.GraphDelta{}, fmt.Errorf("extract turn: %w", err)
	}
	delta = delta.Sanitize()
	if delta.Empty() {
		return delta, nil
	}
	if proceed != nil {
		if err := proceed(); err != nil {
			return model.GraphDelta{}, err
		}
	}
	e.attachEmbeddings(ctx, &delta)
	if err := e.store.ApplyDelta(ctx, scope, delta); err != nil {
		return model.GraphDelta{}, fmt.Errorf("commit delta: %w", err)
	}
	return delta, nil
}

func (e *Engine) attachEmbeddings(ctx context.Context, delta *model.GraphDelta) {
	if e.embedder == nil {
		return
	}
	for i := range delta.Entities {
		ent := &delta.Entities[i]
		text := ent.Name
		if ent.Description != "" {
			text += ": " + ent.Description
		}
		vec, err := e.embedder.Embed(ctx, embed.Truncate(text))
		if err != nil {
			log.Printf("extract: embedding %q failed, storing without vector: %v", ent.Name, err)
			continue
		}
		ent.Embedding = vec
	}
}
