// Package retrieval implements hybrid search over the knowledge graph:
// vector similarity, expanded text matching and one-hop graph context,
// blended into a single ranked result list.
package retrieval

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/embed"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

// ScoreWeights blends the three retrieval channels. The defaults favor
// vector similarity, with text and graph contributions breaking near-ties.
type ScoreWeights struct {
	Vector float64
	Text   float64
	Graph  float64
}

// DefaultWeights is the tuned production blend.
var DefaultWeights = ScoreWeights{Vector: 0.6, Text: 0.25, Graph: 0.15}

const (
	textScoreExact     = 1.0
	textScoreExpansion = 0.5
	graphScoreDirect   = 1.0
	graphScoreOneHop   = 0.5
)

// Options tunes a search.
type Options struct {
	// CosineThreshold filters vector candidates; matches below it are
	// discarded rather than diluting the result set.
	CosineThreshold float64
	// MaxExpansions bounds how many expansion terms the query is rewritten
	// into.
	MaxExpansions int
	// CandidateLimit bounds per-channel candidates fetched from the store.
	CandidateLimit int
	// Limit bounds the final result list.
	Limit int
	// GraphSeeds is how many top text hits get their neighborhoods pulled in.
	GraphSeeds int
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		CosineThreshold: 0.7,
		MaxExpansions:   5,
		CandidateLimit:  20,
		Limit:           10,
		GraphSeeds:      3,
	}
}

// Result is one ranked entity with its per-channel score breakdown.
type Result struct {
	Entity      model.Entity
	Score       float64
	VectorScore float64
	TextScore   float64
	GraphScore  float64
	// Via is set when the entity entered the result set through a graph
	// edge rather than a direct match.
	Via *model.Relationship
}

// Searcher runs hybrid retrieval. Expander and embedder are optional; search
// degrades to the remaining channels when either is missing or failing.
type Searcher struct {
	store    store.GraphStore
	embedder embed.Embedder
	expander extract.Expander
	weights  ScoreWeights
	opts     Options
}

// NewSearcher wires a searcher with the default weights and options.
func NewSearcher(graphStore store.GraphStore, embedder embed.Embedder, expander extract.Expander) *Searcher {
	return &Searcher{
		store:    graphStore,
		embedder: embedder,
		expander: expander,
		weights:  DefaultWeights,
		opts:     DefaultOptions(),
	}
}

// WithWeights overrides the scoring blend.
func (s *Searcher) WithWeights(w ScoreWeights) *Searcher {
	s.weights = w
	return s
}

// WithOptions overrides the search options.
func (s *Searcher) WithOptions(opts Options) *Searcher {
	s.opts = opts
	return s
}

// Search runs hybrid retrieval for the query across the given scopes and
// returns a single ranked list. Scope isolation holds: only entities owned
// by the listed scopes can appear.
func (s *Searcher) Search(ctx context.Context, query string, scopes []model.Scope) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(scopes) == 0 {
		return nil, nil
	}

	vector := s.embedQuery(ctx, query)
	expansions := s.expandQuery(ctx, query)

	merged := make(map[string]*Result)
	for _, scope := range scopes {
		if err := s.searchScope(ctx, scope, query, vector, expansions, merged); err != nil {
			return nil, err
		}
	}

	out := make([]Result, 0, len(merged))
	for _, res := range merged {
		res.Score = s.weights.Vector*res.VectorScore +
			s.weights.Text*res.TextScore +
			s.weights.Graph*res.GraphScore
		out = append(out, *res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity.UpdatedAt.After(out[j].Entity.UpdatedAt)
	})
	if len(out) > s.opts.Limit {
		out = out[:s.opts.Limit]
	}
	return out, nil
}

// embedQuery returns nil on failure; vector scoring drops out and text
// matching carries the search.
func (s *Searcher) embedQuery(ctx context.Context, query string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vector, err := s.embedder.Embed(ctx, embed.Truncate(query))
	if err != nil {
		log.Printf("retrieval: query embedding failed, continuing without vectors: %v", err)
		return nil
	}
	return vector
}

// expandQuery returns expansion terms beyond the query itself; empty on
// failure.
func (s *Searcher) expandQuery(ctx context.Context, query string) []string {
	if s.expander == nil || s.opts.MaxExpansions <= 0 {
		return nil
	}
	terms, err := s.expander.Expand(ctx, query, s.opts.MaxExpansions)
	if err != nil {
		log.Printf("retrieval: query expansion failed, using raw query only: %v", err)
		return nil
	}
	lowered := strings.ToLower(query)
	out := terms[:0]
	for _, term := range terms {
		if strings.ToLower(strings.TrimSpace(term)) == lowered {
			continue
		}
		out = append(out, term)
	}
	return out
}

func (s *Searcher) searchScope(ctx context.Context, scope model.Scope, query string, vector []float32, expansions []string, merged map[string]*Result) error {
	limit := s.opts.CandidateLimit
	if scope.Tier == model.TierCompany {
		// The shared tier is read-mostly and curated; fetch a wider slice.
		limit *= 2
	}
	if len(vector) > 0 {
		scored, err := s.store.QueryByEmbedding(ctx, scope, vector, limit)
		if err != nil {
			return err
		}
		for _, cand := range scored {
			if cand.Score < s.opts.CosineThreshold {
				continue
			}
			res := upsertResult(merged, cand.Entity)
			if cand.Score > res.VectorScore {
				res.VectorScore = cand.Score
			}
		}
	}

	exact, err := s.store.QueryByText(ctx, scope, []string{query}, limit)
	if err != nil {
		return err
	}
	for _, ent := range exact {
		res := upsertResult(merged, ent)
		if textScoreExact > res.TextScore {
			res.TextScore = textScoreExact
		}
		if graphScoreDirect > res.GraphScore {
			res.GraphScore = graphScoreDirect
		}
	}

	if len(expansions) > 0 {
		expanded, err := s.store.QueryByText(ctx, scope, expansions, limit)
		if err != nil {
			return err
		}
		for _, ent := range expanded {
			res := upsertResult(merged, ent)
			if textScoreExpansion > res.TextScore {
				res.TextScore = textScoreExpansion
			}
		}
	}

	return s.pullNeighborhoods(ctx, scope, exact, merged)
}

// pullNeighborhoods adds one-hop neighbors of the strongest direct text hits
// so related knowledge surfaces even without a lexical or vector match.
func (s *Searcher) pullNeighborhoods(ctx context.Context, scope model.Scope, seeds []model.Entity, merged map[string]*Result) error {
	limit := s.opts.GraphSeeds
	for i, seed := range seeds {
		if i >= limit {
			break
		}
		rels, err := s.store.Neighbors(ctx, seed.ID, 1)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		for _, rel := range rels {
			rel := rel
			otherID := rel.TargetID
			if otherID == seed.ID {
				otherID = rel.SourceID
			}
			ent, err := s.store.Entity(ctx, otherID)
			if err != nil {
				continue
			}
			if ent.Scope != scope {
				continue
			}
			res, seen := merged[ent.ID]
			if !seen {
				res = upsertResult(merged, ent)
				res.Via = &rel
			}
			if graphScoreOneHop > res.GraphScore {
				res.GraphScore = graphScoreOneHop
			}
		}
	}
	return nil
}

func upsertResult(merged map[string]*Result, ent model.Entity) *Result {
	if res, ok := merged[ent.ID]; ok {
		return res
	}
	res := &Result{Entity: ent}
	merged[ent.ID] = res
	return res
}
