package memengine

import (
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/embed"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/jobs"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/retrieval"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

type options struct {
	store         store.GraphStore
	queue         jobs.Queue
	archive       jobs.DeadLetterArchive
	embedder      embed.Embedder
	expander      extract.Expander
	extractEngine *extract.Engine
	extractor     extract.Extractor
	companyID     string
	contextBudget int
	jobConfig     jobs.OrchestratorConfig
	weights       retrieval.ScoreWeights
	retrieval     retrieval.Options
}

func defaultOptions() options {
	return options{
		store:         store.NewInMemoryGraphStore(),
		queue:         jobs.NewMemoryQueue(1024),
		archive:       jobs.NewMemoryArchive(),
		embedder:      embed.DummyEmbedder{},
		companyID:     "global",
		contextBudget: 2000,
		weights:       retrieval.DefaultWeights,
		retrieval:     retrieval.DefaultOptions(),
	}
}

// Option configures an Engine.
type Option func(*options)

// WithGraphStore swaps the graph backend.
func WithGraphStore(s store.GraphStore) Option {
	return func(o *options) { o.store = s }
}

// WithQueue swaps the job queue.
func WithQueue(q jobs.Queue) Option {
	return func(o *options) { o.queue = q }
}

// WithArchive swaps the dead-letter archive; nil disables archiving.
func WithArchive(a jobs.DeadLetterArchive) Option {
	return func(o *options) { o.archive = a }
}

// WithEmbedder swaps the embedding provider; nil disables vector search.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithExtractor enables ingestion through the given extraction provider.
func WithExtractor(e extract.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithExpander enables query expansion during retrieval.
func WithExpander(e extract.Expander) Option {
	return func(o *options) { o.expander = e }
}

// WithCompanyID names the shared company scope.
func WithCompanyID(id string) Option {
	return func(o *options) { o.companyID = id }
}

// WithContextBudget caps synthesized context blocks, in characters.
func WithContextBudget(budget int) Option {
	return func(o *options) { o.contextBudget = budget }
}

// WithJobConfig tunes the async job runner.
func WithJobConfig(cfg jobs.OrchestratorConfig) Option {
	return func(o *options) { o.jobConfig = cfg }
}

// WithScoreWeights tunes the retrieval blend.
func WithScoreWeights(w retrieval.ScoreWeights) Option {
	return func(o *options) { o.weights = w }
}

// WithRetrievalOptions tunes search behavior.
func WithRetrievalOptions(opts retrieval.Options) Option {
	return func(o *options) { o.retrieval = opts }
}
