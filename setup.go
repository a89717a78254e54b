package memengine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NeuroFlow-Labs/memory-engine/src/config"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/embed"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/extract"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/jobs"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/retrieval"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/store"
)

// NewFromConfig assembles an engine from a loaded configuration, dialing
// whichever backends it names. Stores implementing SchemaInitializer get
// their schema ensured before use.
func NewFromConfig(ctx context.Context, cfg config.Config) (*Engine, error) {
	opts := []Option{WithCompanyID(cfg.CompanyID)}

	graphStore, err := buildGraphStore(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithGraphStore(graphStore))

	queue, archive, err := buildQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithQueue(queue))
	if archive != nil {
		opts = append(opts, WithArchive(archive))
	}

	embedder := buildEmbedder(cfg.Embedding)
	opts = append(opts, WithEmbedder(embedder))

	extractor, err := buildExtractor(cfg.Extraction)
	if err != nil {
		return nil, err
	}
	if extractor != nil {
		opts = append(opts, WithExtractor(extractor))
		if expander, ok := extractor.(extract.Expander); ok {
			opts = append(opts, WithExpander(expander))
		}
	}

	opts = append(opts,
		WithJobConfig(jobs.OrchestratorConfig{
			Workers:          cfg.Jobs.Workers,
			MaxExtractions:   cfg.Jobs.MaxExtractions,
			MaxAttempts:      cfg.Jobs.MaxAttempts,
			BackoffBase:      cfg.Jobs.BackoffBase,
			JobTimeout:       cfg.Jobs.JobTimeout,
			SessionMaxIdle:   cfg.Jobs.SessionMaxIdle,
			MaintenanceEvery: cfg.Jobs.MaintenanceEvery,
		}),
		WithContextBudget(cfg.Retrieval.ContextBudget),
		WithRetrievalOptions(retrieval.Options{
			CosineThreshold: cfg.Retrieval.CosineThreshold,
			MaxExpansions:   cfg.Retrieval.MaxExpansions,
			CandidateLimit:  cfg.Retrieval.Limit * 2,
			Limit:           cfg.Retrieval.Limit,
			GraphSeeds:      3,
		}),
	)

	return New(opts...)
}

func buildGraphStore(ctx context.Context, cfg config.GraphConfig) (store.GraphStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewInMemoryGraphStore(), nil
	case "neo4j":
		s, err := store.OpenNeo4j(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass, cfg.Neo4jDB)
		if err != nil {
			return nil, fmt.Errorf("open neo4j: %w", err)
		}
		if err := s.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgresGraphStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := s.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (jobs.Queue, jobs.DeadLetterArchive, error) {
	var archive jobs.DeadLetterArchive
	if cfg.MongoURI != "" {
		mongoArchive, err := jobs.NewMongoArchive(ctx, cfg.MongoURI, cfg.MongoDatabase, "")
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo archive: %w", err)
		}
		if err := mongoArchive.CreateSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("mongo archive schema: %w", err)
		}
		archive = mongoArchive
	}

	switch cfg.Backend {
	case "", "memory":
		return jobs.NewMemoryQueue(1024), archive, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return jobs.NewRedisQueue(client, jobs.RedisQueueConfig{}), archive, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) embed.Embedder {
	var inner embed.Embedder
	switch cfg.Provider {
	case "dummy":
		inner = embed.DummyEmbedder{}
	case "openai":
		if e, err := embed.NewOpenAIEmbedder(cfg.Model); err == nil {
			inner = e
		}
	case "gemini", "google":
		if e, err := embed.NewGeminiEmbedder(cfg.Model); err == nil {
			inner = e
		}
	case "ollama":
		if e, err := embed.NewOllamaEmbedder(cfg.Model); err == nil {
			inner = e
		}
	case "voyage":
		if e, err := embed.NewVoyageEmbedder(cfg.Model); err == nil {
			inner = e
		}
	}
	if inner == nil {
		inner = embed.AutoEmbedder()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return embed.NewCachedEmbedder(inner, cfg.CacheCapacity, ttl)
}

func buildExtractor(cfg config.ExtractionConfig) (extract.Extractor, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, nil
		}
		return extract.NewOpenAIExtractor(cfg.OpenAIKey, cfg.Model), nil
	case "claude", "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, nil
		}
		return extract.NewClaudeExtractor(cfg.AnthropicKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}
}
