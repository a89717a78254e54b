// Package config loads engine configuration from YAML with environment
// overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Queue      QueueConfig      `yaml:"queue"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	CompanyID  string           `yaml:"company_id"`
}

// GraphConfig selects and configures the graph store backend.
type GraphConfig struct {
	// Backend is "memory", "neo4j" or "postgres".
	Backend     string `yaml:"backend"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"neo4j_password"`
	Neo4jDB     string `yaml:"neo4j_database"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	// MongoURI enables the persistent dead-letter archive when set.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// ExtractionConfig selects the LLM extraction provider.
type ExtractionConfig struct {
	// Provider is "openai" or "claude".
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	OpenAIKey    string  `yaml:"openai_api_key"`
	AnthropicKey string  `yaml:"anthropic_api_key"`
	Temperature  float32 `yaml:"temperature"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai", "gemini", "ollama", "voyage", "auto" or
	// "dummy".
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	CacheCapacity int           `yaml:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// JobsConfig tunes the async job runner.
type JobsConfig struct {
	Workers          int           `yaml:"workers"`
	MaxExtractions   int           `yaml:"max_extractions"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	SessionMaxIdle   time.Duration `yaml:"session_max_idle"`
	MaintenanceEvery time.Duration `yaml:"maintenance_every"`
}

// RetrievalConfig tunes search behavior.
type RetrievalConfig struct {
	CosineThreshold float64 `yaml:"cosine_threshold"`
	MaxExpansions   int     `yaml:"max_expansions"`
	Limit           int     `yaml:"limit"`
	ContextBudget   int     `yaml:"context_budget"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Graph:      GraphConfig{Backend: "memory", Neo4jDB: "neo4j"},
		Queue:      QueueConfig{Backend: "memory", RedisAddr: "localhost:6379"},
		Extraction: ExtractionConfig{Provider: "openai", Temperature: 0.1},
		Embedding: EmbeddingConfig{
			Provider:      "auto",
			CacheCapacity: 2048,
			CacheTTL:      time.Hour,
		},
		Jobs: JobsConfig{
			Workers:          4,
			MaxAttempts:      3,
			BackoffBase:      time.Minute,
			JobTimeout:       2 * time.Minute,
			SessionMaxIdle:   24 * time.Hour,
			MaintenanceEvery: time.Hour,
		},
		Retrieval: RetrievalConfig{
			CosineThreshold: 0.7,
			MaxExpansions:   5,
			Limit:           10,
			ContextBudget:   2000,
		},
		CompanyID: "global",
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployment environments override file values, primarily for
// secrets that should not live in YAML.
func (c *Config) applyEnv() {
	setString(&c.Graph.Neo4jURI, "NEO4J_URI")
	setString(&c.Graph.Neo4jUser, "NEO4J_USER")
	setString(&c.Graph.Neo4jPass, "NEO4J_PASSWORD")
	setString(&c.Graph.Neo4jDB, "NEO4J_DATABASE")
	setString(&c.Graph.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Graph.Backend, "NEUROFLOW_GRAPH_BACKEND")

	setString(&c.Queue.RedisAddr, "REDIS_ADDR")
	setInt(&c.Queue.RedisDB, "REDIS_DB")
	setString(&c.Queue.Backend, "NEUROFLOW_QUEUE_BACKEND")
	setString(&c.Queue.MongoURI, "MONGO_URI")
	setString(&c.Queue.MongoDatabase, "MONGO_DATABASE")

	setString(&c.Extraction.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.Extraction.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&c.Extraction.Provider, "NEUROFLOW_EXTRACT_PROVIDER")
	setString(&c.Extraction.Model, "NEUROFLOW_EXTRACT_MODEL")

	setString(&c.Embedding.Provider, "NEUROFLOW_EMBED_PROVIDER")
	setString(&c.Embedding.Model, "NEUROFLOW_EMBED_MODEL")

	setString(&c.CompanyID, "NEUROFLOW_COMPANY_ID")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
