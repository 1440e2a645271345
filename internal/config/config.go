// Package config provides configuration loading for navigatord.
//
// Configuration is read from a YAML file and overridden by environment
// variables. Each section maps onto the configuration of one internal
// package; zero values defer to that package's own defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/navigatord/internal/logging"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete navigatord configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Prompt      PromptConfig      `koanf:"prompt"`
	Generation  GenerationConfig  `koanf:"generation"`
	Session     SessionConfig     `koanf:"session"`
	Assistant   AssistantConfig   `koanf:"assistant"`
	Escalation  EscalationConfig  `koanf:"escalation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EmbeddingsConfig selects and configures the embedding backend.
type EmbeddingsConfig struct {
	// Backend is "tei" (remote text-embeddings-inference server) or
	// "fastembed" (local ONNX model, requires CGO).
	Backend string `koanf:"backend"`

	TEI       TEIConfig       `koanf:"tei"`
	FastEmbed FastEmbedConfig `koanf:"fastembed"`

	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

// TEIConfig holds remote embedding server configuration.
type TEIConfig struct {
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	Dimension     int           `koanf:"dimension"`
	MaxInputChars int           `koanf:"max_input_chars"`
	Timeout       time.Duration `koanf:"timeout"`
}

// FastEmbedConfig holds local embedding model configuration.
type FastEmbedConfig struct {
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Backend is "chromem" (embedded, exact search) or "qdrant"
	// (remote, HNSW approximate search).
	Backend string `koanf:"backend"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`

	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

// ChromemConfig holds embedded vector store configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds remote vector store configuration.
type QdrantConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	UseTLS          bool   `koanf:"use_tls"`
	Collection      string `koanf:"collection"`
	HNSWM           int    `koanf:"hnsw_m"`
	HNSWEfConstruct int    `koanf:"hnsw_ef_construct"`
	HNSWEfSearch    int    `koanf:"hnsw_ef_search"`
}

// IngestConfig holds document ingestion configuration.
type IngestConfig struct {
	// StatusDir is where per-document ingestion status is persisted.
	StatusDir string `koanf:"status_dir"`

	// WatchDir enables the filesystem watcher when non-empty.
	WatchDir string        `koanf:"watch_dir"`
	Debounce time.Duration `koanf:"debounce"`

	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`

	MaxChunkRetries int           `koanf:"max_chunk_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
}

// RetrievalConfig holds retrieval orchestrator configuration.
type RetrievalConfig struct {
	TopK     int     `koanf:"top_k"`
	MinScore float32 `koanf:"min_score"`
}

// PromptConfig holds prompt composer configuration.
type PromptConfig struct {
	TokenBudget     int `koanf:"token_budget"`
	MaxOutputTokens int `koanf:"max_output_tokens"`
}

// GenerationConfig holds generative model configuration. The model is
// reached through an OpenAI-compatible chat completions endpoint; the
// API key is read from the OPENAI_API_KEY environment variable.
type GenerationConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	Temperature       float64       `koanf:"temperature"`
	TopP              float64       `koanf:"top_p"`
	MaxAttempts       int           `koanf:"max_attempts"`
	BaseBackoff       time.Duration `koanf:"base_backoff"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// SessionConfig holds conversation session configuration.
type SessionConfig struct {
	// Dir is where sessions are persisted. Empty keeps them in memory.
	Dir              string        `koanf:"dir"`
	InactivityWindow time.Duration `koanf:"inactivity_window"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	MaxTurns         int           `koanf:"max_turns"`
}

// AssistantConfig holds answering service configuration.
type AssistantConfig struct {
	HistoryTurns int `koanf:"history_turns"`
}

// EscalationConfig holds escalation policy and sink configuration.
type EscalationConfig struct {
	FailureThreshold  int      `koanf:"failure_threshold"`
	SensitivePatterns []string `koanf:"sensitive_patterns"`
	BlockGeneration   bool     `koanf:"block_generation"`

	// NATSURL enables the NATS escalation sink when non-empty; tickets
	// are logged only when no sink is configured.
	NATSURL      string        `koanf:"nats_url"`
	Subject      string        `koanf:"subject"`
	FlushTimeout time.Duration `koanf:"flush_timeout"`
	MaxAttempts  int           `koanf:"max_attempts"`
	BaseBackoff  time.Duration `koanf:"base_backoff"`
}

// applyDefaults fills in values that have no package-level default.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	cfg.Logging.ApplyDefaults()
	if cfg.Embeddings.Backend == "" {
		cfg.Embeddings.Backend = "tei"
	}
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "chromem"
	}
	if cfg.Ingest.StatusDir == "" {
		cfg.Ingest.StatusDir = "data/ingest"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
}

// Validate checks the configuration for errors. Section values passed
// through to internal packages are validated again by those packages.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	switch c.Embeddings.Backend {
	case "tei", "fastembed":
	default:
		return fmt.Errorf("%w: embeddings backend must be tei or fastembed, got %q", ErrInvalidConfig, c.Embeddings.Backend)
	}
	switch c.VectorStore.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: vectorstore backend must be chromem or qdrant, got %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: retrieval min_score %v out of range [0, 1]", ErrInvalidConfig, c.Retrieval.MinScore)
	}
	return nil
}
