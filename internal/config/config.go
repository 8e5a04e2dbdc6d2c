// Package config defines the typed runtime configuration for the agentic
// chat orchestrator and loads it from the process environment.
package config

import "time"

// DownstreamConfig holds the base URLs of the external mock services the
// Tool Executor dispatches to. These services are explicitly out of scope
// for this module (spec §1) — only their contracts are consumed here.
type DownstreamConfig struct {
	WeatherURL      string
	CalendarURL     string
	FileURL         string
	NotificationURL string
}

// VectorConfig describes the vector database collection backing the
// Retrieval Engine.
type VectorConfig struct {
	DSN        string
	Collection string
	Dimension  int
	Metric     string // cosine|l2|euclidean|ip|dot
}

// LLMConfig selects and configures the chat/embedding provider variants.
type LLMConfig struct {
	ChatProvider string // openai|anthropic|disabled
	EmbedProvider string // openai|gemini|disabled

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicAPIKey string
	AnthropicModel  string

	GeminiAPIKey string
	GeminiModel  string
}

// ChunkingConfig carries the Chunker's default size/overlap when a request
// does not override them.
type ChunkingConfig struct {
	DefaultChunkSize int
	DefaultOverlap   int
}

// HybridConfig tunes the Retrieval Engine's fusion strategy.
type HybridConfig struct {
	Alpha           float64
	RRFK            int
	VectorMult      int
	BM25Mult        int
	Fusion          string // rrf|minmax
	ScrollLimit     int
}

// SessionConfig bounds the Context Store.
type SessionConfig struct {
	WindowSize int
	Timeout    time.Duration
}

// S3Config enables S3-sourced indexing (docs_root=s3://bucket/prefix).
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// IngestConfig carries the indexing pipeline's defaults: where the
// default docset's documents live, the safety cap on files scanned per
// call, and whether /rag/query may trigger a first-touch auto-index.
type IngestConfig struct {
	DocsRoot  string
	MaxFiles  int
	AutoIndex bool
}

// ToolsConfig points at an optional YAML override of the compiled-in
// tool registry (empty path means use tools.DefaultSpecs).
type ToolsConfig struct {
	ConfigPath string
}

// ClickHouseConfig enables the optional best-effort turn-log mirror.
// Empty DSN disables the sink entirely; the in-memory Context Store
// remains the sole system of record (spec §3, §4.1).
type ClickHouseConfig struct {
	DSN   string
	Table string
}

// ObsConfig configures OpenTelemetry tracing.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogPath    string

	Downstream DownstreamConfig
	Vector     VectorConfig
	LLM        LLMConfig
	Chunking   ChunkingConfig
	Hybrid     HybridConfig
	Session    SessionConfig
	S3         S3Config
	ClickHouse ClickHouseConfig
	Obs        ObsConfig
	Ingest     IngestConfig
	Tools      ToolsConfig

	MaxReplans int
}
