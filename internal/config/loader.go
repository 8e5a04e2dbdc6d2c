package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from the process environment, overlaying a local
// .env file when present. Overload lets repo-local .env values win over
// whatever the shell already exported, matching the teacher's convention
// for deterministic local development.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		ListenAddr: firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8080"),
		LogLevel:   firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogPath:    os.Getenv("LOG_PATH"),
		MaxReplans: envInt("MAX_REPLANS", 2),
	}

	cfg.Downstream = DownstreamConfig{
		WeatherURL:      firstNonEmpty(os.Getenv("WEATHER_SERVICE_URL"), "http://localhost:8001"),
		CalendarURL:     firstNonEmpty(os.Getenv("CALENDAR_SERVICE_URL"), "http://localhost:8002"),
		FileURL:         firstNonEmpty(os.Getenv("FILE_SERVICE_URL"), "http://localhost:8003"),
		NotificationURL: firstNonEmpty(os.Getenv("NOTIFICATION_SERVICE_URL"), "http://localhost:8004"),
	}

	cfg.Vector = VectorConfig{
		DSN:        firstNonEmpty(os.Getenv("QDRANT_DSN"), "http://localhost:6334"),
		Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "agentic_rag"),
		Dimension:  envInt("EMBEDDING_DIMENSION", 768),
		Metric:     firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
	}

	cfg.LLM = LLMConfig{
		ChatProvider:  firstNonEmpty(os.Getenv("CHAT_PROVIDER"), "disabled"),
		EmbedProvider: firstNonEmpty(os.Getenv("EMBEDDING_PROVIDER"), "disabled"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-5-haiku-latest"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  firstNonEmpty(os.Getenv("GEMINI_MODEL"), "text-embedding-004"),
	}

	cfg.Chunking = ChunkingConfig{
		DefaultChunkSize: envInt("CHUNK_SIZE", 800),
		DefaultOverlap:   envInt("CHUNK_OVERLAP", 100),
	}

	cfg.Hybrid = HybridConfig{
		Alpha:       envFloat("HYBRID_ALPHA", 0.6),
		RRFK:        envInt("HYBRID_RRF_K", 60),
		VectorMult:  envInt("HYBRID_VECTOR_MULT", 4),
		BM25Mult:    envInt("HYBRID_BM25_MULT", 4),
		Fusion:      firstNonEmpty(os.Getenv("HYBRID_FUSION"), "rrf"),
		ScrollLimit: envInt("BM25_SCROLL_LIMIT", 2000),
	}

	cfg.Session = SessionConfig{
		WindowSize: envInt("SESSION_WINDOW_SIZE", 20),
		Timeout:    envDuration("SESSION_TIMEOUT", 24*time.Hour),
	}

	cfg.S3 = S3Config{
		Region:    os.Getenv("AWS_REGION"),
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}

	cfg.Ingest = IngestConfig{
		DocsRoot:  os.Getenv("DOCS_ROOT"),
		MaxFiles:  envInt("INGEST_MAX_FILES", 200),
		AutoIndex: envBool("RAG_AUTO_INDEX", true),
	}

	cfg.Tools = ToolsConfig{
		ConfigPath: os.Getenv("TOOLS_CONFIG"),
	}

	cfg.ClickHouse = ClickHouseConfig{
		DSN:   os.Getenv("CLICKHOUSE_DSN"),
		Table: firstNonEmpty(os.Getenv("CLICKHOUSE_TURNS_TABLE"), "conversation_turns"),
	}

	cfg.Obs = ObsConfig{
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "agentd"),
		ServiceVersion: firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev"),
		Environment:    firstNonEmpty(os.Getenv("ENVIRONMENT"), "development"),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
