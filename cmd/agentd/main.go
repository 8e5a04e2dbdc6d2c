// Command agentd runs the agentic chat orchestrator's HTTP server: the
// chat endpoint (classify -> plan -> execute -> synthesize, unary or
// SSE), and the hybrid retrieval/indexing endpoints backing it.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"agenticrag/internal/config"
	"agenticrag/internal/httpapi"
	"agenticrag/internal/intent"
	"agenticrag/internal/llmprovider"
	"agenticrag/internal/observability"
	"agenticrag/internal/planner"
	"agenticrag/internal/rag/bm25"
	"agenticrag/internal/rag/chunker"
	"agenticrag/internal/rag/embedder"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/rag/vectorstore"
	"agenticrag/internal/runtime"
	"agenticrag/internal/session"
	"agenticrag/internal/tools"
)

func main() {
	// Load environment from .env so local development can run without
	// exporting variables manually. Do this before initializing the
	// logger so LOG_PATH/LOG_LEVEL are respected.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		// don't abort startup for observability failures; log and continue
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	chat := llmprovider.NewChat(cfg.LLM)
	embed := llmprovider.NewEmbed(ctx, cfg.LLM, cfg.Vector.Dimension)
	gateway := embedder.New(embed, nil, cfg.Vector.Dimension)

	store, err := vectorstore.New(cfg.Vector.DSN, cfg.Vector.Collection, cfg.Vector.Dimension, cfg.Vector.Metric, gateway)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to vector store")
	}
	defer store.Close()

	lexical := bm25.New()
	retrieval := retrieve.New(store, lexical, cfg.Hybrid.ScrollLimit)

	var turnLog *session.TurnLogSink
	if cfg.ClickHouse.DSN != "" {
		turnLog, err = session.NewTurnLogSink(ctx, cfg.ClickHouse.DSN, cfg.ClickHouse.Table)
		if err != nil {
			log.Warn().Err(err).Msg("turn_log_sink_unavailable, continuing without ClickHouse mirror")
			turnLog = nil
		}
	}

	sessions := session.New(cfg.Session.WindowSize, cfg.Session.Timeout)
	defer sessions.Close()

	specs, err := tools.LoadSpecs(cfg.Tools.ConfigPath)
	if err != nil {
		log.Warn().Err(err).Msg("tool_registry_override_failed, falling back to defaults")
		specs = tools.DefaultSpecs
	}
	executor := tools.NewExecutor(httpClient, cfg.Downstream, retrieval, sessions, specs)
	classifier := intent.New(chat)
	plnr := planner.New(chat, specs)
	rt := runtime.New(sessions, classifier, plnr, executor, chat, turnLog, cfg.MaxReplans)

	chunkOpt := chunker.Options{ChunkSize: cfg.Chunking.DefaultChunkSize, Overlap: cfg.Chunking.DefaultOverlap}

	docsRoot := cfg.Ingest.DocsRoot
	if !cfg.Ingest.AutoIndex {
		docsRoot = ""
	}
	srv := httpapi.NewServer(rt, retrieval, store, store, chunkOpt, cfg.Ingest.MaxFiles, docsRoot, cfg.S3)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", srv)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No overall write timeout: the chat endpoint streams SSE for
		// the duration of a plan's execution.
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("agentd listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
