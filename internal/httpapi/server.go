// Package httpapi exposes the orchestrator's external HTTP surface: the
// chat endpoint (unary JSON and SSE streaming), and the retrieval
// endpoints for querying and (re)indexing a docset. Grounded on the
// teacher's httpapi.Server (stdlib ServeMux with method+path patterns,
// respondJSON/respondError helpers) and agentd's SSE writer closures for
// the streaming branch.
package httpapi

import (
	"context"
	"net/http"

	"agenticrag/internal/config"
	"agenticrag/internal/rag/chunker"
	"agenticrag/internal/rag/ingest"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/runtime"
)

// CollectionAdmin is the subset of vectorstore.Store the indexing
// endpoint needs for collection-level maintenance, narrowed to an
// interface so tests can substitute a fake in place of a live Qdrant
// collection.
type CollectionAdmin interface {
	Count(ctx context.Context) int
	Recreate(ctx context.Context) error
}

// Server wires the Runtime and the retrieval/ingestion stack to HTTP.
type Server struct {
	rt        *runtime.Runtime
	retrieval *retrieve.Engine
	store     ingest.VectorUpserter
	vectors   CollectionAdmin
	chunkOpt  chunker.Options
	maxFiles  int
	docsRoot  string
	s3cfg     config.S3Config

	mux *http.ServeMux
}

// NewServer builds a Server. vectors may be nil in tests that only
// exercise chat; the indexing endpoints require it for recreate/count.
func NewServer(
	rt *runtime.Runtime,
	retrieval *retrieve.Engine,
	store ingest.VectorUpserter,
	vectors CollectionAdmin,
	chunkOpt chunker.Options,
	maxFiles int,
	docsRoot string,
	s3cfg config.S3Config,
) *Server {
	s := &Server{
		rt: rt, retrieval: retrieval, store: store, vectors: vectors,
		chunkOpt: chunkOpt, maxFiles: maxFiles, docsRoot: docsRoot, s3cfg: s3cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /rag/query", s.handleRAGQuery)
	s.mux.HandleFunc("POST /rag/index/{collection}", s.handleRAGIndex)
}
