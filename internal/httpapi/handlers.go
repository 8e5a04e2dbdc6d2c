package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"agenticrag/internal/apperr"
	"agenticrag/internal/rag/ingest"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/runtime"
)

// defaultDocset names the docset the /rag/query auto-index pass writes
// to; /rag/index always uses its {collection} path segment instead.
const defaultDocset = "docs"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// --- Chat -------------------------------------------------------------

type chatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id"`
	Messages       []chatMessage  `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// resolveInput prefers Message; when only Messages is given, the last
// entry's content is the turn's input, matching clients that maintain
// their own transcript and resend it each call.
func (r chatRequest) resolveInput() string {
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	if len(r.Messages) > 0 {
		return r.Messages[len(r.Messages)-1].Content
	}
	return ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	userInput := strings.TrimSpace(req.resolveInput())
	if userInput == "" {
		respondError(w, http.StatusBadRequest, errors.New("message must not be empty"))
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamChat(w, r, userInput, req.ConversationID)
		return
	}

	resp := s.rt.Handle(r.Context(), userInput, req.ConversationID)
	respondJSON(w, http.StatusOK, resp)
}

// streamChat emits the Runtime's documented SSE event sequence, one
// "data:" frame per event as the Runtime calls its emit callback,
// followed by the terminating "[DONE]" sentinel. Writes are not guarded
// by a lock; the callback is called from the handler's goroutine.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, userInput, conversationID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	writeSSE := func(payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}

	s.rt.Stream(r.Context(), userInput, conversationID, func(ev runtime.Event) {
		writeSSE(ev)
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	fl.Flush()
}

// --- /rag/query ---------------------------------------------------------

type queryRequest struct {
	Query        string         `json:"query"`
	TopK         int            `json:"top_k"`
	AutoIndex    *bool          `json:"auto_index"`
	SnippetChars int            `json:"snippet_chars"`
	Filters      map[string]any `json:"filters"`
}

type queryHit struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"`
	VectorScore float64 `json:"vector_score"`
	BM25Score   float64 `json:"bm25_score"`
	Source      string  `json:"source"`
	Text        string  `json:"text"`
}

// autoIndexMinPoints mirrors the original rag-service's _maybe_auto_index
// threshold: below this many points, an empty collection is assumed to
// need a first pass over the default docset before answering queries.
const autoIndexMinPoints = 20

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.SnippetChars <= 0 {
		req.SnippetChars = 1200
	}

	meta := map[string]any{}
	if (req.AutoIndex == nil || *req.AutoIndex) && s.vectors != nil && s.docsRoot != "" {
		if s.vectors.Count(r.Context()) < autoIndexMinPoints {
			auto, autoErr := s.autoIndex(r.Context())
			if autoErr != nil {
				log.Warn().Err(autoErr).Msg("rag_auto_index_failed")
			} else {
				meta["auto_indexed_files"] = auto.IndexedFiles
				meta["auto_indexed_chunks"] = auto.IndexedChunks
			}
		}
	}

	hits, err := s.retrieval.Search(r.Context(), req.Query, retrieve.Options{TopK: req.TopK, Filters: req.Filters})
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}

	out := make([]queryHit, len(hits))
	for i, h := range hits {
		text, _ := h.Payload["text"].(string)
		source, _ := h.Payload["source"].(string)
		out[i] = queryHit{
			ID: h.ID, Score: h.FusedScore, VectorScore: h.VectorScore, BM25Score: h.BM25Score,
			Source: source, Text: retrieve.Snippet(text, req.SnippetChars),
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"query": req.Query, "hits": out, "meta": meta})
}

// autoIndex runs a best-effort Index pass over the server's configured
// default docs root, mirroring rag-service's _maybe_auto_index.
func (s *Server) autoIndex(ctx context.Context) (ingest.Result, error) {
	src, err := ingest.Resolve(ctx, s.docsRoot, s.s3cfg)
	if err != nil {
		return ingest.Result{}, err
	}
	pipeline := ingest.NewPipeline(s.store, s.chunkOpt, s.maxFiles)
	return pipeline.IndexWithOptions(ctx, defaultDocset, src, false)
}

// --- /rag/index/{collection} --------------------------------------------

type indexRequest struct {
	DocsRoot             string `json:"docs_root"`
	MaxFiles             int    `json:"max_files"`
	Recreate             bool   `json:"recreate"`
	ReplaceDocset        *bool  `json:"replace_docset"`
	Preview              bool   `json:"preview"`
	PreviewFiles         int    `json:"preview_files"`
	PreviewChunksPerFile int    `json:"preview_chunks_per_file"`
	PreviewChars         int    `json:"preview_chars"`
}

func (s *Server) handleRAGIndex(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if strings.TrimSpace(collection) == "" {
		respondError(w, http.StatusBadRequest, errors.New("collection name must not be empty"))
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	docsRoot := req.DocsRoot
	if docsRoot == "" {
		docsRoot = s.docsRoot
	}
	if docsRoot == "" {
		respondError(w, http.StatusBadRequest, errors.New("docs_root is required when no default is configured"))
		return
	}

	src, err := ingest.Resolve(r.Context(), docsRoot, s.s3cfg)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}

	maxFiles := req.MaxFiles
	if maxFiles <= 0 {
		maxFiles = s.maxFiles
	}
	pipeline := ingest.NewPipeline(s.store, s.chunkOpt, maxFiles)

	if req.Recreate {
		if s.vectors == nil {
			respondError(w, http.StatusServiceUnavailable, errors.New("vector collection admin is not configured"))
			return
		}
		if err := s.vectors.Recreate(r.Context()); err != nil {
			respondError(w, apperr.HTTPStatus(err), err)
			return
		}
	}

	if req.Preview {
		res, byFile, err := pipeline.Preview(r.Context(), collection, src, ingest.PreviewOptions{
			MaxFiles: req.PreviewFiles, ChunksPerFile: req.PreviewChunksPerFile, CharsPerChunk: req.PreviewChars,
		})
		if err != nil {
			respondError(w, apperr.HTTPStatus(err), err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"indexed_files":  res.IndexedFiles,
			"indexed_chunks": res.IndexedChunks,
			"collection":     collection,
			"preview":        byFile,
		})
		return
	}

	replace := req.ReplaceDocset == nil || *req.ReplaceDocset
	res, err := pipeline.IndexWithOptions(r.Context(), collection, src, replace)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"indexed_files":  res.IndexedFiles,
		"indexed_chunks": res.IndexedChunks,
		"collection":     collection,
	})
}
