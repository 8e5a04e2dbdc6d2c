package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agenticrag/internal/config"
	"agenticrag/internal/intent"
	"agenticrag/internal/llmprovider"
	"agenticrag/internal/planner"
	"agenticrag/internal/rag/bm25"
	"agenticrag/internal/rag/chunker"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/rag/vectorstore"
	"agenticrag/internal/runtime"
	"agenticrag/internal/session"
	"agenticrag/internal/tools"
)

// --- fakes --------------------------------------------------------------

type fakeVectorSearcher struct {
	points []vectorstore.Point
}

func (f *fakeVectorSearcher) VectorSearch(ctx context.Context, query string, k int, filter map[string]any) ([]vectorstore.Point, error) {
	return f.points, nil
}

func (f *fakeVectorSearcher) ScrollPayloads(ctx context.Context, limit int) ([]vectorstore.Point, error) {
	return f.points, nil
}

type fakeIngestStore struct {
	deletedFilters []map[string]any
	upserted       []chunker.Chunk
}

func (f *fakeIngestStore) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	f.deletedFilters = append(f.deletedFilters, filter)
	return nil
}

func (f *fakeIngestStore) Upsert(ctx context.Context, chunks []chunker.Chunk) error {
	f.upserted = append(f.upserted, chunks...)
	return nil
}

type fakeCollectionAdmin struct {
	count          int
	recreateCalled bool
}

func (f *fakeCollectionAdmin) Count(ctx context.Context) int { return f.count }
func (f *fakeCollectionAdmin) Recreate(ctx context.Context) error {
	f.recreateCalled = true
	return nil
}

func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	store := session.New(20, time.Hour)
	t.Cleanup(store.Close)
	classifier := intent.New(llmprovider.DisabledChat)
	plnr := planner.New(llmprovider.DisabledChat, nil)
	executor := tools.NewExecutor(http.DefaultClient, config.DownstreamConfig{}, nil, store, nil)
	return runtime.New(store, classifier, plnr, executor, llmprovider.DisabledChat, nil, 2)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// --- chat -----------------------------------------------------------------

func TestHandleChat_UnaryJSON(t *testing.T) {
	s := NewServer(newTestRuntime(t), nil, nil, nil, chunker.Options{}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]string{"message": "뭐 할 수 있어?"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "assistant", resp["role"])
	require.NotEmpty(t, resp["message"])
	require.NotEmpty(t, resp["conversation_id"])
}

func TestHandleChat_EmptyMessageReturns400(t *testing.T) {
	s := NewServer(newTestRuntime(t), nil, nil, nil, chunker.Options{}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]string{"message": "  "})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_SSEStreamEndsWithDoneSentinel(t *testing.T) {
	s := NewServer(newTestRuntime(t), nil, nil, nil, chunker.Options{}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]string{"message": "오늘 일정 있어?"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	lines := strings.Split(strings.TrimSpace(out), "\n\n")
	require.GreaterOrEqual(t, len(lines), 5)
	require.Equal(t, "data: [DONE]", lines[len(lines)-1])
	require.Contains(t, lines[0], "analyzing intent")
}

// --- rag query --------------------------------------------------------

func TestHandleRAGQuery_TruncatesSnippet(t *testing.T) {
	longText := strings.Repeat("weather report for seoul today is sunny. ", 10)
	vectors := &fakeVectorSearcher{points: []vectorstore.Point{
		{ID: "1", Score: 0.9, Payload: map[string]any{"text": longText, "source": "docs/weather.md"}},
	}}
	engine := retrieve.New(vectors, bm25.New(), 1000)
	s := NewServer(newTestRuntime(t), engine, nil, nil, chunker.Options{}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]any{"query": "weather", "top_k": 1, "snippet_chars": 20})
	req := httptest.NewRequest(http.MethodPost, "/rag/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Hits []queryHit     `json:"hits"`
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 1)
	require.True(t, strings.HasSuffix(resp.Hits[0].Text, "..."))
	require.LessOrEqual(t, len(resp.Hits[0].Text), 23)
}

func TestHandleRAGQuery_AutoIndexFalseSkipsIndexingEvenBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Seoul\n\nWeather notes for the capital region.")

	engine := retrieve.New(&fakeVectorSearcher{}, bm25.New(), 1000)
	admin := &fakeCollectionAdmin{count: 0}
	store := &fakeIngestStore{}
	s := NewServer(newTestRuntime(t), engine, store, admin, chunker.Options{ChunkSize: 500}, 0, dir, config.S3Config{})

	autoIndexFalse := false
	body, _ := json.Marshal(map[string]any{"query": "weather", "auto_index": &autoIndexFalse})
	req := httptest.NewRequest(http.MethodPost, "/rag/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, store.upserted, "auto_index=false must suppress the auto-index pass")
}

func TestHandleRAGQuery_EmptyQueryReturns400(t *testing.T) {
	engine := retrieve.New(&fakeVectorSearcher{}, bm25.New(), 1000)
	s := NewServer(newTestRuntime(t), engine, nil, nil, chunker.Options{}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]string{"query": ""})
	req := httptest.NewRequest(http.MethodPost, "/rag/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRAGQuery_AutoIndexesWhenCollectionBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Seoul\n\nWeather notes for the capital region.")

	engine := retrieve.New(&fakeVectorSearcher{}, bm25.New(), 1000)
	admin := &fakeCollectionAdmin{count: 0}
	store := &fakeIngestStore{}
	s := NewServer(newTestRuntime(t), engine, store, admin, chunker.Options{ChunkSize: 500}, 0, dir, config.S3Config{})

	body, _ := json.Marshal(map[string]any{"query": "weather"})
	req := httptest.NewRequest(http.MethodPost, "/rag/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, store.upserted, "auto-index should have upserted chunks from the configured docs root")
}

// --- rag index --------------------------------------------------------

func TestHandleRAGIndex_PreviewDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Title\n\nSome paragraph text about calendars and weather.")

	store := &fakeIngestStore{}
	s := NewServer(newTestRuntime(t), nil, store, nil, chunker.Options{ChunkSize: 500}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]any{"docs_root": dir, "preview": true, "preview_files": 1, "preview_chunks_per_file": 1})
	req := httptest.NewRequest(http.MethodPost, "/rag/index/docs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, store.upserted)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "docs", resp["collection"])
	require.NotEmpty(t, resp["preview"])
}

func TestHandleRAGIndex_ReplaceDocsetFalseSkipsDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Title\n\nSome paragraph text about calendars and weather.")

	store := &fakeIngestStore{}
	s := NewServer(newTestRuntime(t), nil, store, nil, chunker.Options{ChunkSize: 500}, 0, "", config.S3Config{})

	replaceFalse := false
	body, _ := json.Marshal(map[string]any{"docs_root": dir, "replace_docset": &replaceFalse})
	req := httptest.NewRequest(http.MethodPost, "/rag/index/docs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, store.deletedFilters)
	require.NotEmpty(t, store.upserted)
}

func TestHandleRAGIndex_RecreateCallsCollectionAdmin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Title\n\nSome paragraph text about calendars and weather.")

	store := &fakeIngestStore{}
	admin := &fakeCollectionAdmin{}
	s := NewServer(newTestRuntime(t), nil, store, admin, chunker.Options{ChunkSize: 500}, 0, "", config.S3Config{})

	body, _ := json.Marshal(map[string]any{"docs_root": dir, "recreate": true})
	req := httptest.NewRequest(http.MethodPost, "/rag/index/docs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, admin.recreateCalled)
}

func TestHandleRAGIndex_MissingDocsRootReturns400(t *testing.T) {
	s := NewServer(newTestRuntime(t), nil, &fakeIngestStore{}, nil, chunker.Options{}, 0, "", config.S3Config{})

	req := httptest.NewRequest(http.MethodPost, "/rag/index/docs", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
