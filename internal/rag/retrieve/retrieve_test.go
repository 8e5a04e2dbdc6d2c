package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"agenticrag/internal/rag/bm25"
	"agenticrag/internal/rag/vectorstore"
)

type fakeVectors struct {
	hits    []vectorstore.Point
	scroll  []vectorstore.Point
	scrollN int
}

func (f *fakeVectors) VectorSearch(ctx context.Context, query string, k int, filter map[string]any) ([]vectorstore.Point, error) {
	out := f.hits
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeVectors) ScrollPayloads(ctx context.Context, limit int) ([]vectorstore.Point, error) {
	f.scrollN++
	return f.scroll, nil
}

func newLexicalDocs() []bm25.Document {
	return []bm25.Document{
		{ID: "a", Text: "seoul weather forecast sunny", Payload: map[string]any{"text": "seoul weather forecast sunny", "source": "docs/seoul.md"}},
		{ID: "b", Text: "busan weather forecast rain", Payload: map[string]any{"text": "busan weather forecast rain", "source": "docs/busan.md"}},
		{ID: "c", Text: "unrelated travel notes", Payload: map[string]any{"text": "unrelated travel notes", "source": "other/notes.md"}},
	}
}

func TestSearch_RRFFusionCombinesBothSignals(t *testing.T) {
	fv := &fakeVectors{hits: []vectorstore.Point{
		{ID: "b", Score: 0.9, Payload: map[string]any{"text": "busan weather forecast rain", "source": "docs/busan.md"}},
		{ID: "a", Score: 0.8, Payload: map[string]any{"text": "seoul weather forecast sunny", "source": "docs/seoul.md"}},
	}}
	idx := bm25.New()
	idx.Build(newLexicalDocs())

	eng := New(fv, idx, 100)
	hits, err := eng.Search(context.Background(), "weather forecast", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		require.Greater(t, h.FusedScore, 0.0)
	}
}

func TestSearch_RebuildsEmptyLexicalIndexFromScroll(t *testing.T) {
	fv := &fakeVectors{
		hits: []vectorstore.Point{{ID: "a", Score: 0.5, Payload: map[string]any{"text": "seoul weather forecast sunny"}}},
		scroll: []vectorstore.Point{
			{ID: "a", Payload: map[string]any{"text": "seoul weather forecast sunny"}},
			{ID: "b", Payload: map[string]any{"text": "busan weather forecast rain"}},
		},
	}
	idx := bm25.New()
	require.Equal(t, 0, idx.Len())

	eng := New(fv, idx, 100)
	_, err := eng.Search(context.Background(), "weather", Options{TopK: 5})
	require.NoError(t, err)
	require.Equal(t, 1, fv.scrollN)
	require.Equal(t, 2, idx.Len())

	_, err = eng.Search(context.Background(), "weather", Options{TopK: 5})
	require.NoError(t, err)
	require.Equal(t, 1, fv.scrollN, "a populated index must not trigger a second scroll")
}

func TestSearch_PostFiltersPrefixAndContainsClauses(t *testing.T) {
	fv := &fakeVectors{hits: []vectorstore.Point{
		{ID: "a", Score: 0.9, Payload: map[string]any{"text": "seoul weather forecast sunny", "source": "docs/seoul.md"}},
		{ID: "b", Score: 0.8, Payload: map[string]any{"text": "busan weather forecast rain", "source": "docs/busan.md"}},
	}}
	idx := bm25.New()
	idx.Build(newLexicalDocs())

	eng := New(fv, idx, 100)
	hits, err := eng.Search(context.Background(), "weather forecast", Options{
		TopK:    5,
		Filters: map[string]any{"source__contains": "seoul"},
	})
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, "docs/seoul.md", h.Payload["source"])
	}
}

func TestSearch_OnlyOneSourcePopulatedReducesToThatRanking(t *testing.T) {
	fv := &fakeVectors{hits: nil}
	idx := bm25.New()
	idx.Build(newLexicalDocs())

	eng := New(fv, idx, 100)
	hits, err := eng.Search(context.Background(), "weather forecast", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		require.Equal(t, 0, h.VectorRank)
		require.Greater(t, h.BM25Rank, 0)
	}
}

func TestFuseMinMax_ZeroRangeNormalizesToZero(t *testing.T) {
	hits := []Hit{
		{ID: "a", VectorScore: 1.0, VectorRank: 1, BM25Score: 1.0, BM25Rank: 1},
		{ID: "b", VectorScore: 1.0, VectorRank: 2, BM25Score: 1.0, BM25Rank: 2},
	}
	fuseMinMax(hits, 0.6)
	require.Equal(t, 0.0, hits[0].FusedScore)
	require.Equal(t, 0.0, hits[1].FusedScore)
}

func TestSnippet_TruncatesWithEllipsis(t *testing.T) {
	require.Equal(t, "hello", Snippet("hello", 0))
	require.Equal(t, "he...", Snippet("hello", 2))
	require.Equal(t, "hello", Snippet("hello", 10))
}

type erroringVectors struct {
	err error
}

func (f *erroringVectors) VectorSearch(ctx context.Context, query string, k int, filter map[string]any) ([]vectorstore.Point, error) {
	return nil, f.err
}

func (f *erroringVectors) ScrollPayloads(ctx context.Context, limit int) ([]vectorstore.Point, error) {
	return nil, nil
}

func TestSearch_PropagatesVectorSearchErrorFromParallelFetch(t *testing.T) {
	idx := bm25.New()
	idx.Build(newLexicalDocs())
	e := New(&erroringVectors{err: errors.New("qdrant unreachable")}, idx, 100)

	_, err := e.Search(context.Background(), "seoul weather", Options{TopK: 2})
	require.Error(t, err)
}
