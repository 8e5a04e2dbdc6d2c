package bm25

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch_RanksMoreFrequentTermHigher(t *testing.T) {
	idx := New()
	idx.Build([]Document{
		{ID: "a", Text: "weather weather weather sunny", Payload: map[string]any{"docset": "x"}},
		{ID: "b", Text: "weather clouds", Payload: map[string]any{"docset": "x"}},
		{ID: "c", Text: "unrelated travel guide", Payload: map[string]any{"docset": "x"}},
	})

	results := idx.Search("weather", 10, nil)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
}

func TestSearch_EmptyCorpusOrQueryYieldsEmpty(t *testing.T) {
	idx := New()
	require.Empty(t, idx.Search("anything", 10, nil))

	idx.Build([]Document{{ID: "a", Text: "hello world"}})
	require.Empty(t, idx.Search("   ", 10, nil))
}

func TestSearch_FiltersPrefixContainsEqualityAnyOf(t *testing.T) {
	idx := New()
	idx.Build([]Document{
		{ID: "a", Text: "seoul weather", Payload: map[string]any{"source": "docs/seoul.md", "docset": "weather"}},
		{ID: "b", Text: "seoul weather", Payload: map[string]any{"source": "docs/busan.md", "docset": "weather"}},
		{ID: "c", Text: "seoul weather", Payload: map[string]any{"source": "other/seoul.md", "docset": "travel"}},
	})

	prefix := idx.Search("seoul weather", 10, Filters{"source__prefix": "docs/"})
	require.Len(t, prefix, 2)

	contains := idx.Search("seoul weather", 10, Filters{"source__contains": "seoul"})
	ids := map[string]bool{}
	for _, r := range contains {
		ids[r.ID] = true
	}
	require.True(t, ids["a"])
	require.True(t, ids["c"])

	anyOf := idx.Search("seoul weather", 10, Filters{"docset": []any{"weather", "travel"}})
	require.Len(t, anyOf, 3)

	eq := idx.Search("seoul weather", 10, Filters{"docset": "travel"})
	require.Len(t, eq, 1)
	require.Equal(t, "c", eq[0].ID)
}

func TestSearch_DeduplicatesRepeatedQueryTerms(t *testing.T) {
	idx := New()
	idx.Build([]Document{
		{ID: "a", Text: "weather weather weather"},
		{ID: "b", Text: "weather forecast today"},
	})
	// "weather weather weather" as a query should not over-weight doc "a"
	// beyond what a single "weather" term produces relative to "b".
	once := idx.Search("weather", 10, nil)
	repeated := idx.Search("weather weather weather", 10, nil)
	require.Equal(t, once[0].Score, repeated[0].Score)
}

func TestTokenize_HandlesHangulAndAlphanumerics(t *testing.T) {
	toks := Tokenize("Seoul 날씨 2024!")
	require.Contains(t, toks, "seoul")
	require.Contains(t, toks, "날씨")
	require.Contains(t, toks, "2024")
}
