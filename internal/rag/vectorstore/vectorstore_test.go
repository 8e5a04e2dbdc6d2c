package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsExactMatchOnly(t *testing.T) {
	require.True(t, isExactMatchOnly(map[string]any{"docset": "weather"}))
	require.False(t, isExactMatchOnly(map[string]any{"source__prefix": "docs/"}))
	require.False(t, isExactMatchOnly(map[string]any{"source__contains": "seoul"}))
	require.True(t, isExactMatchOnly(nil))
}

func TestMatchesFilter_EqualityPrefixContainsAnyOf(t *testing.T) {
	payload := map[string]any{"source": "docs/seoul.md", "docset": "weather"}

	require.True(t, matchesFilter(payload, map[string]any{"docset": "weather"}))
	require.False(t, matchesFilter(payload, map[string]any{"docset": "travel"}))
	require.True(t, matchesFilter(payload, map[string]any{"source__prefix": "docs/"}))
	require.False(t, matchesFilter(payload, map[string]any{"source__prefix": "other/"}))
	require.True(t, matchesFilter(payload, map[string]any{"source__contains": "seoul"}))
	require.True(t, matchesFilter(payload, map[string]any{"docset": []any{"travel", "weather"}}))
	require.False(t, matchesFilter(payload, map[string]any{"missing_field": "x"}))
}

func TestPointUUID_PassesThroughValidUUIDButRemapsOthers(t *testing.T) {
	validUUID := "6f6e8f2e-6d0b-4f7a-9b0e-9a6c4f6a1d3a"
	require.Equal(t, validUUID, pointUUID(validUUID))

	remapped := pointUUID("docset|source.md|heading|0")
	require.NotEqual(t, "docset|source.md|heading|0", remapped)
	require.Equal(t, remapped, pointUUID("docset|source.md|heading|0"), "remapping must be deterministic")
}

func TestDistanceFor_DefaultsToCosine(t *testing.T) {
	require.Equal(t, distanceFor("cosine").String(), distanceFor("unknown").String())
}
