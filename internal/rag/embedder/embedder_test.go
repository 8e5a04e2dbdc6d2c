package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agenticrag/internal/apperr"
	"agenticrag/internal/llmprovider"
)

type fakeEmbed struct {
	name string
	dim  int
	err  error
	got  []string
}

func (f *fakeEmbed) Name() string   { return f.name }
func (f *fakeEmbed) Dimension() int { return f.dim }
func (f *fakeEmbed) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.got = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func TestGateway_SanitizesNewlinesBeforeEmbedding(t *testing.T) {
	primary := &fakeEmbed{name: "primary", dim: 4}
	gw := New(primary, nil, 4)

	_, err := gw.Embed(context.Background(), []string{"line one\nline two"})
	require.NoError(t, err)
	require.Equal(t, []string{"line one line two"}, primary.got)
}

func TestGateway_FallsBackToSecondaryOnPrimaryError(t *testing.T) {
	primary := &fakeEmbed{name: "primary", dim: 4, err: apperr.Provider("down", nil)}
	secondary := &fakeEmbed{name: "secondary", dim: 4}
	gw := New(primary, secondary, 4)

	vecs, err := gw.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, []string{"hello"}, secondary.got)
}

func TestGateway_DisabledReturnsProviderUnavailable(t *testing.T) {
	gw := New(llmprovider.DisabledEmbed, llmprovider.DisabledEmbed, 4)
	_, err := gw.Embed(context.Background(), []string{"hello"})
	require.ErrorIs(t, err, apperr.ErrProviderUnavailable)
}

func TestGateway_DimensionMismatchIsFatal(t *testing.T) {
	primary := &fakeEmbed{name: "primary", dim: 3}
	gw := New(primary, nil, 4)
	_, err := gw.Embed(context.Background(), []string{"hello"})
	require.ErrorIs(t, err, apperr.ErrDimensionMismatch)
}
