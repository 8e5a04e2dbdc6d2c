// Package embedder implements the Embedding Gateway: text-to-vector
// conversion over a polymorphic set of provider variants (primary,
// secondary fallback, disabled).
package embedder

import (
	"context"
	"strings"

	"agenticrag/internal/apperr"
	"agenticrag/internal/llmprovider"
)

// Gateway embeds texts through a primary provider, falling back to a
// secondary provider when the primary is unavailable or errors. Both may
// be llmprovider.DisabledEmbed, in which case embed always fails with
// ProviderUnavailable.
type Gateway struct {
	primary   llmprovider.Embed
	secondary llmprovider.Embed
	dim       int
}

// New constructs a Gateway. dim is the vector dimension the backing
// collection expects; a provider reporting a different dimension is a
// fatal configuration error surfaced on the first embed call.
func New(primary, secondary llmprovider.Embed, dim int) *Gateway {
	if primary == nil {
		primary = llmprovider.DisabledEmbed
	}
	if secondary == nil {
		secondary = llmprovider.DisabledEmbed
	}
	return &Gateway{primary: primary, secondary: secondary, dim: dim}
}

// Embed sanitizes each input (newlines become spaces) and returns one
// vector per input, preferring the primary provider.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	sanitized := make([]string, len(texts))
	for i, t := range texts {
		sanitized[i] = strings.ReplaceAll(t, "\n", " ")
	}

	vectors, err := g.primary.EmbedBatch(ctx, sanitized)
	if err != nil {
		vectors, err = g.secondary.EmbedBatch(ctx, sanitized)
		if err != nil {
			return nil, apperr.ErrProviderUnavailable
		}
	}

	if g.dim > 0 {
		for _, v := range vectors {
			if len(v) != g.dim {
				return nil, apperr.ErrDimensionMismatch
			}
		}
	}
	return vectors, nil
}

// Dimension reports the gateway's configured collection dimension.
func (g *Gateway) Dimension() int { return g.dim }
