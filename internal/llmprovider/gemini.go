package llmprovider

import (
	"context"
	"strings"

	genai "google.golang.org/genai"

	"agenticrag/internal/apperr"
)

// GeminiEmbed adapts the Gemini embedding API to Embed.
type GeminiEmbed struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiEmbed builds an Embed provider backed by the Gemini API.
func NewGeminiEmbed(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbed, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, apperr.Config("failed to init gemini client", err)
	}
	return &GeminiEmbed{client: client, model: model, dim: dim}, nil
}

func (e *GeminiEmbed) Name() string   { return "gemini:" + e.model }
func (e *GeminiEmbed) Dimension() int { return e.dim }

func (e *GeminiEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		sanitized := strings.ReplaceAll(t, "\n", " ")
		contents[i] = genai.NewContentFromText(sanitized, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, apperr.Provider("gemini embedding request failed", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
