package llmprovider

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"agenticrag/internal/apperr"
)

// OpenAIChat adapts the OpenAI Chat Completions API to Chat.
type OpenAIChat struct {
	client sdk.Client
	model  string
}

// NewOpenAIChat builds a Chat provider backed by the OpenAI API. baseURL may
// be empty to use the default https://api.openai.com/v1 endpoint.
func NewOpenAIChat(apiKey, model, baseURL string) *OpenAIChat {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIChat{client: sdk.NewClient(opts...), model: model}
}

func (c *OpenAIChat) Name() string { return "openai:" + c.model }

func (c *OpenAIChat) Complete(ctx context.Context, msgs []Message) (string, error) {
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(c.model)}
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			params.Messages = append(params.Messages, sdk.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, sdk.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, sdk.UserMessage(m.Content))
		}
	}
	comp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", apperr.Provider("openai chat completion failed", err)
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}

// OpenAIEmbed adapts the OpenAI Embeddings API to Embed.
type OpenAIEmbed struct {
	client sdk.Client
	model  string
	dim    int
}

// NewOpenAIEmbed builds an Embed provider backed by the OpenAI API. dim is
// the expected output dimensionality, validated against the collection.
func NewOpenAIEmbed(apiKey, model, baseURL string, dim int) *OpenAIEmbed {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbed{client: sdk.NewClient(opts...), model: model, dim: dim}
}

func (e *OpenAIEmbed) Name() string   { return "openai:" + e.model }
func (e *OpenAIEmbed) Dimension() int { return e.dim }

func (e *OpenAIEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	sanitized := make([]string, len(texts))
	for i, t := range texts {
		sanitized[i] = strings.ReplaceAll(t, "\n", " ")
	}
	resp, err := e.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: sanitized},
		Model: sdk.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, apperr.Provider("openai embedding request failed", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float32(x)
		}
		out[d.Index] = vec
	}
	return out, nil
}
