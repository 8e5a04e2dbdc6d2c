package llmprovider

import (
	"context"
	"strings"

	"agenticrag/internal/config"
)

// NewChat resolves the configured chat provider variant.
func NewChat(cfg config.LLMConfig) Chat {
	switch strings.ToLower(strings.TrimSpace(cfg.ChatProvider)) {
	case "openai":
		return NewOpenAIChat(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case "anthropic":
		return NewAnthropicChat(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		return DisabledChat
	}
}

// NewEmbed resolves the configured embedding provider variant.
func NewEmbed(ctx context.Context, cfg config.LLMConfig, dim int) Embed {
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedProvider)) {
	case "openai":
		return NewOpenAIEmbed(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, dim)
	case "gemini":
		e, err := NewGeminiEmbed(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, dim)
		if err != nil {
			return DisabledEmbed
		}
		return e
	default:
		return DisabledEmbed
	}
}
