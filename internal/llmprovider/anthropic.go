package llmprovider

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agenticrag/internal/apperr"
)

const defaultAnthropicMaxTokens int64 = 1024

// AnthropicChat adapts the Anthropic Messages API to Chat.
type AnthropicChat struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicChat builds a Chat provider backed by the Anthropic API.
func NewAnthropicChat(apiKey, model string) *AnthropicChat {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	return &AnthropicChat{sdk: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicChat) Name() string { return "anthropic:" + c.model }

func (c *AnthropicChat) Complete(ctx context.Context, msgs []Message) (string, error) {
	var system string
	var converted []anthropic.MessageParam
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", apperr.Provider("anthropic message request failed", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				out.WriteString(tb.Text)
			}
		}
	}
	return out.String(), nil
}
