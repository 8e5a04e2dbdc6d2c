// Package llmprovider wires the chat and embedding provider variants
// (OpenAI, Anthropic, Gemini, or disabled) behind a single interface, in
// the teacher's internal/llm client-per-backend style.
package llmprovider

import (
	"context"

	"agenticrag/internal/apperr"
)

// Message is a minimal chat message; role is "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Chat completes a conversation and returns the assistant's reply text.
type Chat interface {
	Name() string
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Embed converts texts to vectors.
type Embed interface {
	Name() string
	Dimension() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// disabledChat and disabledEmbed back the "disabled" variant: any call
// fails with ProviderUnavailable so callers fall back to the keyword or
// rule-based path rather than blocking on a missing credential.
type disabledChat struct{}

func (disabledChat) Name() string { return "disabled" }
func (disabledChat) Complete(context.Context, []Message) (string, error) {
	return "", apperr.ErrProviderUnavailable
}

type disabledEmbed struct{}

func (disabledEmbed) Name() string   { return "disabled" }
func (disabledEmbed) Dimension() int { return 0 }
func (disabledEmbed) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, apperr.ErrProviderUnavailable
}

// DisabledChat and DisabledEmbed are the shared no-op singletons.
var (
	DisabledChat  Chat  = disabledChat{}
	DisabledEmbed Embed = disabledEmbed{}
)
