package core

import (
	"context"
)

// TokenUsage reports token counts for one LM call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LMResponse is the raw result of one LM call.
type LMResponse struct {
	Content string
	Usage   *TokenUsage
}

// LM is the boundary to a language-model provider. Concrete clients
// (transport, retries, rate limiting) live outside this core; they must
// honor context cancellation and deadlines.
type LM interface {
	Generate(ctx context.Context, prompt string) (*LMResponse, error)
	// ModelID names the underlying model for logging and provenance.
	ModelID() string
}
