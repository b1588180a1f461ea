// Package llms contains concrete language-model clients satisfying the
// core.LM boundary. Clients are thin bindings: transport-level retries,
// rate limiting and circuit breaking are the provider SDK's concern.
package llms

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// AnthropicLM implements core.LM for Anthropic's models.
type AnthropicLM struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *logging.Logger
}

// AnthropicOption configures an AnthropicLM.
type AnthropicOption func(*AnthropicLM)

// WithMaxTokens sets the completion token budget per call.
func WithMaxTokens(n int64) AnthropicOption {
	return func(a *AnthropicLM) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// NewAnthropicLM creates a client for the given model. The API key falls
// back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicLM(apiKey string, model anthropic.Model, opts ...AnthropicOption) (*AnthropicLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidConfig, "anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	a := &AnthropicLM{
		client:    &client,
		model:     model,
		maxTokens: 1024,
		logger:    logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ core.LM = (*AnthropicLM)(nil)

// Generate sends a single-turn prompt and returns the text completion.
// Context cancellation and deadlines are honored by the SDK transport.
func (a *AnthropicLM) Generate(ctx context.Context, prompt string) (*core.LMResponse, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			a.logger.Error(ctx, "anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ExecutionFailed, "failed to generate response"),
			errors.Fields{"model": string(a.model)})
	}

	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.ExecutionFailed, "received empty content from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	usage := &core.TokenUsage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}

	return &core.LMResponse{Content: responseText, Usage: usage}, nil
}

// ModelID names the underlying model for logging and provenance.
func (a *AnthropicLM) ModelID() string {
	return string(a.model)
}
