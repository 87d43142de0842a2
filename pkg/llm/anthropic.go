package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient implements Client using the Anthropic API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *slog.Logger
}

// NewAnthropicClient creates an Anthropic-backed client. Credentials come
// from the environment (ANTHROPIC_API_KEY).
func NewAnthropicClient(log *slog.Logger, model anthropic.Model, maxTokens int64) *AnthropicClient {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
		log:       log,
	}
}

// Complete sends a prompt to the model and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...Option) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if options.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{system},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	duration := time.Since(start)
	if err != nil {
		if c.log != nil {
			c.log.Error("anthropic call failed", "duration", duration, "error", err)
		}
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	if c.log != nil {
		c.log.Debug("anthropic call completed", "duration", duration, "stopReason", msg.StopReason)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
