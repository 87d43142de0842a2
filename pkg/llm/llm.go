// Package llm is the text-generation boundary. The pipeline treats the
// model as an opaque, unreliable, seconds-scale function from prompts to
// text; everything downstream must tolerate malformed output.
package llm

import "context"

// CompleteOptions holds per-call options.
type CompleteOptions struct {
	CacheSystemPrompt bool
}

// Option is a functional option for Complete.
type Option func(*CompleteOptions)

// WithCacheControl marks the system prompt as cacheable. Synthesis calls
// share a large schema-bearing system prompt across refinement attempts,
// so caching it cuts cost and latency.
func WithCacheControl() Option {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// Client is the interface for interacting with a text generator.
type Client interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...Option) (string, error)
}
