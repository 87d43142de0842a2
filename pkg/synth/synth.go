// Package synth turns a natural-language question into a structured query
// draft. The draft comes from a text-generation call over a rendered schema,
// then passes through deterministic correction heuristics before validation.
package synth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarrydata/quarry/pkg/llm"
	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

//go:embed prompts/SYNTHESIZE.md
var synthesizePrompt string

// SynthesisError signals that the text generator errored or produced output
// that could not be parsed as a structured query after one repair attempt.
type SynthesisError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query synthesis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("query synthesis failed: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Config configures a Builder.
type Config struct {
	Logger *slog.Logger
	Client llm.Client

	// MaxRenderedFields caps schema rendering in the prompt. Defaults to 200.
	MaxRenderedFields int
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("client is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRenderedFields == 0 {
		c.MaxRenderedFields = 200
	}
	return nil
}

// Builder synthesizes query drafts.
type Builder struct {
	log *slog.Logger
	cfg Config
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// Build synthesizes a query draft for the question. On retry, priorErrors
// carries the previous validation or execution errors verbatim so the
// generator can correct them. The returned draft has already been through
// the correction passes but not through validation.
func (b *Builder) Build(ctx context.Context, question string, sch *schema.EnrichedSchema, priorErrors []string) (*query.Query, error) {
	userPrompt := b.renderUserPrompt(question, sch, priorErrors)

	// The system prompt is identical across calls for a datasource, so
	// provider-side prompt caching pays for itself on every retry.
	response, err := b.cfg.Client.Complete(ctx, synthesizePrompt, userPrompt, llm.WithCacheControl())
	if err != nil {
		return nil, &SynthesisError{Reason: "completion failed", Err: err}
	}

	draft, parseErr := parseDraft(response)
	if parseErr != nil {
		b.log.Debug("draft parse failed, attempting repair", "error", parseErr)
		draft, err = b.repair(ctx, question, response, parseErr)
		if err != nil {
			return nil, err
		}
	}

	b.applyDefaults(draft, sch)
	applyCorrections(question, draft, sch)
	return draft, nil
}

// repair re-prompts once with the malformed output and the parse error.
func (b *Builder) repair(ctx context.Context, question, badResponse string, parseErr error) (*query.Query, error) {
	userPrompt := fmt.Sprintf(`Your previous output could not be parsed as a query JSON object.

Question: %s

Previous output:
%s

Parse error: %v

Respond with ONLY the corrected JSON object, no prose and no markdown fences.`,
		question, truncate(badResponse, 2000), parseErr)

	response, err := b.cfg.Client.Complete(ctx, synthesizePrompt, userPrompt, llm.WithCacheControl())
	if err != nil {
		return nil, &SynthesisError{Reason: "repair completion failed", Err: err}
	}

	draft, err := parseDraft(response)
	if err != nil {
		return nil, &SynthesisError{Reason: "unparseable output after repair", Raw: truncate(response, 500), Err: err}
	}
	return draft, nil
}

// parseDraft extracts the first JSON object from the response and decodes it.
func parseDraft(response string) (*query.Query, error) {
	jsonStr := llm.ExtractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var draft query.Query
	if err := json.Unmarshal([]byte(jsonStr), &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &draft, nil
}

// applyDefaults fills the sections the generator is allowed to omit.
func (b *Builder) applyDefaults(draft *query.Query, sch *schema.EnrichedSchema) {
	if draft.Datasource.ID == "" {
		draft.Datasource.ID = sch.DatasourceID
	}
	if draft.Options == (query.Options{}) {
		draft.Options = query.DefaultOptions()
	}
	if draft.Options.ReturnFormat == "" {
		draft.Options.ReturnFormat = query.DefaultOptions().ReturnFormat
	}
}

func (b *Builder) renderUserPrompt(question string, sch *schema.EnrichedSchema, priorErrors []string) string {
	var sb strings.Builder
	sb.WriteString("## Datasource schema\n\n")
	sb.WriteString(renderSchema(sch, b.cfg.MaxRenderedFields))
	sb.WriteString("\nNotes: measures require an aggregation function; dimensions may optionally aggregate (for example COUNTD over a name field).\n")

	if len(priorErrors) > 0 {
		sb.WriteString("\n## Errors from the previous attempt\n\nThe previous query was rejected. Fix every error below:\n\n")
		for _, e := range priorErrors {
			sb.WriteString("- ")
			sb.WriteString(e)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Question\n\n")
	sb.WriteString(question)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
