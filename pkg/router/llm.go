package router

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quarrydata/quarry/pkg/llm"
)

//go:embed prompts/CLASSIFY.md
var classifyPrompt string

// LLMRouter classifies questions with a model call. It honors the same
// output contract as the rule-based Router and falls back to it whenever
// the model's output cannot be parsed, so it never fails a request.
type LLMRouter struct {
	client   llm.Client
	fallback *Router
	log      *slog.Logger
}

// NewLLMRouter creates an LLM-backed router with a rule-based fallback.
func NewLLMRouter(log *slog.Logger, client llm.Client, fallback *Router) *LLMRouter {
	if fallback == nil {
		fallback = NewDefault()
	}
	return &LLMRouter{client: client, fallback: fallback, log: log}
}

// Classify routes a question via the model.
func (r *LLMRouter) Classify(ctx context.Context, question string, hasPriorResults bool) Decision {
	userPrompt := fmt.Sprintf("Prior results available: %t\n\nQuestion to classify: %s", hasPriorResults, question)

	response, err := r.client.Complete(ctx, classifyPrompt, userPrompt)
	if err != nil {
		if r.log != nil {
			r.log.Info("llm classification failed, using rules", "error", err)
		}
		return r.fallback.Classify(ctx, question, hasPriorResults)
	}

	decision, err := parseDecision(response)
	if err != nil {
		if r.log != nil {
			r.log.Info("llm classification unparseable, using rules", "error", err)
		}
		return r.fallback.Classify(ctx, question, hasPriorResults)
	}

	// The model must not route to reformat when there is nothing to reformat.
	if decision.Type == TypeReformatPrevious && !hasPriorResults {
		return r.fallback.Classify(ctx, question, hasPriorResults)
	}

	return *decision
}

func parseDecision(response string) (*Decision, error) {
	jsonStr := llm.ExtractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	switch d.Type {
	case TypeSchemaQuery, TypeReformatPrevious, TypeNewQuery:
	default:
		return nil, fmt.Errorf("invalid classification type: %s", d.Type)
	}
	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	return &d, nil
}
