// Package router classifies incoming questions before any model call is
// made: metadata-only questions are answered from the cached schema,
// reformat requests reuse prior results, and everything else goes through
// query synthesis.
package router

import (
	"context"
	"regexp"
	"strings"
)

// Question types.
type Type string

const (
	TypeSchemaQuery      Type = "schema_query"
	TypeReformatPrevious Type = "reformat_previous"
	TypeNewQuery         Type = "new_query"
)

// Decision is the router's output.
type Decision struct {
	Type       Type    `json:"type"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Rules holds the keyword sets the rule-based router matches against.
// These are hand-tuned starting points, not ground truth; callers may
// override any of them.
type Rules struct {
	PriorRefs       []string // words that reference earlier results
	ReformatActions []string // actions applied to earlier results
	SchemaPatterns  []string // regexes that look like metadata questions
	GroupingCues    []string // cues that force row-level computation
	FilterCues      []string
	AggregationCues []string
}

// DefaultRules returns the default keyword configuration.
func DefaultRules() Rules {
	return Rules{
		PriorRefs: []string{
			"the results", "those results", "these results", "that result",
			"those", "these", " it ", " it?", " them",
		},
		ReformatActions: []string{
			"sort", "order", "rank", "format", "table", "tabulate",
			"summarize", "summarise", "top ", "first ", "last ",
		},
		SchemaPatterns: []string{
			`how many (unique|distinct|different)\s+\w`,
			`what (fields|columns|measures|dimensions)`,
			`which (fields|columns|measures|dimensions)`,
			`list (the )?(distinct|unique) values`,
			`what (is|are) the (min|max|minimum|maximum|range) of`,
			`what does the (schema|data) (look like|contain)`,
			`describe the (schema|datasource|data source|fields)`,
		},
		GroupingCues:    []string{" by ", " per ", " for each ", " grouped "},
		FilterCues:      []string{" where ", " between ", " only ", " excluding ", " filtered "},
		AggregationCues: []string{"total", "sum of", "average", "avg ", "median", "overall "},
	}
}

// Classifier is implemented by both the rule-based Router and the
// model-backed LLMRouter.
type Classifier interface {
	Classify(ctx context.Context, question string, hasPriorResults bool) Decision
}

// Router is the rule-based intent classifier. It is deterministic and
// sub-millisecond, which is why it is preferred over a model call.
type Router struct {
	rules          Rules
	schemaPatterns []*regexp.Regexp
}

// New creates a router with the given rules.
func New(rules Rules) *Router {
	r := &Router{rules: rules}
	for _, p := range rules.SchemaPatterns {
		if re, err := regexp.Compile(p); err == nil {
			r.schemaPatterns = append(r.schemaPatterns, re)
		}
	}
	return r
}

// NewDefault creates a router with the default rules.
func NewDefault() *Router {
	return New(DefaultRules())
}

// Classify routes a question. hasPriorResults reports whether the caller
// holds results from an earlier question in this conversation. The context
// is unused; rule matching never blocks.
func (r *Router) Classify(_ context.Context, question string, hasPriorResults bool) Decision {
	q := " " + strings.ToLower(strings.TrimSpace(question)) + " "

	if hasPriorResults && r.referencesPrior(q) && r.hasReformatAction(q) {
		return Decision{
			Type:       TypeReformatPrevious,
			Reason:     "question references prior results and asks to reshape them",
			Confidence: 0.9,
		}
	}

	if r.matchesSchemaPattern(q) {
		// "how many X by Y" needs row-level computation, not a metadata
		// lookup, so any grouping/filter/aggregation cue downgrades it.
		if cue, found := r.computationCue(q); found {
			return Decision{
				Type:       TypeNewQuery,
				Reason:     "metadata-style question contains computation cue " + `"` + cue + `"`,
				Confidence: 0.8,
			}
		}
		return Decision{
			Type:       TypeSchemaQuery,
			Reason:     "question is answerable from field metadata alone",
			Confidence: 0.85,
		}
	}

	return Decision{
		Type:       TypeNewQuery,
		Reason:     "question requires a new structured query",
		Confidence: 0.95,
	}
}

func (r *Router) referencesPrior(q string) bool {
	for _, ref := range r.rules.PriorRefs {
		if strings.Contains(q, ref) {
			return true
		}
	}
	return false
}

func (r *Router) hasReformatAction(q string) bool {
	for _, act := range r.rules.ReformatActions {
		if strings.Contains(q, act) {
			return true
		}
	}
	return false
}

func (r *Router) matchesSchemaPattern(q string) bool {
	for _, re := range r.schemaPatterns {
		if re.MatchString(q) {
			return true
		}
	}
	return false
}

func (r *Router) computationCue(q string) (string, bool) {
	for _, cues := range [][]string{r.rules.GroupingCues, r.rules.FilterCues, r.rules.AggregationCues} {
		for _, cue := range cues {
			if strings.Contains(q, cue) {
				return strings.TrimSpace(cue), true
			}
		}
	}
	return "", false
}
