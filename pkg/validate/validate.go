// Package validate checks structured query drafts against an enriched
// schema. Validation is a pure function: checks are cumulative, never
// short-circuiting, and errors are returned as data for the refinement
// loop rather than raised.
package validate

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

// defaultSimilarityThreshold is the edit-distance similarity cutoff for
// caption suggestions. Hand-tuned; see Config to override.
const defaultSimilarityThreshold = 0.5

// Result is the outcome of one validation pass. A fresh Result is produced
// each pass and never mutated afterwards.
type Result struct {
	Valid       bool     `json:"isValid"`
	Errors      []string `json:"errors"`
	Suggestions []string `json:"suggestions"`
}

// Config tunes the validator.
type Config struct {
	// SimilarityThreshold in (0, 1]; captions scoring at or above it are
	// offered as suggestions for unknown captions.
	SimilarityThreshold float64
}

// Validator validates query drafts. The zero value is not usable; call New.
type Validator struct {
	threshold float64
}

// New creates a validator.
func New(cfg Config) *Validator {
	t := cfg.SimilarityThreshold
	if t == 0 {
		t = defaultSimilarityThreshold
	}
	return &Validator{threshold: t}
}

// Validate runs every check against the draft. Deterministic and
// side-effect-free: identical inputs always produce identical results.
func (v *Validator) Validate(draft *query.Query, sch *schema.EnrichedSchema) Result {
	r := Result{}

	v.checkStructure(draft, &r)
	v.checkFields(draft, sch, &r)
	v.checkFilters(draft, sch, &r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (v *Validator) checkStructure(draft *query.Query, r *Result) {
	if draft.Datasource.ID == "" {
		r.Errors = append(r.Errors, "query has no datasource id")
		r.Suggestions = append(r.Suggestions, "set datasource.id to the target datasource")
	}
	if len(draft.Query.Fields) == 0 {
		r.Errors = append(r.Errors, "query has no fields")
		r.Suggestions = append(r.Suggestions, "add at least one field to query.fields")
	}
}

func (v *Validator) checkFields(draft *query.Query, sch *schema.EnrichedSchema, r *Result) {
	for _, f := range draft.Query.Fields {
		if f.Calculation != "" {
			// A calculation whose formula already aggregates must not also
			// carry a function.
			if f.Function != "" && query.FormulaAggregates(f.Calculation) {
				r.Errors = append(r.Errors, fmt.Sprintf(
					"calculation %q already aggregates and must not carry function %q",
					truncateFormula(f.Calculation), f.Function))
				r.Suggestions = append(r.Suggestions, "remove the function from the calculated field")
			}
			continue
		}

		if f.FieldCaption == "" {
			r.Errors = append(r.Errors, "field entry has neither fieldCaption nor calculation")
			continue
		}

		field, ok := sch.Lookup(f.FieldCaption)
		if !ok {
			v.unknownCaption(f.FieldCaption, sch, r)
			continue
		}

		if field.Formula != "" && query.FormulaAggregates(field.Formula) && f.Function != "" {
			r.Errors = append(r.Errors, fmt.Sprintf(
				"field %q is a calculated field whose formula already aggregates; it must not carry function %q",
				field.Caption, f.Function))
			r.Suggestions = append(r.Suggestions, fmt.Sprintf("reference %q without a function", field.Caption))
			continue
		}

		if f.Function != "" {
			if !functionCompatible(f.Function, field.DataType) {
				r.Errors = append(r.Errors, fmt.Sprintf(
					"function %s is not compatible with field %q of type %s",
					strings.ToUpper(f.Function), field.Caption, field.DataType))
				r.Suggestions = append(r.Suggestions, fmt.Sprintf(
					"use %s for %q, or pick a field of a compatible type",
					suggestAggregation(field), field.Caption))
			}
			continue
		}

		// Measures need an aggregation unless their own formula provides
		// one. Dimensions may aggregate but never have to.
		if field.Role == schema.RoleMeasure && !query.FormulaAggregates(field.Formula) && field.Formula == "" {
			agg := suggestAggregation(field)
			r.Errors = append(r.Errors, fmt.Sprintf(
				"measure %q has no aggregation function", field.Caption))
			r.Suggestions = append(r.Suggestions, fmt.Sprintf(
				"apply %s to %q", agg, field.Caption))
		}
	}
}

func (v *Validator) checkFilters(draft *query.Query, sch *schema.EnrichedSchema, r *Result) {
	for _, f := range draft.Query.Filters {
		if f.Field.FieldCaption == "" {
			r.Errors = append(r.Errors, "filter has no field caption")
			continue
		}
		if _, ok := sch.Lookup(f.Field.FieldCaption); !ok {
			v.unknownCaption(f.Field.FieldCaption, sch, r)
		}
	}
}

// unknownCaption records a missing-field error with fuzzy suggestions.
func (v *Validator) unknownCaption(caption string, sch *schema.EnrichedSchema, r *Result) {
	r.Errors = append(r.Errors, fmt.Sprintf("field %q does not exist in the datasource", caption))
	if suggestions := suggestCaptions(caption, sch.Captions(), v.threshold); len(suggestions) > 0 {
		r.Suggestions = append(r.Suggestions, fmt.Sprintf(
			"did you mean %s?", strings.Join(quoteAll(suggestions), ", ")))
	}
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = `"` + s + `"`
	}
	return out
}

func truncateFormula(formula string) string {
	if len(formula) > 60 {
		return formula[:57] + "..."
	}
	return formula
}
