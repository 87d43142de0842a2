package pipeline

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/schema"
)

// answerSchemaQuestion answers a metadata question from the enriched schema
// without executing a query. Cardinality answers "how many distinct X",
// min/max answer range questions, and the field lists answer everything
// about the datasource's shape.
func answerSchemaQuestion(question string, sch *schema.EnrichedSchema) string {
	q := strings.ToLower(question)

	if f := matchField(q, sch); f != nil {
		if answer := answerFieldQuestion(q, f); answer != "" {
			return answer
		}
	}

	switch {
	case strings.Contains(q, "measure"):
		return fmt.Sprintf("Measures in %q: %s.", sch.DatasourceID, strings.Join(sch.MeasureCaptions, ", "))
	case strings.Contains(q, "dimension"):
		return fmt.Sprintf("Dimensions in %q: %s.", sch.DatasourceID, strings.Join(sch.DimensionCaptions, ", "))
	}

	return fmt.Sprintf("Datasource %q has %d fields: %d measures (%s) and %d dimensions (%s).",
		sch.DatasourceID, len(sch.MeasureCaptions)+len(sch.DimensionCaptions),
		len(sch.MeasureCaptions), strings.Join(sch.MeasureCaptions, ", "),
		len(sch.DimensionCaptions), strings.Join(sch.DimensionCaptions, ", "))
}

func answerFieldQuestion(q string, f *schema.Field) string {
	switch {
	case containsAny(q, "distinct", "unique", "different", "how many"):
		if f.Stats != nil && f.Stats.Cardinality > 0 {
			return fmt.Sprintf("%q has %d distinct values.", f.Caption, f.Stats.Cardinality)
		}
	case containsAny(q, "minimum", "maximum", " min", " max", "range"):
		if f.Stats != nil && f.Stats.Min != nil && f.Stats.Max != nil {
			return fmt.Sprintf("%q ranges from %g to %g.", f.Caption, *f.Stats.Min, *f.Stats.Max)
		}
	case strings.Contains(q, "values"):
		if f.Stats != nil && len(f.Stats.SampleValues) > 0 {
			return fmt.Sprintf("Values of %q include: %s.", f.Caption, strings.Join(f.Stats.SampleValues, ", "))
		}
	}
	return ""
}

// matchField finds the visible field whose caption occurs in the question,
// preferring the longest caption so "Order Date" beats "Order".
func matchField(q string, sch *schema.EnrichedSchema) *schema.Field {
	var best *schema.Field
	for i := range sch.Fields {
		f := &sch.Fields[i]
		if f.Hidden {
			continue
		}
		if !captionOccurs(q, strings.ToLower(f.Caption)) {
			continue
		}
		if best == nil || len(f.Caption) > len(best.Caption) {
			best = f
		}
	}
	return best
}

// captionOccurs matches the full caption, or failing that a substantial
// caption token, tolerating plural phrasing ("customers" for "Customer
// Name").
func captionOccurs(q, caption string) bool {
	if strings.Contains(q, caption) {
		return true
	}
	for _, tok := range strings.Fields(caption) {
		if len(tok) < 4 {
			continue
		}
		if strings.Contains(q, tok) || strings.Contains(q, strings.TrimSuffix(tok, "s")) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
