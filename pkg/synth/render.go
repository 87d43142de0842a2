package synth

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/schema"
)

const maxSampleValues = 5

// renderSchema produces a compact textual rendering of the schema for the
// prompt. Visible measures come first, then visible dimensions, capped at
// maxFields total so very wide datasources stay token-bounded.
func renderSchema(sch *schema.EnrichedSchema, maxFields int) string {
	var sb strings.Builder
	rendered := 0

	writeGroup := func(title string, role string) {
		header := false
		for i := range sch.Fields {
			f := &sch.Fields[i]
			if f.Hidden || f.Role != role {
				continue
			}
			if rendered >= maxFields {
				return
			}
			if !header {
				sb.WriteString(title)
				sb.WriteString("\n")
				header = true
			}
			sb.WriteString(renderField(f))
			rendered++
		}
		if header {
			sb.WriteString("\n")
		}
	}

	writeGroup("Measures:", schema.RoleMeasure)
	writeGroup("Dimensions:", schema.RoleDimension)

	total := visibleCount(sch)
	if total > rendered {
		fmt.Fprintf(&sb, "(%d additional fields omitted)\n", total-rendered)
	}
	return sb.String()
}

func renderField(f *schema.Field) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %q (%s", f.Caption, f.DataType)
	if f.DefaultAggregation != "" {
		fmt.Fprintf(&sb, ", default %s", f.DefaultAggregation)
	}
	if f.Formula != "" {
		sb.WriteString(", calculated")
	}
	sb.WriteString(")")

	if f.Stats != nil {
		if f.Stats.Cardinality > 0 {
			fmt.Fprintf(&sb, " distinct=%d", f.Stats.Cardinality)
		}
		if len(f.Stats.SampleValues) > 0 {
			samples := f.Stats.SampleValues
			if len(samples) > maxSampleValues {
				samples = samples[:maxSampleValues]
			}
			fmt.Fprintf(&sb, " e.g. %s", strings.Join(samples, ", "))
		}
		if f.Stats.Min != nil && f.Stats.Max != nil {
			fmt.Fprintf(&sb, " range=[%g, %g]", *f.Stats.Min, *f.Stats.Max)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func visibleCount(sch *schema.EnrichedSchema) int {
	n := 0
	for i := range sch.Fields {
		if !sch.Fields[i].Hidden {
			n++
		}
	}
	return n
}
