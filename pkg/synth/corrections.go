package synth

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

// applyCorrections runs the deterministic post-generation passes in fixed
// order. Every pass is idempotent and skips itself when its precondition is
// absent, so re-running the set on an already-corrected draft is a no-op.
func applyCorrections(question string, draft *query.Query, sch *schema.EnrichedSchema) {
	q := " " + strings.ToLower(question) + " "
	applyTemporalGrouping(q, draft, sch)
	applyDistinctCounting(q, draft, sch)
	applyContextFilters(q, draft)
	applyCalculationRenames(draft, sch)
}

// temporalCues maps grouping phrases to truncation functions. Order matters:
// more specific phrases are listed before shorter ones.
var temporalCues = []struct {
	cue string
	fn  string
}{
	{"by year", query.FuncTruncYear},
	{"per year", query.FuncTruncYear},
	{"yearly", query.FuncTruncYear},
	{"annually", query.FuncTruncYear},
	{"by quarter", query.FuncTruncQuarter},
	{"per quarter", query.FuncTruncQuarter},
	{"quarterly", query.FuncTruncQuarter},
	{"by month", query.FuncTruncMonth},
	{"per month", query.FuncTruncMonth},
	{"monthly", query.FuncTruncMonth},
	{"by week", query.FuncTruncWeek},
	{"per week", query.FuncTruncWeek},
	{"weekly", query.FuncTruncWeek},
	{"by day", query.FuncTruncDay},
	{"per day", query.FuncTruncDay},
	{"daily", query.FuncTruncDay},
}

// applyTemporalGrouping assigns a truncation function to functionless date
// fields when the question asks for a time grouping.
func applyTemporalGrouping(q string, draft *query.Query, sch *schema.EnrichedSchema) {
	var fn string
	for _, c := range temporalCues {
		if strings.Contains(q, c.cue) {
			fn = c.fn
			break
		}
	}
	if fn == "" {
		return
	}

	for i := range draft.Query.Fields {
		f := &draft.Query.Fields[i]
		if f.Function != "" || f.Calculation != "" {
			continue
		}
		field, ok := sch.Lookup(f.FieldCaption)
		if !ok || !field.IsTemporal() {
			continue
		}
		f.Function = fn
	}
}

var countCues = []string{"how many", "count of", "number of", "distinct"}

// applyDistinctCounting assigns COUNTD when the question asks how many of
// something there are. With several candidate fields the question decides:
// only the field whose caption is mentioned after the count cue gets it.
func applyDistinctCounting(q string, draft *query.Query, sch *schema.EnrichedSchema) {
	cueEnd := -1
	for _, cue := range countCues {
		if idx := strings.Index(q, cue); idx >= 0 {
			cueEnd = idx + len(cue)
			break
		}
	}
	if cueEnd < 0 {
		return
	}

	// One distinct count per question. Also keeps the pass idempotent once
	// a field has been assigned.
	for i := range draft.Query.Fields {
		if draft.Query.Fields[i].Function == query.FuncCountD {
			return
		}
	}

	var candidates []*query.Field
	for i := range draft.Query.Fields {
		f := &draft.Query.Fields[i]
		if f.Function == "" && f.Calculation == "" {
			candidates = append(candidates, f)
		}
	}

	switch len(candidates) {
	case 0:
		return
	case 1:
		candidates[0].Function = query.FuncCountD
	default:
		// The field named right after the cue is the one being counted:
		// "how many distinct customers by region" counts customers.
		tail := q[cueEnd:]
		best := -1
		var target *query.Field
		for _, f := range candidates {
			if idx := captionIndex(tail, f.FieldCaption); idx >= 0 && (best < 0 || idx < best) {
				best = idx
				target = f
			}
		}
		if target != nil {
			target.Function = query.FuncCountD
		}
	}
}

// captionIndex returns the earliest position at which a substantial caption
// token occurs in the text, or -1. Short tokens ("of", "id") are skipped to
// avoid false matches.
func captionIndex(text, caption string) int {
	best := -1
	for _, tok := range strings.Fields(strings.ToLower(caption)) {
		if len(tok) < 3 {
			continue
		}
		// Singular token also matches plural phrasing: "customers"
		// mentions "Customer".
		for _, t := range []string{tok, strings.TrimSuffix(tok, "s")} {
			if idx := strings.Index(text, t); idx >= 0 && (best < 0 || idx < best) {
				best = idx
			}
		}
	}
	return best
}

var nestedCues = []string{"of those", "of these", "within", "among", "given the top", "show"}

// applyContextFilters flags the scoping filter in a nested "top N ... show"
// question as a context filter so it is evaluated before its siblings.
func applyContextFilters(q string, draft *query.Query) {
	if len(draft.Query.Filters) < 2 {
		return
	}
	for i := range draft.Query.Filters {
		if draft.Query.Filters[i].Context {
			return
		}
	}
	if !strings.Contains(q, "top ") {
		return
	}
	nested := false
	for _, cue := range nestedCues {
		if strings.Contains(q, cue) {
			nested = true
			break
		}
	}
	if !nested {
		return
	}

	if f := pickScopingFilter(draft.Query.Filters); f != nil {
		f.Context = true
	}
}

// pickScopingFilter chooses the filter most likely to scope the others: the
// TOP filter with the smallest N, else the first SET or DATE filter.
func pickScopingFilter(filters []query.Filter) *query.Filter {
	var top *query.Filter
	for i := range filters {
		f := &filters[i]
		if f.FilterType != query.FilterTop {
			continue
		}
		if top == nil || f.HowMany < top.HowMany {
			top = f
		}
	}
	if top != nil {
		return top
	}
	for i := range filters {
		f := &filters[i]
		if f.FilterType == query.FilterSet || f.FilterType == query.FilterDate {
			return f
		}
	}
	return nil
}

// renameSuffixes are tried in order before falling back to numbers.
var renameSuffixes = []string{" (Calculated)", " (Custom)", " (Derived)"}

// applyCalculationRenames renames synthesized calculations whose captions
// collide with schema fields or with each other.
func applyCalculationRenames(draft *query.Query, sch *schema.EnrichedSchema) {
	taken := make(map[string]bool)
	for i := range draft.Query.Fields {
		f := &draft.Query.Fields[i]
		if f.Calculation == "" {
			taken[strings.ToLower(f.FieldCaption)] = true
		}
	}

	for i := range draft.Query.Fields {
		f := &draft.Query.Fields[i]
		if f.Calculation == "" || f.FieldCaption == "" {
			continue
		}
		if collides(f.FieldCaption, sch, taken) {
			f.FieldCaption = freeCaption(f.FieldCaption, sch, taken)
		}
		taken[strings.ToLower(f.FieldCaption)] = true
	}
}

func collides(caption string, sch *schema.EnrichedSchema, taken map[string]bool) bool {
	if _, ok := sch.Lookup(caption); ok {
		return true
	}
	return taken[strings.ToLower(caption)]
}

func freeCaption(caption string, sch *schema.EnrichedSchema, taken map[string]bool) string {
	for _, suffix := range renameSuffixes {
		if c := caption + suffix; !collides(c, sch, taken) {
			return c
		}
	}
	for n := 2; ; n++ {
		if c := fmt.Sprintf("%s (%d)", caption, n); !collides(c, sch, taken) {
			return c
		}
	}
}
