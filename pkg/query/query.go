// Package query defines the structured analytics query model shared by the
// synthesizer, validator and executor. The JSON shape matches what the
// analytics engine's query endpoint accepts.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Aggregation function names accepted by the engine.
const (
	FuncSum    = "SUM"
	FuncAvg    = "AVG"
	FuncMedian = "MEDIAN"
	FuncCount  = "COUNT"
	FuncCountD = "COUNTD"
	FuncMin    = "MIN"
	FuncMax    = "MAX"
	FuncStdev  = "STDEV"
	FuncVar    = "VAR"

	FuncTruncYear    = "TRUNC_YEAR"
	FuncTruncQuarter = "TRUNC_QUARTER"
	FuncTruncMonth   = "TRUNC_MONTH"
	FuncTruncWeek    = "TRUNC_WEEK"
	FuncTruncDay     = "TRUNC_DAY"
)

// Filter types accepted by the engine.
const (
	FilterSet          = "SET"
	FilterTop          = "TOP"
	FilterDate         = "DATE"
	FilterQuantitative = "QUANTITATIVE"
	FilterMatch        = "MATCH"
)

// Query is a structured analytics query. Drafts produced by the synthesizer
// are mutated in place by the correction passes; once validated the query is
// treated as immutable by the executor.
type Query struct {
	Datasource Datasource `json:"datasource"`
	Query      Body       `json:"query"`
	Options    Options    `json:"options"`
}

// Datasource identifies the target datasource.
type Datasource struct {
	ID string `json:"id"`
}

// Body holds the field list, filters and shaping of a query.
type Body struct {
	Fields  []Field  `json:"fields"`
	Filters []Filter `json:"filters,omitempty"`
	Sort    []Sort   `json:"sort,omitempty"`
	TopN    int      `json:"topN,omitempty"`
}

// Field is one entry in a query's field list. FieldCaption+Function and
// Calculation are mutually exclusive: a calculation whose formula already
// aggregates must never carry a function.
type Field struct {
	FieldCaption string `json:"fieldCaption,omitempty"`
	Function     string `json:"function,omitempty"`
	Calculation  string `json:"calculation,omitempty"`
}

// Filter restricts the rows a query sees. A context filter is evaluated
// before its siblings, which is what makes "top N within group" work.
type Filter struct {
	Field          FilterField `json:"field"`
	FilterType     string      `json:"filterType"`
	Values         []any       `json:"values,omitempty"`
	HowMany        int         `json:"howMany,omitempty"`
	FieldToMeasure *Field      `json:"fieldToMeasure,omitempty"`
	Min            *float64    `json:"min,omitempty"`
	Max            *float64    `json:"max,omitempty"`
	DateRangeType  string      `json:"dateRangeType,omitempty"`
	RangeN         int         `json:"rangeN,omitempty"`
	Exclude        bool        `json:"exclude,omitempty"`
	Context        bool        `json:"context,omitempty"`
}

// FilterField names the field a filter applies to.
type FilterField struct {
	FieldCaption string `json:"fieldCaption"`
}

// Sort orders the result rows.
type Sort struct {
	FieldCaption string `json:"fieldCaption"`
	Direction    string `json:"direction,omitempty"` // ASC or DESC
}

// Options control the result shape.
type Options struct {
	ReturnFormat string `json:"returnFormat,omitempty"`
	Disaggregate bool   `json:"disaggregate,omitempty"`
	RowLimit     int    `json:"rowLimit,omitempty"`
}

// DefaultOptions are applied to drafts whose options section is missing.
func DefaultOptions() Options {
	return Options{ReturnFormat: "OBJECTS"}
}

// FormulaAggregates reports whether a calculation formula already contains
// an aggregation call. Such calculations must not carry a function as well.
func FormulaAggregates(formula string) bool {
	upper := strings.ToUpper(formula)
	for _, fn := range []string{"SUM(", "AVG(", "COUNT(", "COUNTD(", "MIN(", "MAX(", "MEDIAN(", "STDEV(", "VAR(", "ATTR("} {
		if containsToken(upper, fn) {
			return true
		}
	}
	return false
}

func containsToken(s, token string) bool {
	for i := 0; i+len(token) <= len(s); i++ {
		if s[i:i+len(token)] == token {
			// Reject matches that are the tail of a longer identifier,
			// e.g. the MIN( inside RUNNING_MIN(.
			if i > 0 {
				c := s[i-1]
				if c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
					continue
				}
			}
			return true
		}
	}
	return false
}

// IsTruncFunction reports whether fn is a date-truncation function.
func IsTruncFunction(fn string) bool {
	switch fn {
	case FuncTruncYear, FuncTruncQuarter, FuncTruncMonth, FuncTruncWeek, FuncTruncDay:
		return true
	}
	return false
}

// CanonicalKey returns a stable serialization of the query, used as the
// executor's cache key. Struct field order is fixed, so identical queries
// always serialize identically.
func (q *Query) CanonicalKey() string {
	b, err := json.Marshal(q)
	if err != nil {
		// Marshal of this type cannot fail on well-formed values; fall back
		// to a non-colliding representation.
		return fmt.Sprintf("%+v", *q)
	}
	return string(b)
}

// Clone returns a deep copy of the query via JSON round-trip.
func (q *Query) Clone() *Query {
	b, err := json.Marshal(q)
	if err != nil {
		cp := *q
		return &cp
	}
	var out Query
	if err := json.Unmarshal(b, &out); err != nil {
		cp := *q
		return &cp
	}
	return &out
}
