package validate

import (
	"strings"

	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

// typeClass buckets field data types for the compatibility table.
type typeClass int

const (
	classNumeric typeClass = iota
	classTemporal
	classOther
)

func classOf(dataType string) typeClass {
	switch dataType {
	case schema.TypeInteger, schema.TypeReal:
		return classNumeric
	case schema.TypeDate, schema.TypeDateTime:
		return classTemporal
	default:
		return classOther
	}
}

// functionCompatible reports whether an aggregation function may be applied
// to a field of the given data type, per the fixed compatibility table:
// SUM/AVG/MEDIAN/STDEV/VAR need numbers, MIN/MAX accept numbers and dates,
// COUNT/COUNTD accept anything, date truncations need dates.
func functionCompatible(fn, dataType string) bool {
	switch strings.ToUpper(fn) {
	case query.FuncSum, query.FuncAvg, query.FuncMedian, query.FuncStdev, query.FuncVar:
		return classOf(dataType) == classNumeric
	case query.FuncMin, query.FuncMax:
		c := classOf(dataType)
		return c == classNumeric || c == classTemporal
	case query.FuncCount, query.FuncCountD:
		return true
	case query.FuncTruncYear, query.FuncTruncQuarter, query.FuncTruncMonth, query.FuncTruncWeek, query.FuncTruncDay:
		return classOf(dataType) == classTemporal
	default:
		return false
	}
}

// suggestAggregation picks an aggregation for a measure that has none: the
// field's default, a caption-derived guess, then SUM.
func suggestAggregation(f *schema.Field) string {
	if f.DefaultAggregation != "" {
		return f.DefaultAggregation
	}
	caption := strings.ToLower(f.Caption)
	switch {
	case strings.Contains(caption, "count"):
		return query.FuncCount
	case strings.Contains(caption, "average") || strings.Contains(caption, "avg") ||
		strings.Contains(caption, "rate") || strings.Contains(caption, "ratio") ||
		strings.Contains(caption, "percent"):
		return query.FuncAvg
	case strings.Contains(caption, "min"):
		return query.FuncMin
	case strings.Contains(caption, "max"):
		return query.FuncMax
	default:
		return query.FuncSum
	}
}
