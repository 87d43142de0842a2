package engine

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/query"
)

// funcToSQL maps engine aggregation functions to ClickHouse functions.
var funcToSQL = map[string]string{
	query.FuncSum:    "sum",
	query.FuncAvg:    "avg",
	query.FuncMedian: "median",
	query.FuncCount:  "count",
	query.FuncCountD: "uniqExact",
	query.FuncMin:    "min",
	query.FuncMax:    "max",
	query.FuncStdev:  "stddevSamp",
	query.FuncVar:    "varSamp",

	query.FuncTruncYear:    "toStartOfYear",
	query.FuncTruncQuarter: "toStartOfQuarter",
	query.FuncTruncMonth:   "toStartOfMonth",
	query.FuncTruncWeek:    "toStartOfWeek",
	query.FuncTruncDay:     "toDate",
}

// CompileSQL translates a structured query into a single ClickHouse SELECT.
// It is a direct mapping, not an optimizer: fields become select expressions,
// aggregated fields imply GROUP BY over the rest, filters become WHERE (or an
// IN-subquery for TOP filters), sort and topN become ORDER BY / LIMIT.
func CompileSQL(q *query.Query) (string, error) {
	if q.Datasource.ID == "" {
		return "", fmt.Errorf("query has no datasource id")
	}
	if len(q.Query.Fields) == 0 {
		return "", fmt.Errorf("query has no fields")
	}

	table := quoteIdent(q.Datasource.ID)

	var selects, groupBys []string
	hasAggregate := false
	for _, f := range q.Query.Fields {
		expr, aggregated, err := fieldExpr(f)
		if err != nil {
			return "", err
		}
		alias := f.FieldCaption
		if alias == "" {
			alias = "calc_" + fmt.Sprint(len(selects)+1)
		}
		selects = append(selects, expr+" AS "+quoteIdent(alias))
		if aggregated {
			hasAggregate = true
		} else {
			groupBys = append(groupBys, expr)
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(table)

	// Context filters first so TOP subqueries are scoped the same way the
	// hosted engine scopes them.
	var conds []string
	ordered := append(filtersByContext(q.Query.Filters, true), filtersByContext(q.Query.Filters, false)...)
	for _, f := range ordered {
		cond, err := filterExpr(table, f)
		if err != nil {
			return "", err
		}
		if cond != "" {
			conds = append(conds, cond)
		}
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	if hasAggregate && !q.Options.Disaggregate && len(groupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupBys, ", "))
	}

	if len(q.Query.Sort) > 0 {
		var orders []string
		for _, s := range q.Query.Sort {
			dir := "ASC"
			if strings.EqualFold(s.Direction, "DESC") {
				dir = "DESC"
			}
			orders = append(orders, quoteIdent(s.FieldCaption)+" "+dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orders, ", "))
	}

	limit := q.Query.TopN
	if q.Options.RowLimit > 0 && (limit == 0 || q.Options.RowLimit < limit) {
		limit = q.Options.RowLimit
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}

	return sb.String(), nil
}

// fieldExpr renders one field entry and reports whether it aggregates rows.
func fieldExpr(f query.Field) (string, bool, error) {
	if f.Calculation != "" {
		// Calculations are passed through verbatim; the validator has
		// already checked them against the schema.
		return "(" + f.Calculation + ")", query.FormulaAggregates(f.Calculation), nil
	}
	if f.FieldCaption == "" {
		return "", false, fmt.Errorf("field entry has neither caption nor calculation")
	}
	col := quoteIdent(f.FieldCaption)
	if f.Function == "" {
		return col, false, nil
	}
	fn, ok := funcToSQL[strings.ToUpper(f.Function)]
	if !ok {
		return "", false, fmt.Errorf("unsupported function %q on field %q", f.Function, f.FieldCaption)
	}
	// Date truncations group rows, they do not aggregate them.
	return fn + "(" + col + ")", !query.IsTruncFunction(strings.ToUpper(f.Function)), nil
}

func filtersByContext(filters []query.Filter, context bool) []query.Filter {
	var out []query.Filter
	for _, f := range filters {
		if f.Context == context {
			out = append(out, f)
		}
	}
	return out
}

// filterExpr renders one filter as a WHERE condition.
func filterExpr(table string, f query.Filter) (string, error) {
	col := quoteIdent(f.Field.FieldCaption)
	switch strings.ToUpper(f.FilterType) {
	case query.FilterSet:
		if len(f.Values) == 0 {
			return "", nil
		}
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = quoteValue(v)
		}
		op := "IN"
		if f.Exclude {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(vals, ", ")), nil

	case query.FilterMatch:
		if len(f.Values) == 0 {
			return "", nil
		}
		return fmt.Sprintf("%s LIKE %s", col, quoteValue(fmt.Sprintf("%%%v%%", f.Values[0]))), nil

	case query.FilterQuantitative:
		var parts []string
		if f.Min != nil {
			parts = append(parts, fmt.Sprintf("%s >= %v", col, *f.Min))
		}
		if f.Max != nil {
			parts = append(parts, fmt.Sprintf("%s <= %v", col, *f.Max))
		}
		return strings.Join(parts, " AND "), nil

	case query.FilterDate:
		n := f.RangeN
		if n <= 0 {
			n = 1
		}
		unit := "DAY"
		switch strings.ToUpper(f.DateRangeType) {
		case "LASTN_YEARS":
			unit = "YEAR"
		case "LASTN_MONTHS":
			unit = "MONTH"
		case "LASTN_WEEKS":
			unit = "WEEK"
		}
		return fmt.Sprintf("%s >= now() - INTERVAL %d %s", col, n, unit), nil

	case query.FilterTop:
		if f.HowMany <= 0 || f.FieldToMeasure == nil {
			return "", fmt.Errorf("TOP filter on %q needs howMany and fieldToMeasure", f.Field.FieldCaption)
		}
		measureExpr, _, err := fieldExpr(*f.FieldToMeasure)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (SELECT %s FROM %s GROUP BY %s ORDER BY %s DESC LIMIT %d)",
			col, col, table, col, measureExpr, f.HowMany), nil

	default:
		return "", fmt.Errorf("unsupported filter type %q", f.FilterType)
	}
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func quoteValue(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "\\'") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprintf("%v", val)
	}
}
