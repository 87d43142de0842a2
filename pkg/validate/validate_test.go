package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

func salesSchema(t *testing.T) *schema.EnrichedSchema {
	t.Helper()
	return schema.NewEnrichedSchema("sales", []schema.Field{
		{Caption: "Sales", Name: "sales", DataType: schema.TypeReal, Role: schema.RoleMeasure, DefaultAggregation: "SUM"},
		{Caption: "Profit", Name: "profit", DataType: schema.TypeReal, Role: schema.RoleMeasure},
		{Caption: "Discount Rate", Name: "discount_rate", DataType: schema.TypeReal, Role: schema.RoleMeasure},
		{Caption: "Profit Ratio", Name: "profit_ratio", DataType: schema.TypeReal, Role: schema.RoleMeasure, Formula: "SUM([Profit]) / SUM([Sales])"},
		{Caption: "Region", Name: "region", DataType: schema.TypeString, Role: schema.RoleDimension},
		{Caption: "Customer Name", Name: "customer_name", DataType: schema.TypeString, Role: schema.RoleDimension},
		{Caption: "Order Date", Name: "order_date", DataType: schema.TypeDate, Role: schema.RoleDimension},
	})
}

func TestValidateAcceptsWellFormedQuery(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{
				{FieldCaption: "Region"},
				{FieldCaption: "Sales", Function: query.FuncSum},
			},
			Filters: []query.Filter{
				{Field: query.FilterField{FieldCaption: "Order Date"}, FilterType: query.FilterDate, DateRangeType: "LASTN", RangeN: 2},
			},
		},
	}

	res := v.Validate(q, salesSchema(t))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateStructure(t *testing.T) {
	v := New(Config{})
	res := v.Validate(&query.Query{}, salesSchema(t))

	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "query has no datasource id")
	assert.Contains(t, res.Errors, "query has no fields")
}

func TestValidateUnknownFieldSuggestsCorrection(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Slaes", Function: query.FuncSum}},
		},
	}

	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `"Slaes" does not exist`)
	require.NotEmpty(t, res.Suggestions)
	assert.Contains(t, res.Suggestions[0], `"Sales"`)
}

func TestValidateUnknownFilterField(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Region"}},
			Filters: []query.Filter{
				{Field: query.FilterField{FieldCaption: "Regoin"}, FilterType: query.FilterSet, Values: []any{"West"}},
			},
		},
	}

	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], `"Regoin" does not exist`)
	assert.Contains(t, res.Suggestions[0], `"Region"`)
}

func TestValidateMeasureRequiresAggregation(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Profit"}},
		},
	}

	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], `measure "Profit" has no aggregation function`)
	assert.Contains(t, res.Suggestions[0], "SUM")
}

func TestValidateMeasureDefaultAggregationSuggested(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Discount Rate"}},
		},
	}

	// No default aggregation on the field; the caption hints at a rate, so
	// AVG is suggested over SUM.
	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	assert.Contains(t, res.Suggestions[0], "AVG")
}

func TestValidateAggregatingFormulaWithFunction(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Profit Ratio", Function: query.FuncSum}},
		},
	}

	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "formula already aggregates")
}

func TestValidateAggregatingCalculationWithFunction(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{Calculation: "SUM([Profit]) / SUM([Sales])", Function: query.FuncAvg}},
		},
	}

	res := v.Validate(q, salesSchema(t))
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "already aggregates")
}

func TestValidateFunctionTypeCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		field   query.Field
		wantErr bool
	}{
		{"sum on string", query.Field{FieldCaption: "Region", Function: query.FuncSum}, true},
		{"sum on numeric", query.Field{FieldCaption: "Sales", Function: query.FuncSum}, false},
		{"avg on date", query.Field{FieldCaption: "Order Date", Function: query.FuncAvg}, true},
		{"min on date", query.Field{FieldCaption: "Order Date", Function: query.FuncMin}, false},
		{"trunc month on date", query.Field{FieldCaption: "Order Date", Function: query.FuncTruncMonth}, false},
		{"trunc month on string", query.Field{FieldCaption: "Region", Function: query.FuncTruncMonth}, true},
		{"count on string", query.Field{FieldCaption: "Region", Function: query.FuncCount}, false},
		{"countd on string", query.Field{FieldCaption: "Customer Name", Function: query.FuncCountD}, false},
	}

	sch := salesSchema(t)
	v := New(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &query.Query{
				Datasource: query.Datasource{ID: "sales"},
				Query:      query.Body{Fields: []query.Field{tt.field}},
			}
			res := v.Validate(q, sch)
			if tt.wantErr {
				assert.False(t, res.Valid)
				assert.NotEmpty(t, res.Errors)
			} else {
				assert.True(t, res.Valid, "errors: %v", res.Errors)
			}
		})
	}
}

func TestValidateDimensionMayAggregate(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{{FieldCaption: "Customer Name", Function: query.FuncCountD}},
		},
	}

	res := v.Validate(q, salesSchema(t))
	assert.True(t, res.Valid)
}

func TestValidateIsDeterministic(t *testing.T) {
	v := New(Config{})
	q := &query.Query{
		Datasource: query.Datasource{ID: "sales"},
		Query: query.Body{
			Fields: []query.Field{
				{FieldCaption: "Slaes", Function: query.FuncSum},
				{FieldCaption: "Profit"},
			},
		},
	}

	sch := salesSchema(t)
	first := v.Validate(q, sch)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Validate(q, sch))
	}
}

func TestSuggestCaptionsOrdering(t *testing.T) {
	captions := []string{"Sales", "Sales Target", "Salary", "Region"}
	got := suggestCaptions("Slaes", captions, 0.5)
	require.NotEmpty(t, got)
	assert.Equal(t, "Sales", got[0])
	assert.LessOrEqual(t, len(got), maxSuggestions)
}

func TestSuggestCaptionsSubstringFallback(t *testing.T) {
	captions := []string{"Total Customer Lifetime Value", "Region"}
	got := suggestCaptions("lifetime", captions, 0.9)
	require.Len(t, got, 1)
	assert.Equal(t, "Total Customer Lifetime Value", got[0])
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"sales", "slaes", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
