package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydata/quarry/pkg/llm"
	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/schema"
)

// mockClient replays canned responses and records the prompts it saw.
type mockClient struct {
	responses []string
	err       error

	systemPrompts []string
	userPrompts   []string
}

func (m *mockClient) Complete(_ context.Context, system, user string, _ ...llm.Option) (string, error) {
	m.systemPrompts = append(m.systemPrompts, system)
	m.userPrompts = append(m.userPrompts, user)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.userPrompts) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func testSchema(t *testing.T) *schema.EnrichedSchema {
	t.Helper()
	return schema.NewEnrichedSchema("superstore", []schema.Field{
		{Caption: "Sales", DataType: schema.TypeReal, Role: schema.RoleMeasure, DefaultAggregation: "SUM"},
		{Caption: "Profit", DataType: schema.TypeReal, Role: schema.RoleMeasure},
		{Caption: "Region", DataType: schema.TypeString, Role: schema.RoleDimension},
		{Caption: "State", DataType: schema.TypeString, Role: schema.RoleDimension},
		{Caption: "Customer Name", DataType: schema.TypeString, Role: schema.RoleDimension},
		{Caption: "Order Date", DataType: schema.TypeDate, Role: schema.RoleDimension},
		{Caption: "Internal Key", DataType: schema.TypeString, Role: schema.RoleDimension, Hidden: true},
	})
}

func newTestBuilder(t *testing.T, client llm.Client) *Builder {
	t.Helper()
	b, err := New(Config{Client: client})
	require.NoError(t, err)
	return b
}

func TestBuildTotalSalesByRegion(t *testing.T) {
	client := &mockClient{responses: []string{`{
		"datasource": {"id": "superstore"},
		"query": {"fields": [
			{"fieldCaption": "Region"},
			{"fieldCaption": "Sales", "function": "SUM"}
		]},
		"options": {"returnFormat": "OBJECTS"}
	}`}}

	b := newTestBuilder(t, client)
	draft, err := b.Build(context.Background(), "total sales by region", testSchema(t), nil)
	require.NoError(t, err)

	require.Len(t, draft.Query.Fields, 2)
	assert.Equal(t, query.FuncSum, draft.Query.Fields[1].Function)
	assert.Equal(t, "superstore", draft.Datasource.ID)
}

func TestBuildAppliesDefaults(t *testing.T) {
	client := &mockClient{responses: []string{`{
		"query": {"fields": [{"fieldCaption": "Sales", "function": "SUM"}]}
	}`}}

	b := newTestBuilder(t, client)
	draft, err := b.Build(context.Background(), "total sales", testSchema(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "superstore", draft.Datasource.ID)
	assert.Equal(t, query.DefaultOptions().ReturnFormat, draft.Options.ReturnFormat)
}

func TestBuildRepairsMalformedOutput(t *testing.T) {
	client := &mockClient{responses: []string{
		"Sure! Here is the query you asked for.",
		`{"datasource": {"id": "superstore"}, "query": {"fields": [{"fieldCaption": "Sales", "function": "SUM"}]}}`,
	}}

	b := newTestBuilder(t, client)
	draft, err := b.Build(context.Background(), "total sales", testSchema(t), nil)
	require.NoError(t, err)
	require.Len(t, client.userPrompts, 2)
	assert.Contains(t, client.userPrompts[1], "could not be parsed")
	assert.Equal(t, query.FuncSum, draft.Query.Fields[0].Function)
}

func TestBuildSynthesisErrorAfterFailedRepair(t *testing.T) {
	client := &mockClient{responses: []string{"not json", "still not json"}}

	b := newTestBuilder(t, client)
	_, err := b.Build(context.Background(), "total sales", testSchema(t), nil)
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Len(t, client.userPrompts, 2)
}

func TestBuildWrapsCompletionError(t *testing.T) {
	client := &mockClient{err: errors.New("rate limited")}

	b := newTestBuilder(t, client)
	_, err := b.Build(context.Background(), "total sales", testSchema(t), nil)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.ErrorContains(t, err, "rate limited")
}

func TestBuildRendersPriorErrors(t *testing.T) {
	client := &mockClient{responses: []string{`{"query": {"fields": [{"fieldCaption": "Sales", "function": "SUM"}]}}`}}

	b := newTestBuilder(t, client)
	priorErrors := []string{`field "Slaes" does not exist in the datasource`}
	_, err := b.Build(context.Background(), "total sales", testSchema(t), priorErrors)
	require.NoError(t, err)

	require.Len(t, client.userPrompts, 1)
	assert.Contains(t, client.userPrompts[0], `field "Slaes" does not exist`)
	assert.Contains(t, client.userPrompts[0], "previous attempt")
}

func TestRenderSchemaShape(t *testing.T) {
	out := renderSchema(testSchema(t), 200)

	assert.Contains(t, out, "Measures:")
	assert.Contains(t, out, "Dimensions:")
	assert.Contains(t, out, `"Sales" (REAL, default SUM)`)
	assert.NotContains(t, out, "Internal Key")

	// Measures render before dimensions.
	assert.Less(t, strings.Index(out, "Sales"), strings.Index(out, "Region"))
}

func TestRenderSchemaCapsFields(t *testing.T) {
	fields := make([]schema.Field, 0, 250)
	for i := 0; i < 250; i++ {
		fields = append(fields, schema.Field{
			Caption:  fieldName(i),
			DataType: schema.TypeString,
			Role:     schema.RoleDimension,
		})
	}
	sch := schema.NewEnrichedSchema("wide", fields)

	out := renderSchema(sch, 200)
	assert.Contains(t, out, "50 additional fields omitted")
}

func fieldName(i int) string {
	return "Field " + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
