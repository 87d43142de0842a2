package schema

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydata/quarry/pkg/engine"
	"github.com/quarrydata/quarry/pkg/query"
)

type mockEngine struct {
	mu            sync.Mutex
	metadataCalls int
	metadata      []engine.RawField
	metadataErr   error
	statsErr      map[string]error
	cardinality   map[string]int
}

func (m *mockEngine) Execute(context.Context, *query.Query) (*engine.Result, error) {
	return nil, errors.New("not implemented")
}

func (m *mockEngine) FetchMetadata(_ context.Context, _ string) ([]engine.RawField, error) {
	m.mu.Lock()
	m.metadataCalls++
	m.mu.Unlock()
	if m.metadataErr != nil {
		return nil, m.metadataErr
	}
	return m.metadata, nil
}

func (m *mockEngine) FetchFieldStatistics(_ context.Context, _ string, field string) (*engine.FieldStats, error) {
	if err, ok := m.statsErr[field]; ok {
		return nil, err
	}
	return &engine.FieldStats{Cardinality: m.cardinality[field]}, nil
}

func defaultMetadata() []engine.RawField {
	return []engine.RawField{
		{Caption: "Sales", Name: "sales", DataType: "REAL", ColumnClass: "MEASURE", DefaultAggregation: "sum"},
		{Caption: "Units", Name: "units", DataType: "INT", DefaultAggregation: "SUM"},
		{Caption: "Region", Name: "region", DataType: "STRING"},
		{Caption: "Order Date", Name: "order_date", DataType: "DATE", ColumnClass: "DIMENSION"},
		{Caption: "Row ID", Name: "row_id", DataType: "INT", Hidden: true},
	}
}

func newTestProvider(t *testing.T, eng *mockEngine) *Provider {
	t.Helper()
	p, err := NewProvider(&ProviderConfig{
		Logger: slog.Default(),
		Engine: eng,
	})
	require.NoError(t, err)
	return p
}

func TestEnrichInfersRoles(t *testing.T) {
	eng := &mockEngine{metadata: defaultMetadata()}
	p := newTestProvider(t, eng)

	sch, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)

	// Engine-reported class wins; numeric type plus known aggregation is
	// the fallback; everything else is a dimension.
	assert.Equal(t, []string{"Sales", "Units"}, sch.MeasureCaptions)
	assert.Equal(t, []string{"Region", "Order Date"}, sch.DimensionCaptions)

	sales, ok := sch.Lookup("sales")
	require.True(t, ok)
	assert.Equal(t, "SUM", sales.DefaultAggregation)
	assert.Equal(t, TypeReal, sales.DataType)

	units, ok := sch.Lookup("Units")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, units.DataType)
	assert.Equal(t, RoleMeasure, units.Role)
}

func TestEnrichServesFromCache(t *testing.T) {
	eng := &mockEngine{metadata: defaultMetadata()}
	p := newTestProvider(t, eng)

	first, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)
	second, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, eng.metadataCalls)
}

func TestEnrichForceRefreshBypassesCache(t *testing.T) {
	eng := &mockEngine{metadata: defaultMetadata()}
	p := newTestProvider(t, eng)

	_, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)
	_, err = p.Enrich(context.Background(), "superstore", EnrichOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, 2, eng.metadataCalls)
}

func TestEnrichInvalidate(t *testing.T) {
	eng := &mockEngine{metadata: defaultMetadata()}
	p := newTestProvider(t, eng)

	_, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)
	p.Invalidate("superstore")
	_, err = p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, eng.metadataCalls)
}

func TestEnrichWrapsMetadataError(t *testing.T) {
	eng := &mockEngine{metadataErr: errors.New("connection refused")}
	p := newTestProvider(t, eng)

	_, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "superstore", upstream.DatasourceID)
}

func TestEnrichStatisticsTolerantOfPartialFailure(t *testing.T) {
	eng := &mockEngine{
		metadata:    defaultMetadata(),
		cardinality: map[string]int{"region": 4, "sales": 12000},
		statsErr:    map[string]error{"order_date": errors.New("stats query failed")},
	}
	p := newTestProvider(t, eng)

	sch, err := p.Enrich(context.Background(), "superstore", EnrichOptions{IncludeStatistics: true})
	require.NoError(t, err)

	region, _ := sch.Lookup("Region")
	require.NotNil(t, region.Stats)
	assert.Equal(t, 4, region.Stats.Cardinality)

	orderDate, _ := sch.Lookup("Order Date")
	assert.Nil(t, orderDate.Stats)

	rowID, _ := sch.Lookup("Row ID")
	assert.Nil(t, rowID.Stats)
}

func TestEnrichSkipsStatisticsWhenNotRequested(t *testing.T) {
	eng := &mockEngine{metadata: defaultMetadata(), cardinality: map[string]int{"region": 4}}
	p := newTestProvider(t, eng)

	sch, err := p.Enrich(context.Background(), "superstore", EnrichOptions{})
	require.NoError(t, err)

	region, _ := sch.Lookup("Region")
	assert.Nil(t, region.Stats)
}

func TestNormalizeDataType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"REAL", TypeReal},
		{"double", TypeReal},
		{"INT", TypeInteger},
		{"text", TypeString},
		{"TIMESTAMP", TypeDateTime},
		{"bool", TypeBoolean},
		{"geometry", TypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeDataType(tt.in), tt.in)
	}
}
