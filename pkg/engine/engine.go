// Package engine defines the analytics engine boundary: query execution,
// field metadata and per-field statistics. The pipeline only ever talks to
// the Engine interface; the HTTP and ClickHouse implementations live here.
package engine

import (
	"context"

	"github.com/quarrydata/quarry/pkg/query"
)

// Engine is the analytics engine consumed by the pipeline.
type Engine interface {
	// Execute runs a validated query and returns tabular results.
	Execute(ctx context.Context, q *query.Query) (*Result, error)

	// FetchMetadata returns the raw field metadata for a datasource.
	FetchMetadata(ctx context.Context, datasourceID string) ([]RawField, error)

	// FetchFieldStatistics returns statistics for a single field. Failures
	// here are tolerated by the schema provider and degrade to nil stats.
	FetchFieldStatistics(ctx context.Context, datasourceID, fieldName string) (*FieldStats, error)
}

// Result is the tabular output of a query execution.
type Result struct {
	Columns  []string `json:"columns"`
	Data     [][]any  `json:"data"`
	RowCount int      `json:"row_count"`

	// Stale marks a result served from an expired cache entry after the
	// engine became unavailable. Degraded marks a result produced by a
	// row-capped rewrite of the original query.
	Stale    bool `json:"stale,omitempty"`
	Degraded bool `json:"degraded,omitempty"`
}

// RawField is field metadata as reported by the engine, before enrichment.
type RawField struct {
	Caption            string `json:"fieldCaption"`
	Name               string `json:"fieldName"`
	DataType           string `json:"dataType"`
	ColumnClass        string `json:"columnClass,omitempty"` // MEASURE or DIMENSION if the engine reports it
	DefaultAggregation string `json:"defaultAggregation,omitempty"`
	Formula            string `json:"formula,omitempty"`
	Hidden             bool   `json:"hidden,omitempty"`
}

// FieldStats holds per-field statistics used to compress prompts and to
// answer schema-metadata questions without running a query.
type FieldStats struct {
	Cardinality    int      `json:"cardinality"`
	SampleValues   []string `json:"sampleValues,omitempty"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	NullPercentage *float64 `json:"nullPercentage,omitempty"`
}
