// Package schema enriches and caches per-datasource field metadata.
package schema

import (
	"fmt"
	"strings"

	"github.com/quarrydata/quarry/pkg/engine"
)

// Field data types.
const (
	TypeInteger  = "INTEGER"
	TypeReal     = "REAL"
	TypeString   = "STRING"
	TypeDate     = "DATE"
	TypeDateTime = "DATETIME"
	TypeBoolean  = "BOOLEAN"
	TypeSpatial  = "SPATIAL"
	TypeUnknown  = "UNKNOWN"
)

// Field roles.
const (
	RoleMeasure   = "MEASURE"
	RoleDimension = "DIMENSION"
)

// Field is an immutable snapshot of one datasource field. A MEASURE field
// with no aggregation baked into its formula must receive an aggregation
// function before it is placed in a query's field list.
type Field struct {
	Caption            string             `json:"caption"`
	Name               string             `json:"name"`
	DataType           string             `json:"dataType"`
	Role               string             `json:"role"`
	DefaultAggregation string             `json:"defaultAggregation,omitempty"`
	Formula            string             `json:"formula,omitempty"`
	Hidden             bool               `json:"hidden,omitempty"`
	Stats              *engine.FieldStats `json:"stats,omitempty"`
}

// IsNumeric reports whether the field holds numbers.
func (f *Field) IsNumeric() bool {
	return f.DataType == TypeInteger || f.DataType == TypeReal
}

// IsTemporal reports whether the field holds dates or datetimes.
func (f *Field) IsTemporal() bool {
	return f.DataType == TypeDate || f.DataType == TypeDateTime
}

// EnrichedSchema is the read-only schema snapshot handed to all downstream
// components. Field lookups are case-insensitive on caption.
type EnrichedSchema struct {
	DatasourceID      string
	Fields            []Field
	MeasureCaptions   []string
	DimensionCaptions []string

	fieldMap map[string]*Field // lower-cased caption -> field
}

// NewEnrichedSchema builds the lookup structures for a field set.
func NewEnrichedSchema(datasourceID string, fields []Field) *EnrichedSchema {
	s := &EnrichedSchema{
		DatasourceID: datasourceID,
		Fields:       fields,
		fieldMap:     make(map[string]*Field, len(fields)),
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		s.fieldMap[strings.ToLower(f.Caption)] = f
		switch f.Role {
		case RoleMeasure:
			s.MeasureCaptions = append(s.MeasureCaptions, f.Caption)
		case RoleDimension:
			s.DimensionCaptions = append(s.DimensionCaptions, f.Caption)
		}
	}
	return s
}

// Lookup returns the field with the given caption, matched case-insensitively.
func (s *EnrichedSchema) Lookup(caption string) (*Field, bool) {
	f, ok := s.fieldMap[strings.ToLower(strings.TrimSpace(caption))]
	return f, ok
}

// Captions returns all field captions in schema order.
func (s *EnrichedSchema) Captions() []string {
	out := make([]string, len(s.Fields))
	for i := range s.Fields {
		out[i] = s.Fields[i].Caption
	}
	return out
}

// UpstreamError signals that the engine's metadata endpoint failed. It is
// surfaced to the caller immediately, without pipeline retries.
type UpstreamError struct {
	DatasourceID string
	Err          error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("schema fetch for datasource %q failed: %v", e.DatasourceID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
