package schema

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/quarrydata/quarry/pkg/engine"
)

const (
	defaultCacheTTL      = time.Hour
	defaultStatsPoolSize = 8
)

// aggregations the engine can report as a field default.
var knownAggregations = map[string]bool{
	"SUM": true, "AVG": true, "MEDIAN": true, "COUNT": true, "COUNTD": true,
	"MIN": true, "MAX": true, "STDEV": true, "VAR": true,
}

// Provider fetches and caches enriched schemas per datasource.
type Provider struct {
	log    *slog.Logger
	cfg    *ProviderConfig
	cache  *ttlcache.Cache[string, *EnrichedSchema]
	statsP pond.ResultPool[*engine.FieldStats]
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Logger *slog.Logger
	Engine engine.Engine

	CacheTTL      time.Duration
	StatsPoolSize int
}

// Validate checks required fields and fills defaults.
func (c *ProviderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Engine == nil {
		return errors.New("engine is required")
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.StatsPoolSize == 0 {
		c.StatsPoolSize = defaultStatsPoolSize
	}
	return nil
}

// NewProvider creates a schema provider.
func NewProvider(cfg *ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		log: cfg.Logger,
		cfg: cfg,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *EnrichedSchema](cfg.CacheTTL),
		),
		statsP: pond.NewResultPool[*engine.FieldStats](cfg.StatsPoolSize),
	}, nil
}

// EnrichOptions control one enrichment call.
type EnrichOptions struct {
	ForceRefresh      bool
	IncludeStatistics bool
}

// Enrich returns the enriched schema for a datasource, serving from cache
// unless forced. Metadata failures surface as *UpstreamError; statistics
// failures degrade to nil stats per field.
func (p *Provider) Enrich(ctx context.Context, datasourceID string, opts EnrichOptions) (*EnrichedSchema, error) {
	if !opts.ForceRefresh {
		if item := p.cache.Get(datasourceID); item != nil {
			p.log.Debug("schema cache hit", "datasource", datasourceID)
			return item.Value(), nil
		}
	}

	raw, err := p.cfg.Engine.FetchMetadata(ctx, datasourceID)
	if err != nil {
		return nil, &UpstreamError{DatasourceID: datasourceID, Err: err}
	}

	fields := make([]Field, 0, len(raw))
	for _, rf := range raw {
		fields = append(fields, Field{
			Caption:            rf.Caption,
			Name:               rf.Name,
			DataType:           normalizeDataType(rf.DataType),
			Role:               inferRole(rf),
			DefaultAggregation: strings.ToUpper(rf.DefaultAggregation),
			Formula:            rf.Formula,
			Hidden:             rf.Hidden,
		})
	}

	if opts.IncludeStatistics {
		p.enrichStatistics(ctx, datasourceID, fields)
	}

	s := NewEnrichedSchema(datasourceID, fields)
	p.cache.Set(datasourceID, s, ttlcache.DefaultTTL)
	p.log.Info("schema enriched", "datasource", datasourceID,
		"fields", len(fields), "measures", len(s.MeasureCaptions), "dimensions", len(s.DimensionCaptions))
	return s, nil
}

// Invalidate drops the cached schema for a datasource.
func (p *Provider) Invalidate(datasourceID string) {
	p.cache.Delete(datasourceID)
}

// enrichStatistics fetches per-field statistics through a bounded pool.
// Each field tolerates failure independently; a failed fetch leaves the
// field's stats nil and never aborts the enrichment.
func (p *Provider) enrichStatistics(ctx context.Context, datasourceID string, fields []Field) {
	group := p.statsP.NewGroupContext(ctx)

	indices := make([]int, 0, len(fields))
	for i := range fields {
		if fields[i].Hidden {
			continue
		}
		indices = append(indices, i)
		name := fields[i].Name
		group.SubmitErr(func() (*engine.FieldStats, error) {
			stats, err := p.cfg.Engine.FetchFieldStatistics(ctx, datasourceID, name)
			if err != nil {
				p.log.Debug("field statistics unavailable",
					"datasource", datasourceID, "field", name, "error", err)
				return nil, nil
			}
			return stats, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		p.log.Warn("statistics enrichment aborted", "datasource", datasourceID, "error", err)
		return
	}
	for j, stats := range results {
		if stats == nil {
			continue
		}
		fields[indices[j]].Stats = stats
	}
}

// inferRole applies the role priority chain: engine-reported column class
// first, then numeric type plus a known default aggregation.
func inferRole(rf engine.RawField) string {
	switch strings.ToUpper(rf.ColumnClass) {
	case RoleMeasure:
		return RoleMeasure
	case RoleDimension:
		return RoleDimension
	}
	dt := normalizeDataType(rf.DataType)
	if (dt == TypeInteger || dt == TypeReal) && knownAggregations[strings.ToUpper(rf.DefaultAggregation)] {
		return RoleMeasure
	}
	return RoleDimension
}

func normalizeDataType(dt string) string {
	switch strings.ToUpper(strings.TrimSpace(dt)) {
	case TypeInteger, "INT", "BIGINT":
		return TypeInteger
	case TypeReal, "FLOAT", "DOUBLE", "DECIMAL":
		return TypeReal
	case TypeString, "STR", "TEXT":
		return TypeString
	case TypeDate:
		return TypeDate
	case TypeDateTime, "TIMESTAMP":
		return TypeDateTime
	case TypeBoolean, "BOOL":
		return TypeBoolean
	case TypeSpatial:
		return TypeSpatial
	default:
		return TypeUnknown
	}
}
