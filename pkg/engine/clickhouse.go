package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/quarrydata/quarry/pkg/query"
)

// ClickHouseEngine runs structured queries against a plain ClickHouse
// database by compiling them to SQL. The datasource id is the table name.
// It exists so the pipeline can be exercised against local data without a
// hosted analytics engine in front of it.
type ClickHouseEngine struct {
	conn     driver.Conn
	database string
	log      *slog.Logger
}

// ClickHouseConfig configures a ClickHouseEngine.
type ClickHouseConfig struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseEngine opens a connection and pings it.
func NewClickHouseEngine(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseEngine, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("clickhouse engine initialized", "addr", cfg.Addr, "database", cfg.Database)
	}
	return &ClickHouseEngine{conn: conn, database: cfg.Database, log: cfg.Logger}, nil
}

// Close closes the underlying connection.
func (e *ClickHouseEngine) Close() error { return e.conn.Close() }

// Execute compiles the query to SQL and runs it.
func (e *ClickHouseEngine) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	sql, err := CompileSQL(q)
	if err != nil {
		return nil, NewExecutionError(KindBadRequest, err)
	}
	if e.log != nil {
		e.log.Debug("executing compiled query", "sql", sql)
	}

	rows, err := e.conn.Query(ctx, sql)
	if err != nil {
		return nil, AsExecutionError(err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// scanRows reads all rows into a Result using the driver's reported scan types.
func scanRows(rows driver.Rows) (*Result, error) {
	columns := rows.Columns()
	types := rows.ColumnTypes()

	result := &Result{Columns: columns}
	for rows.Next() {
		dests := make([]any, len(types))
		for i, ct := range types {
			dests[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, NewExecutionError(KindTransient, fmt.Errorf("scan row: %w", err))
		}
		row := make([]any, len(dests))
		for i, d := range dests {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		result.Data = append(result.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, AsExecutionError(err)
	}
	result.RowCount = len(result.Data)
	return result, nil
}

// FetchMetadata reads column metadata from system.columns.
func (e *ClickHouseEngine) FetchMetadata(ctx context.Context, datasourceID string) ([]RawField, error) {
	rows, err := e.conn.Query(ctx, `
		SELECT name, type
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, e.database, datasourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch columns: %w", err)
	}
	defer rows.Close()

	var fields []RawField
	for rows.Next() {
		var name, chType string
		if err := rows.Scan(&name, &chType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		fields = append(fields, RawField{
			Caption:  name,
			Name:     name,
			DataType: dataTypeFromClickHouse(chType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %q not found in database %q", datasourceID, e.database)
	}
	return fields, nil
}

// FetchFieldStatistics computes cardinality, sample values and, for numeric
// columns, min/max and null percentage.
func (e *ClickHouseEngine) FetchFieldStatistics(ctx context.Context, datasourceID, fieldName string) (*FieldStats, error) {
	col := quoteIdent(fieldName)
	table := quoteIdent(datasourceID)

	stats := &FieldStats{}

	var cardinality uint64
	row := e.conn.QueryRow(ctx, fmt.Sprintf("SELECT uniqExact(%s) FROM %s", col, table))
	if err := row.Scan(&cardinality); err != nil {
		return nil, fmt.Errorf("cardinality for %s: %w", fieldName, err)
	}
	stats.Cardinality = int(cardinality)

	// Sample values only for reasonably low-cardinality columns.
	if cardinality > 0 && cardinality <= 20 {
		rows, err := e.conn.Query(ctx, fmt.Sprintf(
			"SELECT DISTINCT toString(%s) FROM %s WHERE %s IS NOT NULL LIMIT 20", col, table, col))
		if err == nil {
			defer rows.Close()
			for rows.Next() {
				var v string
				if err := rows.Scan(&v); err == nil && v != "" {
					stats.SampleValues = append(stats.SampleValues, v)
				}
			}
		}
	}

	var minV, maxV, nullPct float64
	row = e.conn.QueryRow(ctx, fmt.Sprintf(
		"SELECT toFloat64OrZero(toString(min(%s))), toFloat64OrZero(toString(max(%s))), countIf(%s IS NULL) / greatest(count(), 1) * 100 FROM %s",
		col, col, col, table))
	if err := row.Scan(&minV, &maxV, &nullPct); err == nil {
		stats.Min = &minV
		stats.Max = &maxV
		stats.NullPercentage = &nullPct
	}

	return stats, nil
}

// dataTypeFromClickHouse maps a ClickHouse column type to the engine's
// data type vocabulary.
func dataTypeFromClickHouse(chType string) string {
	t := strings.ToLower(chType)
	t = strings.TrimPrefix(t, "nullable(")
	t = strings.TrimPrefix(t, "lowcardinality(")
	switch {
	case strings.HasPrefix(t, "int") || strings.HasPrefix(t, "uint"):
		return "INTEGER"
	case strings.HasPrefix(t, "float") || strings.HasPrefix(t, "decimal"):
		return "REAL"
	case strings.HasPrefix(t, "datetime"):
		return "DATETIME"
	case strings.HasPrefix(t, "date"):
		return "DATE"
	case strings.HasPrefix(t, "bool"):
		return "BOOLEAN"
	case strings.HasPrefix(t, "string") || strings.HasPrefix(t, "fixedstring") || strings.HasPrefix(t, "enum"):
		return "STRING"
	case strings.HasPrefix(t, "point") || strings.HasPrefix(t, "polygon") || strings.HasPrefix(t, "ring"):
		return "SPATIAL"
	default:
		return "UNKNOWN"
	}
}
