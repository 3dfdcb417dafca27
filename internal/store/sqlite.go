// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Time-series metric persistence with automatic schema creation and bucketed aggregation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/pulse-gateway/internal/metric"
)

// Timestamps are stored as RFC3339 UTC strings so lexicographic order is
// chronological order.
const timeLayout = time.RFC3339

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS metrics (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			type        TEXT NOT NULL,
			value       REAL,
			value_json  TEXT,
			unit        TEXT,
			tags        TEXT,
			provider    TEXT,
			region      TEXT,
			zone        TEXT,
			timestamp   TEXT NOT NULL,
			received_at TEXT NOT NULL,

			CHECK (type IN ('gauge', 'counter', 'histogram', 'timer'))
		);

		CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_metrics_agent_ts ON metrics(agent_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, timestamp);

		CREATE TABLE IF NOT EXISTS metric_batches (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			provider      TEXT,
			region        TEXT,
			zone          TEXT,
			total_metrics INTEGER NOT NULL,
			processed     INTEGER NOT NULL,
			errors        INTEGER NOT NULL,
			created_at    TEXT NOT NULL,

			CHECK (processed + errors = total_metrics)
		);

		CREATE INDEX IF NOT EXISTS idx_batches_agent ON metric_batches(agent_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// InsertMetrics bulk-appends metric rows of one type in a single
// transaction. Scalar values land in the value column; histogram/timer
// values are serialized into value_json.
func (s *SQLiteStore) InsertMetrics(ctx context.Context, t metric.Type, batch []*metric.Metric) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning metric insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics (
			agent_id, name, type, value, value_json, unit, tags,
			provider, region, zone, timestamp, received_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing metric insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range batch {
		var scalar sql.NullFloat64
		var structured sql.NullString
		if m.Value.Scalar != nil {
			scalar = sql.NullFloat64{Float64: *m.Value.Scalar, Valid: true}
		} else if m.Value.Structured != nil {
			data, err := json.Marshal(m.Value.Structured)
			if err != nil {
				return fmt.Errorf("encoding structured value for %s: %w", m.Name, err)
			}
			structured = sql.NullString{String: string(data), Valid: true}
		}

		var tags sql.NullString
		if len(m.Tags) > 0 {
			data, err := json.Marshal(m.Tags)
			if err != nil {
				return fmt.Errorf("encoding tags for %s: %w", m.Name, err)
			}
			tags = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			m.AgentID,
			m.Name,
			string(m.Type),
			scalar,
			structured,
			nullString(m.Unit),
			tags,
			nullString(m.Location.Provider),
			nullString(m.Location.Region),
			nullString(m.Location.Zone),
			m.Timestamp.UTC().Format(timeLayout),
			m.ReceivedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting metric %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metric insert: %w", err)
	}

	s.logger.Debug("inserted metrics", "type", t, "count", len(batch))
	return nil
}

// InsertBatchRecord appends one audit row for an inbound metrics message.
func (s *SQLiteStore) InsertBatchRecord(ctx context.Context, rec *metric.BatchRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_batches (
			id, agent_id, timestamp, provider, region, zone,
			total_metrics, processed, errors, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.AgentID,
		rec.Timestamp.UTC().Format(timeLayout),
		nullString(rec.Location.Provider),
		nullString(rec.Location.Region),
		nullString(rec.Location.Zone),
		rec.Total,
		rec.Processed,
		rec.Errors,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting batch record: %w", err)
	}

	s.logger.Debug("saved batch record",
		"id", rec.ID,
		"agent_id", rec.AgentID,
		"total", rec.Total,
		"processed", rec.Processed,
		"errors", rec.Errors,
	)
	return nil
}

const metricColumns = `agent_id, name, type, value, value_json, unit, tags, provider, region, zone, timestamp, received_at`

// QueryMetrics returns rows matching the filter, newest first.
func (s *SQLiteStore) QueryMetrics(ctx context.Context, f Filter) ([]*metric.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE 1=1`
	args := []any{}
	query, args = applyFilter(query, args, f)
	query += ` ORDER BY timestamp DESC`

	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMetrics(rows)
}

// Aggregate groups matching rows into fixed-width time buckets per
// (name, type, provider, region) and applies the reducer, newest bucket
// first. The representative value is the scalar column or, for structured
// values, the embedded value field.
func (s *SQLiteStore) Aggregate(ctx context.Context, f Filter, agg Aggregation, interval Interval) ([]*AggregateRow, error) {
	var reducer string
	switch agg {
	case AggAvg:
		reducer = "AVG(rep)"
	case AggSum:
		reducer = "SUM(rep)"
	case AggMin:
		reducer = "MIN(rep)"
	case AggMax:
		reducer = "MAX(rep)"
	case AggCount:
		reducer = "COUNT(rep)"
	default:
		return nil, fmt.Errorf("unknown aggregation %q", agg)
	}

	width := interval.Seconds()
	query := `
		SELECT (CAST(strftime('%s', timestamp) AS INTEGER) / ?) * ? AS bucket,
		       name, type,
		       COALESCE(provider, '') AS provider,
		       COALESCE(region, '') AS region,
		       ` + reducer + ` AS agg_value,
		       COUNT(*) AS samples
		FROM (
			SELECT name, type, provider, region, timestamp,
			       COALESCE(value, json_extract(value_json, '$.value')) AS rep
			FROM metrics WHERE 1=1`
	args := []any{width, width}
	query, args = applyFilter(query, args, f)
	query += `
		)
		GROUP BY bucket, name, type, provider, region
		ORDER BY bucket DESC`

	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*AggregateRow
	for rows.Next() {
		var bucket int64
		var row AggregateRow
		var typ string
		if err := rows.Scan(&bucket, &row.Name, &typ, &row.Provider, &row.Region, &row.Value, &row.Samples); err != nil {
			return nil, fmt.Errorf("scanning aggregate row: %w", err)
		}
		row.Bucket = time.Unix(bucket, 0).UTC()
		row.Type = metric.Type(typ)
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aggregate rows: %w", err)
	}
	return out, nil
}

// MetricHistory is a convenience range query for one metric name.
func (s *SQLiteStore) MetricHistory(ctx context.Context, name string, lookback time.Duration) ([]*metric.Metric, error) {
	return s.QueryMetrics(ctx, Filter{Name: name, Since: time.Now().Add(-lookback)})
}

// AgentMetrics is a convenience range query for one agent.
func (s *SQLiteStore) AgentMetrics(ctx context.Context, agentID string, lookback time.Duration) ([]*metric.Metric, error) {
	return s.QueryMetrics(ctx, Filter{AgentID: agentID, Since: time.Now().Add(-lookback)})
}

// DashboardSummary returns distinct entity counts within the window plus
// the 100 most recent rows.
func (s *SQLiteStore) DashboardSummary(ctx context.Context, lookback time.Duration) (*DashboardSummary, error) {
	since := time.Now().Add(-lookback).UTC().Format(timeLayout)

	summary := &DashboardSummary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT agent_id),
		       COUNT(DISTINCT name),
		       COUNT(DISTINCT provider),
		       COUNT(DISTINCT region)
		FROM metrics
		WHERE timestamp >= ?
	`, since).Scan(&summary.Agents, &summary.Names, &summary.Providers, &summary.Regions)
	if err != nil {
		return nil, fmt.Errorf("querying dashboard counts: %w", err)
	}

	recent, err := s.QueryMetrics(ctx, Filter{Since: time.Now().Add(-lookback), Limit: 100})
	if err != nil {
		return nil, err
	}
	summary.Recent = recent
	return summary, nil
}

// ListBatchRecords returns batch audit rows, newest first, optionally
// filtered by agent.
func (s *SQLiteStore) ListBatchRecords(ctx context.Context, agentID string, limit int) ([]*metric.BatchRecord, error) {
	query := `
		SELECT id, agent_id, timestamp, provider, region, zone,
		       total_metrics, processed, errors, created_at
		FROM metric_batches
		WHERE 1=1
	`
	args := []any{}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying batch records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*metric.BatchRecord
	for rows.Next() {
		var rec metric.BatchRecord
		var ts, createdAt string
		var provider, region, zone sql.NullString
		if err := rows.Scan(&rec.ID, &rec.AgentID, &ts, &provider, &region, &zone,
			&rec.Total, &rec.Processed, &rec.Errors, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning batch record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(timeLayout, ts)
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		rec.Location = metric.Location{Provider: provider.String, Region: region.String, Zone: zone.String}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batch records: %w", err)
	}
	return out, nil
}

// Cleanup deletes metric rows older than the retention cutoff.
func (s *SQLiteStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx, `DELETE FROM metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired metrics: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted metrics: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM metric_batches WHERE created_at < ?`, cutoff); err != nil {
		return removed, fmt.Errorf("deleting expired batch records: %w", err)
	}

	if removed > 0 {
		s.logger.Info("retention cleanup", "removed", removed, "retention_days", retentionDays)
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// applyFilter appends the WHERE clauses for the non-zero filter fields.
func applyFilter(query string, args []any, f Filter) (string, []any) {
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, f.Provider)
	}
	if f.Region != "" {
		query += ` AND region = ?`
		args = append(args, f.Region)
	}
	if f.Name != "" {
		query += ` AND name = ?`
		args = append(args, f.Name)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until.UTC().Format(timeLayout))
	}
	return query, args
}

// scanMetrics reads metric rows back into domain values.
func scanMetrics(rows *sql.Rows) ([]*metric.Metric, error) {
	var out []*metric.Metric
	for rows.Next() {
		var m metric.Metric
		var typ, ts, receivedAt string
		var scalar sql.NullFloat64
		var structured, unit, tags, provider, region, zone sql.NullString

		if err := rows.Scan(&m.AgentID, &m.Name, &typ, &scalar, &structured, &unit, &tags,
			&provider, &region, &zone, &ts, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning metric row: %w", err)
		}

		m.Type = metric.Type(typ)
		if scalar.Valid {
			m.Value = metric.ScalarValue(scalar.Float64)
		} else if structured.Valid {
			var sv metric.Structured
			if err := json.Unmarshal([]byte(structured.String), &sv); err != nil {
				return nil, fmt.Errorf("decoding structured value for %s: %w", m.Name, err)
			}
			m.Value = metric.StructuredValue(sv)
		}
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for %s: %w", m.Name, err)
			}
		}
		m.Unit = unit.String
		m.Location = metric.Location{Provider: provider.String, Region: region.String, Zone: zone.String}

		var err error
		if m.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		if m.ReceivedAt, err = time.Parse(timeLayout, receivedAt); err != nil {
			return nil, fmt.Errorf("parsing received_at %q: %w", receivedAt, err)
		}

		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metric rows: %w", err)
	}
	return out, nil
}

// nullString converts an empty string to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
