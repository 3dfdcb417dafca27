// ABOUTME: Tests for the SQLite metric store.
// ABOUTME: Covers insert/query round-trips, aggregation bucketing, dashboard counts, and cleanup.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulse-gateway/internal/metric"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testMetric(agentID, name string, t metric.Type, v metric.Value, ts time.Time) *metric.Metric {
	return &metric.Metric{
		AgentID:    agentID,
		Name:       name,
		Type:       t,
		Value:      v,
		Location:   metric.Location{Provider: "gcp", Region: "us-central1"},
		Timestamp:  ts,
		ReceivedAt: ts,
	}
}

func TestSQLiteStore_GaugeRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Second)
	m := testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(42), ts)
	m.Unit = "percent"
	m.Tags = map[string]string{"core": "0"}

	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, []*metric.Metric{m}))

	rows, err := s.QueryMetrics(ctx, Filter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, "cpu.usage", got.Name)
	assert.Equal(t, metric.TypeGauge, got.Type)
	require.NotNil(t, got.Value.Scalar, "gauge must come back through the scalar path")
	assert.Nil(t, got.Value.Structured)
	assert.Equal(t, 42.0, *got.Value.Scalar)
	assert.Equal(t, "percent", got.Unit)
	assert.Equal(t, map[string]string{"core": "0"}, got.Tags)
	assert.Equal(t, "gcp", got.Location.Provider)
	assert.Equal(t, ts, got.Timestamp.UTC())
}

func TestSQLiteStore_HistogramRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	count := int64(5)
	ts := time.Now().UTC().Truncate(time.Second)
	m := testMetric("agent-1", "req.duration", metric.TypeHistogram,
		metric.StructuredValue(metric.Structured{Value: 10, Count: &count}), ts)

	require.NoError(t, s.InsertMetrics(ctx, metric.TypeHistogram, []*metric.Metric{m}))

	rows, err := s.QueryMetrics(ctx, Filter{Name: "req.duration"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	require.NotNil(t, got.Value.Structured)
	assert.Nil(t, got.Value.Scalar)
	assert.Equal(t, 10.0, got.Value.Structured.Value)
	require.NotNil(t, got.Value.Structured.Count)
	assert.Equal(t, count, *got.Value.Structured.Count)
	assert.Equal(t, 10.0, got.Value.Representative())
}

func TestSQLiteStore_QueryFiltersAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := []*metric.Metric{
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(1), base),
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(2), base.Add(time.Minute)),
		testMetric("agent-2", "mem.used", metric.TypeGauge, metric.ScalarValue(3), base.Add(2*time.Minute)),
	}
	batch[2].Location = metric.Location{Provider: "aws", Region: "eu-west-1"}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, batch))

	// Newest first
	rows, err := s.QueryMetrics(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "mem.used", rows[0].Name)
	assert.Equal(t, 2.0, *rows[1].Value.Scalar)

	rows, err = s.QueryMetrics(ctx, Filter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.QueryMetrics(ctx, Filter{Provider: "aws"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "agent-2", rows[0].AgentID)

	rows, err = s.QueryMetrics(ctx, Filter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Value.Scalar)

	rows, err = s.QueryMetrics(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Value.Scalar)
}

func TestSQLiteStore_AggregateBucketing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// 10:00:05 and 10:00:50 share the 10:00:00 bucket; 10:01:05 does not.
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := []*metric.Metric{
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(10), base.Add(5*time.Second)),
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(20), base.Add(50*time.Second)),
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(30), base.Add(65*time.Second)),
	}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, batch))

	rows, err := s.Aggregate(ctx, Filter{Name: "cpu.usage"}, AggAvg, Interval1m)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Buckets come back newest first.
	assert.Equal(t, base.Add(time.Minute), rows[0].Bucket)
	assert.Equal(t, 30.0, rows[0].Value)
	assert.Equal(t, int64(1), rows[0].Samples)

	assert.Equal(t, base, rows[1].Bucket)
	assert.Equal(t, 15.0, rows[1].Value)
	assert.Equal(t, int64(2), rows[1].Samples)
}

func TestSQLiteStore_AggregateReducers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	count := int64(4)
	batch := []*metric.Metric{
		testMetric("agent-1", "req.duration", metric.TypeTimer,
			metric.StructuredValue(metric.Structured{Value: 100, Count: &count}), base),
		testMetric("agent-1", "req.duration", metric.TypeTimer,
			metric.StructuredValue(metric.Structured{Value: 300, Count: &count}), base.Add(10*time.Second)),
	}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeTimer, batch))

	cases := []struct {
		agg  Aggregation
		want float64
	}{
		{AggAvg, 200},
		{AggSum, 400},
		{AggMin, 100},
		{AggMax, 300},
		{AggCount, 2},
	}
	for _, tc := range cases {
		rows, err := s.Aggregate(ctx, Filter{Name: "req.duration"}, tc.agg, Interval5m)
		require.NoError(t, err)
		require.Len(t, rows, 1, "aggregation %s", tc.agg)
		assert.Equal(t, tc.want, rows[0].Value, "aggregation %s uses the structured value field", tc.agg)
	}
}

func TestSQLiteStore_BatchRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &metric.BatchRecord{
		ID:        uuid.New().String(),
		AgentID:   "agent-1",
		Timestamp: now,
		Location:  metric.Location{Provider: "gcp", Region: "us-central1"},
		Total:     2,
		Processed: 1,
		Errors:    1,
		CreatedAt: now,
	}
	require.NoError(t, s.InsertBatchRecord(ctx, rec))

	records, err := s.ListBatchRecords(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Total)
	assert.Equal(t, 1, records[0].Processed)
	assert.Equal(t, 1, records[0].Errors)
	assert.Equal(t, "gcp", records[0].Location.Provider)
}

func TestSQLiteStore_BatchRecordInvariantEnforced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &metric.BatchRecord{
		ID:        uuid.New().String(),
		AgentID:   "agent-1",
		Timestamp: now,
		Total:     5,
		Processed: 3,
		Errors:    1, // 3+1 != 5
		CreatedAt: now,
	}
	assert.Error(t, s.InsertBatchRecord(ctx, rec))
}

func TestSQLiteStore_DashboardSummary(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	batch := []*metric.Metric{
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(1), now),
		testMetric("agent-2", "mem.used", metric.TypeGauge, metric.ScalarValue(2), now),
	}
	batch[1].Location = metric.Location{Provider: "aws", Region: "eu-west-1"}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, batch))

	summary, err := s.DashboardSummary(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Agents)
	assert.Equal(t, int64(2), summary.Names)
	assert.Equal(t, int64(2), summary.Providers)
	assert.Equal(t, int64(2), summary.Regions)
	assert.Len(t, summary.Recent, 2)
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	batch := []*metric.Metric{
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(1), now.AddDate(0, 0, -40)),
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(2), now),
	}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, batch))

	removed, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rows, err := s.QueryMetrics(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Value.Scalar)

	// Nothing further to remove on a second pass.
	removed, err = s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestSQLiteStore_ConvenienceQueries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	batch := []*metric.Metric{
		testMetric("agent-1", "cpu.usage", metric.TypeGauge, metric.ScalarValue(1), now.Add(-10*time.Minute)),
		testMetric("agent-2", "cpu.usage", metric.TypeGauge, metric.ScalarValue(2), now.Add(-2*time.Hour)),
	}
	require.NoError(t, s.InsertMetrics(ctx, metric.TypeGauge, batch))

	rows, err := s.MetricHistory(ctx, "cpu.usage", time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "agent-1", rows[0].AgentID)

	rows, err = s.AgentMetrics(ctx, "agent-2", 3*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Value.Scalar)
}
