// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/pulse-gateway/internal/metric"
)

// MockStore is an in-memory Store implementation for testing. Error
// injection fields let tests simulate store outages.
type MockStore struct {
	mu      sync.RWMutex
	metrics []*metric.Metric
	batches []*metric.BatchRecord

	// When set, the corresponding operation fails with this error.
	InsertMetricsErr error
	InsertBatchErr   error

	insertCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// InsertMetrics appends copies of the batch.
func (m *MockStore) InsertMetrics(ctx context.Context, t metric.Type, batch []*metric.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertCalls++
	if m.InsertMetricsErr != nil {
		return m.InsertMetricsErr
	}
	for _, p := range batch {
		c := *p
		m.metrics = append(m.metrics, &c)
	}
	return nil
}

// InsertBatchRecord appends a copy of the audit record.
func (m *MockStore) InsertBatchRecord(ctx context.Context, rec *metric.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertBatchErr != nil {
		return m.InsertBatchErr
	}
	c := *rec
	m.batches = append(m.batches, &c)
	return nil
}

// QueryMetrics filters the in-memory rows, newest first.
func (m *MockStore) QueryMetrics(ctx context.Context, f Filter) ([]*metric.Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*metric.Metric
	for _, p := range m.metrics {
		if !matchesFilter(p, f) {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Aggregate buckets the in-memory rows the same way the SQLite store does.
func (m *MockStore) Aggregate(ctx context.Context, f Filter, agg Aggregation, interval Interval) ([]*AggregateRow, error) {
	rows, err := m.QueryMetrics(ctx, Filter{
		AgentID: f.AgentID, Provider: f.Provider, Region: f.Region,
		Name: f.Name, Type: f.Type, Since: f.Since, Until: f.Until,
	})
	if err != nil {
		return nil, err
	}

	width := interval.Seconds()
	type key struct {
		bucket                      int64
		name, provider, region, typ string
	}
	groups := make(map[key][]float64)
	for _, p := range rows {
		k := key{
			bucket:   (p.Timestamp.Unix() / width) * width,
			name:     p.Name,
			typ:      string(p.Type),
			provider: p.Location.Provider,
			region:   p.Location.Region,
		}
		groups[k] = append(groups[k], p.Value.Representative())
	}

	var out []*AggregateRow
	for k, values := range groups {
		row := &AggregateRow{
			Bucket:   time.Unix(k.bucket, 0).UTC(),
			Name:     k.name,
			Type:     metric.Type(k.typ),
			Provider: k.provider,
			Region:   k.region,
			Samples:  int64(len(values)),
		}
		switch agg {
		case AggCount:
			row.Value = float64(len(values))
		case AggSum, AggAvg:
			var sum float64
			for _, v := range values {
				sum += v
			}
			if agg == AggSum {
				row.Value = sum
			} else {
				row.Value = sum / float64(len(values))
			}
		case AggMin:
			row.Value = values[0]
			for _, v := range values {
				if v < row.Value {
					row.Value = v
				}
			}
		case AggMax:
			row.Value = values[0]
			for _, v := range values {
				if v > row.Value {
					row.Value = v
				}
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.After(out[j].Bucket) })
	return out, nil
}

// MetricHistory mirrors the SQLite convenience query.
func (m *MockStore) MetricHistory(ctx context.Context, name string, lookback time.Duration) ([]*metric.Metric, error) {
	return m.QueryMetrics(ctx, Filter{Name: name, Since: time.Now().Add(-lookback)})
}

// AgentMetrics mirrors the SQLite convenience query.
func (m *MockStore) AgentMetrics(ctx context.Context, agentID string, lookback time.Duration) ([]*metric.Metric, error) {
	return m.QueryMetrics(ctx, Filter{AgentID: agentID, Since: time.Now().Add(-lookback)})
}

// DashboardSummary counts distinct entities within the window.
func (m *MockStore) DashboardSummary(ctx context.Context, lookback time.Duration) (*DashboardSummary, error) {
	rows, err := m.QueryMetrics(ctx, Filter{Since: time.Now().Add(-lookback)})
	if err != nil {
		return nil, err
	}

	agents := map[string]struct{}{}
	names := map[string]struct{}{}
	providers := map[string]struct{}{}
	regions := map[string]struct{}{}
	for _, p := range rows {
		agents[p.AgentID] = struct{}{}
		names[p.Name] = struct{}{}
		if p.Location.Provider != "" {
			providers[p.Location.Provider] = struct{}{}
		}
		if p.Location.Region != "" {
			regions[p.Location.Region] = struct{}{}
		}
	}

	recent := rows
	if len(recent) > 100 {
		recent = recent[:100]
	}
	return &DashboardSummary{
		Agents:    int64(len(agents)),
		Names:     int64(len(names)),
		Providers: int64(len(providers)),
		Regions:   int64(len(regions)),
		Recent:    recent,
	}, nil
}

// ListBatchRecords returns audit rows, newest first.
func (m *MockStore) ListBatchRecords(ctx context.Context, agentID string, limit int) ([]*metric.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*metric.BatchRecord
	for _, b := range m.batches {
		if agentID != "" && b.AgentID != agentID {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cleanup removes rows older than the retention cutoff.
func (m *MockStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var kept []*metric.Metric
	var removed int64
	for _, p := range m.metrics {
		if p.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.metrics = kept

	var keptBatches []*metric.BatchRecord
	for _, b := range m.batches {
		if b.CreatedAt.Before(cutoff) {
			continue
		}
		keptBatches = append(keptBatches, b)
	}
	m.batches = keptBatches
	return removed, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// MetricCount returns the number of stored metric rows.
func (m *MockStore) MetricCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metrics)
}

// InsertCalls returns how many times InsertMetrics was invoked.
func (m *MockStore) InsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.insertCalls
}

func matchesFilter(p *metric.Metric, f Filter) bool {
	if f.AgentID != "" && p.AgentID != f.AgentID {
		return false
	}
	if f.Provider != "" && p.Location.Provider != f.Provider {
		return false
	}
	if f.Region != "" && p.Location.Region != f.Region {
		return false
	}
	if f.Name != "" && p.Name != f.Name {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && p.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && p.Timestamp.After(f.Until) {
		return false
	}
	return true
}
