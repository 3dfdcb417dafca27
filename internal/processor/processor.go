// ABOUTME: Validates, enriches, and buffers inbound metrics; flushes them to the store in batches.
// ABOUTME: Per-item failures never abort a batch; one audit record is written per inbound message.

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/pulse-gateway/internal/metric"
	"github.com/2389/pulse-gateway/internal/store"
)

// Config holds processor tunables. Zero fields fall back to defaults.
type Config struct {
	QueueCapacity   int
	FlushInterval   time.Duration
	ChunkSize       int
	ChunkPause      time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 100
	}
	if c.ChunkPause <= 0 {
		c.ChunkPause = 50 * time.Millisecond
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return c
}

// ItemResult reports the outcome of one metric within a batch.
type ItemResult struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BatchResult summarizes one inbound metrics message.
type BatchResult struct {
	Processed int          `json:"processed"`
	Errors    int          `json:"errors"`
	Details   []ItemResult `json:"details"`
}

// Processor validates per-metric semantics, enriches metrics with receipt
// metadata, and moves them through the bounded queue into the store.
type Processor struct {
	store  store.Store
	queue  *Queue
	cfg    Config
	logger *slog.Logger

	// Single-flight guard: at most one flush runs at a time; a tick that
	// fires mid-flush is a no-op.
	flushing atomic.Bool

	now func() time.Time
}

// New creates a Processor writing to the given store. The store is
// injected so tests can swap in a mock.
func New(st store.Store, cfg Config, logger *slog.Logger) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		store:  st,
		queue:  NewQueue(cfg.QueueCapacity),
		cfg:    cfg,
		logger: logger.With("component", "processor"),
		now:    time.Now,
	}
}

// sample is the lenient per-item decode target. Value stays raw so shape
// errors surface per item, not per message.
type sample struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	Value json.RawMessage   `json:"value"`
	Unit  string            `json:"unit"`
	Tags  map[string]string `json:"tags"`
}

// ProcessMetrics validates and enqueues every entry of an inbound metrics
// message, then writes one batch audit record. Individual metric failures
// are counted and reported in the result without failing the batch; a
// failure writing the audit record itself propagates to the caller.
func (p *Processor) ProcessMetrics(ctx context.Context, agentID string, ts time.Time, loc metric.Location, entries []json.RawMessage) (*BatchResult, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("metrics must be a non-empty array")
	}

	receivedAt := p.now().UTC()
	result := &BatchResult{Details: make([]ItemResult, 0, len(entries))}

	for i, raw := range entries {
		m, err := p.buildMetric(agentID, ts, loc, receivedAt, raw)
		if err != nil {
			result.Errors++
			result.Details = append(result.Details, ItemResult{Index: i, Error: err.Error()})
			p.logger.Debug("rejected metric", "agent_id", agentID, "index", i, "error", err)
			continue
		}

		if shed := p.queue.Enqueue(m); shed {
			p.logger.Warn("queue full, shed oldest pending metric", "agent_id", agentID)
		}
		result.Processed++
		result.Details = append(result.Details, ItemResult{Index: i, Name: m.Name, OK: true})
	}

	rec := &metric.BatchRecord{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Timestamp: ts,
		Location:  loc,
		Total:     len(entries),
		Processed: result.Processed,
		Errors:    result.Errors,
		CreatedAt: receivedAt,
	}
	if err := p.store.InsertBatchRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("writing batch record: %w", err)
	}

	return result, nil
}

// buildMetric applies per-metric semantic validation and enrichment.
func (p *Processor) buildMetric(agentID string, ts time.Time, loc metric.Location, receivedAt time.Time, raw json.RawMessage) (*metric.Metric, error) {
	var s sample
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("metric entry is not an object")
	}
	if s.Name == "" {
		return nil, fmt.Errorf("metric name is required")
	}
	if s.Type == "" {
		return nil, fmt.Errorf("metric type is required")
	}
	t, err := metric.ParseType(s.Type)
	if err != nil {
		return nil, err
	}
	if len(s.Value) == 0 {
		return nil, fmt.Errorf("metric value is required")
	}

	var v metric.Value
	if err := json.Unmarshal(s.Value, &v); err != nil {
		return nil, fmt.Errorf("metric %s: %w", s.Name, err)
	}
	if err := v.MatchesType(t); err != nil {
		return nil, fmt.Errorf("metric %s: %w", s.Name, err)
	}

	return &metric.Metric{
		AgentID:    agentID,
		Name:       s.Name,
		Type:       t,
		Value:      v,
		Unit:       s.Unit,
		Tags:       s.Tags,
		Location:   loc,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
	}, nil
}

// Run drives the background flush and retention loops until ctx is
// cancelled, then drains what it can one last time.
func (p *Processor) Run(ctx context.Context) {
	flush := time.NewTicker(p.cfg.FlushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	p.logger.Info("processor started",
		"flush_interval", p.cfg.FlushInterval,
		"chunk_size", p.cfg.ChunkSize,
		"queue_capacity", p.cfg.QueueCapacity,
		"retention_days", p.cfg.RetentionDays,
	)

	for {
		select {
		case <-ctx.Done():
			// Final drain with a fresh context: the run context is gone.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(drainCtx)
			cancel()
			return
		case <-flush.C:
			p.Flush(ctx)
		case <-cleanup.C:
			if _, err := p.store.Cleanup(ctx, p.cfg.RetentionDays); err != nil {
				p.logger.Error("retention cleanup failed", "error", err)
			}
		}
	}
}

// Flush drains the queue in fixed-size chunks, grouping each chunk by
// metric type and issuing one bulk insert per type. At most one flush
// runs at a time; overlapping calls return immediately.
func (p *Processor) Flush(ctx context.Context) {
	if !p.flushing.CompareAndSwap(false, true) {
		return
	}
	defer p.flushing.Store(false)

	for {
		chunk := p.queue.DequeueBatch(p.cfg.ChunkSize)
		if len(chunk) == 0 {
			return
		}

		if err := p.flushChunk(ctx, chunk); err != nil {
			requeued, dropped := p.queue.Requeue(chunk)
			p.logger.Error("flush failed, will retry next tick",
				"error", err,
				"requeued", requeued,
				"dropped", dropped,
			)
			return
		}

		if p.queue.Len() == 0 {
			return
		}

		// Short pause between chunks so a deep queue doesn't saturate the
		// store in one burst.
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.ChunkPause):
		}
	}
}

// flushChunk groups one chunk by type and bulk-inserts each group.
func (p *Processor) flushChunk(ctx context.Context, chunk []Entry) error {
	byType := make(map[metric.Type][]*metric.Metric)
	for _, e := range chunk {
		byType[e.Metric.Type] = append(byType[e.Metric.Type], e.Metric)
	}

	for t, batch := range byType {
		if err := p.store.InsertMetrics(ctx, t, batch); err != nil {
			return fmt.Errorf("inserting %d %s metrics: %w", len(batch), t, err)
		}
	}

	p.logger.Debug("flushed chunk", "count", len(chunk), "types", len(byType))
	return nil
}

// QueueStats exposes queue depth and drop counters for health reporting.
func (p *Processor) QueueStats() QueueStats {
	return p.queue.Stats()
}

// Metrics delegates a filtered query to the store.
func (p *Processor) Metrics(ctx context.Context, f store.Filter) ([]*metric.Metric, error) {
	return p.store.QueryMetrics(ctx, f)
}

// AggregatedMetrics delegates a bucketed aggregation to the store.
func (p *Processor) AggregatedMetrics(ctx context.Context, f store.Filter, agg store.Aggregation, interval store.Interval) ([]*store.AggregateRow, error) {
	return p.store.Aggregate(ctx, f, agg, interval)
}

// MetricHistory delegates a per-name range query to the store.
func (p *Processor) MetricHistory(ctx context.Context, name string, lookback time.Duration) ([]*metric.Metric, error) {
	return p.store.MetricHistory(ctx, name, lookback)
}

// AgentMetrics delegates a per-agent range query to the store.
func (p *Processor) AgentMetrics(ctx context.Context, agentID string, lookback time.Duration) ([]*metric.Metric, error) {
	return p.store.AgentMetrics(ctx, agentID, lookback)
}

// DashboardSummary delegates the dashboard overview to the store.
func (p *Processor) DashboardSummary(ctx context.Context, lookback time.Duration) (*store.DashboardSummary, error) {
	return p.store.DashboardSummary(ctx, lookback)
}
