// ABOUTME: Concurrent-safe registry of connected agents with provider/region indexes.
// ABOUTME: Central bookkeeping for connection state, counters, and staleness eviction.

package directory

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/pulse-gateway/internal/metric"
)

// DefaultStaleAfter is the silence threshold after which an agent is
// considered disconnected and eligible for eviction.
const DefaultStaleAfter = 5 * time.Minute

// Agent status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusHealthy      = "healthy"
	StatusWarning      = "warning"
	StatusError        = "error"
	StatusStopped      = "stopped"
)

// Handle is the live transport attached to a registered agent. It is never
// exposed outside the connection manager; snapshots strip it.
type Handle interface {
	Terminate() error
}

// Counters accumulates per-agent traffic totals.
type Counters struct {
	Messages     int64     `json:"total_messages"`
	Metrics      int64     `json:"total_metrics"`
	Errors       int64     `json:"total_errors"`
	LastMetricAt time.Time `json:"last_metric_time"`
}

// Agent is one registered agent's directory record.
type Agent struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider,omitempty"`
	Region           string    `json:"region,omitempty"`
	Zone             string    `json:"zone,omitempty"`
	InstanceID       string    `json:"instance_id,omitempty"`
	RemoteAddr       string    `json:"remote_addr,omitempty"`
	Version          string    `json:"version,omitempty"`
	Capabilities     []string  `json:"capabilities,omitempty"`
	ConnectedAt      time.Time `json:"connected_at"`
	LastSeen         time.Time `json:"last_seen"`
	LastRegistration time.Time `json:"last_registration"`
	Status           string    `json:"status"`
	Counters         Counters  `json:"counters"`

	handle Handle
}

// Location returns the agent's location fields as a metric.Location.
func (a *Agent) Location() metric.Location {
	return metric.Location{Provider: a.Provider, Region: a.Region, Zone: a.Zone}
}

// snapshot copies the record with the transport handle stripped.
func (a *Agent) snapshot() *Agent {
	c := *a
	c.handle = nil
	c.Capabilities = slices.Clone(a.Capabilities)
	return &c
}

// RegisterAttrs seeds a new directory record.
type RegisterAttrs struct {
	Provider     string
	Region       string
	Zone         string
	InstanceID   string
	RemoteAddr   string
	Version      string
	Capabilities []string
}

// UpdateAttrs merges into an existing record. Nil/zero fields are left
// untouched.
type UpdateAttrs struct {
	Provider         string
	Region           string
	Zone             string
	InstanceID       string
	Version          string
	Capabilities     []string
	Status           string
	LastRegistration time.Time
}

// StatsDelta is one inbound message's contribution to an agent's counters.
type StatsDelta struct {
	MetricsReceived int64
	Errors          int64
	LastMetricTime  time.Time
}

// Stats is an aggregate snapshot of the directory.
type Stats struct {
	TotalAgents     int            `json:"total_agents"`
	ConnectedAgents int            `json:"connected_agents"`
	ByProvider      map[string]int `json:"by_provider"`
	ByRegion        map[string]int `json:"by_region"`
	Totals          Counters       `json:"totals"`
}

// Directory is the in-memory agent registry. One mutex guards the primary
// map and both secondary indexes, so every operation is a single critical
// section.
type Directory struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	byProvider map[string]map[string]struct{}
	byRegion   map[string]map[string]struct{}

	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Directory with the given staleness threshold. A zero
// threshold uses DefaultStaleAfter.
func New(staleAfter time.Duration, logger *slog.Logger) *Directory {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Directory{
		agents:     make(map[string]*Agent),
		byProvider: make(map[string]map[string]struct{}),
		byRegion:   make(map[string]map[string]struct{}),
		staleAfter: staleAfter,
		logger:     logger.With("component", "directory"),
		now:        time.Now,
	}
}

// Register inserts or overwrites the record for id. Overwriting releases
// the previous transport handle so a re-admitted agent never leaks its old
// connection. Returns a snapshot of the new record.
func (d *Directory) Register(id string, attrs RegisterAttrs, handle Handle) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, exists := d.agents[id]; exists {
		d.removeFromIndexesLocked(prev)
		if prev.handle != nil && prev.handle != handle {
			_ = prev.handle.Terminate()
		}
		d.logger.Warn("re-registering existing agent", "agent_id", id)
	}

	now := d.now()
	a := &Agent{
		ID:           id,
		Provider:     attrs.Provider,
		Region:       attrs.Region,
		Zone:         attrs.Zone,
		InstanceID:   attrs.InstanceID,
		RemoteAddr:   attrs.RemoteAddr,
		Version:      attrs.Version,
		Capabilities: slices.Clone(attrs.Capabilities),
		ConnectedAt:  now,
		LastSeen:     now,
		Status:       StatusConnected,
		handle:       handle,
	}
	d.agents[id] = a
	d.addToIndexesLocked(a)

	d.logger.Info("agent registered",
		"agent_id", id,
		"provider", attrs.Provider,
		"region", attrs.Region,
		"total_agents", len(d.agents),
	)
	return a.snapshot()
}

// Unregister removes the agent and its index entries. Unknown ids are a
// warned no-op, never an error: the directory stays available under
// inconsistent caller state.
func (d *Directory) Unregister(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, exists := d.agents[id]
	if !exists {
		d.logger.Warn("unregister of unknown agent", "agent_id", id)
		return false
	}

	d.removeFromIndexesLocked(a)
	delete(d.agents, id)

	d.logger.Info("agent unregistered", "agent_id", id, "total_agents", len(d.agents))
	return true
}

// Update merges partial attributes into an existing record and refreshes
// last-seen. Unknown ids are a warned no-op.
func (d *Directory) Update(id string, attrs UpdateAttrs) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, exists := d.agents[id]
	if !exists {
		d.logger.Warn("update of unknown agent", "agent_id", id)
		return false
	}

	if attrs.Provider != "" || attrs.Region != "" || attrs.Zone != "" {
		d.removeFromIndexesLocked(a)
		if attrs.Provider != "" {
			a.Provider = attrs.Provider
		}
		if attrs.Region != "" {
			a.Region = attrs.Region
		}
		if attrs.Zone != "" {
			a.Zone = attrs.Zone
		}
		d.addToIndexesLocked(a)
	}
	if attrs.InstanceID != "" {
		a.InstanceID = attrs.InstanceID
	}
	if attrs.Version != "" {
		a.Version = attrs.Version
	}
	if attrs.Capabilities != nil {
		a.Capabilities = slices.Clone(attrs.Capabilities)
	}
	if attrs.Status != "" {
		a.Status = attrs.Status
	}
	if !attrs.LastRegistration.IsZero() {
		a.LastRegistration = attrs.LastRegistration
	}
	a.LastSeen = d.now()
	return true
}

// UpdateStats applies one inbound message's counter deltas: the message
// count advances by one, metrics and errors by the given amounts.
func (d *Directory) UpdateStats(id string, delta StatsDelta) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, exists := d.agents[id]
	if !exists {
		d.logger.Warn("stats update for unknown agent", "agent_id", id)
		return false
	}

	a.Counters.Messages++
	a.Counters.Metrics += delta.MetricsReceived
	a.Counters.Errors += delta.Errors
	if !delta.LastMetricTime.IsZero() {
		a.Counters.LastMetricAt = delta.LastMetricTime
	}
	a.LastSeen = d.now()
	return true
}

// Touch refreshes last-seen without other changes (liveness replies).
func (d *Directory) Touch(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, exists := d.agents[id]
	if !exists {
		return false
	}
	a.LastSeen = d.now()
	return true
}

// Get returns a handle-stripped snapshot of one agent.
func (d *Directory) Get(id string) (*Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, exists := d.agents[id]
	if !exists {
		return nil, false
	}
	return a.snapshot(), true
}

// List returns snapshots of every registered agent.
func (d *Directory) List() []*Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a.snapshot())
	}
	return out
}

// ListByProvider returns snapshots of agents indexed under a provider.
func (d *Directory) ListByProvider(provider string) []*Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collectLocked(d.byProvider[provider])
}

// ListByRegion returns snapshots of agents indexed under a region.
func (d *Directory) ListByRegion(region string) []*Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collectLocked(d.byRegion[region])
}

func (d *Directory) collectLocked(ids map[string]struct{}) []*Agent {
	out := make([]*Agent, 0, len(ids))
	for id := range ids {
		if a, ok := d.agents[id]; ok {
			out = append(out, a.snapshot())
		}
	}
	return out
}

// Stats returns an aggregate snapshot across all agents.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		TotalAgents: len(d.agents),
		ByProvider:  make(map[string]int, len(d.byProvider)),
		ByRegion:    make(map[string]int, len(d.byRegion)),
	}
	for p, ids := range d.byProvider {
		s.ByProvider[p] = len(ids)
	}
	for r, ids := range d.byRegion {
		s.ByRegion[r] = len(ids)
	}
	for _, a := range d.agents {
		if a.Status == StatusConnected || a.Status == StatusHealthy {
			s.ConnectedAgents++
		}
		s.Totals.Messages += a.Counters.Messages
		s.Totals.Metrics += a.Counters.Metrics
		s.Totals.Errors += a.Counters.Errors
		if a.Counters.LastMetricAt.After(s.Totals.LastMetricAt) {
			s.Totals.LastMetricAt = a.Counters.LastMetricAt
		}
	}
	return s
}

// Healthy returns agents seen within the staleness threshold.
func (d *Directory) Healthy() []*Agent {
	healthy, _ := d.partition()
	return healthy
}

// Stale returns agents silent for at least the staleness threshold.
func (d *Directory) Stale() []*Agent {
	_, stale := d.partition()
	return stale
}

func (d *Directory) partition() (healthy, stale []*Agent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cutoff := d.now().Add(-d.staleAfter)
	for _, a := range d.agents {
		if a.LastSeen.After(cutoff) {
			healthy = append(healthy, a.snapshot())
		} else {
			stale = append(stale, a.snapshot())
		}
	}
	return healthy, stale
}

// EvictStale terminates and unregisters every stale agent, returning the
// number evicted. Transport close errors are swallowed: the peer is
// already gone. Idempotent when no new traffic arrives between calls.
func (d *Directory) EvictStale() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.staleAfter)
	evicted := 0
	for id, a := range d.agents {
		if a.LastSeen.After(cutoff) {
			continue
		}
		if a.handle != nil {
			_ = a.handle.Terminate()
		}
		d.removeFromIndexesLocked(a)
		delete(d.agents, id)
		evicted++
		d.logger.Info("evicted stale agent", "agent_id", id, "last_seen", a.LastSeen)
	}
	return evicted
}

func (d *Directory) addToIndexesLocked(a *Agent) {
	if a.Provider != "" {
		bucket, ok := d.byProvider[a.Provider]
		if !ok {
			bucket = make(map[string]struct{})
			d.byProvider[a.Provider] = bucket
		}
		bucket[a.ID] = struct{}{}
	}
	if a.Region != "" {
		bucket, ok := d.byRegion[a.Region]
		if !ok {
			bucket = make(map[string]struct{})
			d.byRegion[a.Region] = bucket
		}
		bucket[a.ID] = struct{}{}
	}
}

// removeFromIndexesLocked drops the agent from both indexes, deleting a
// bucket once it empties so no index degenerates into empty sets.
func (d *Directory) removeFromIndexesLocked(a *Agent) {
	if bucket, ok := d.byProvider[a.Provider]; ok {
		delete(bucket, a.ID)
		if len(bucket) == 0 {
			delete(d.byProvider, a.Provider)
		}
	}
	if bucket, ok := d.byRegion[a.Region]; ok {
		delete(bucket, a.ID)
		if len(bucket) == 0 {
			delete(d.byRegion, a.Region)
		}
	}
}
