// ABOUTME: Core domain types for telemetry ingestion: metric points, batches, locations.
// ABOUTME: Shared by the contract validator, processor, store, and gateway packages.

package metric

import (
	"fmt"
	"time"
)

// Type identifies how a metric's value is shaped and aggregated.
type Type string

// Supported metric types.
const (
	TypeGauge     Type = "gauge"
	TypeCounter   Type = "counter"
	TypeHistogram Type = "histogram"
	TypeTimer     Type = "timer"
)

// ParseType validates a raw metric type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeGauge, TypeCounter, TypeHistogram, TypeTimer:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown metric type %q", s)
	}
}

// Scalar reports whether the type carries a plain numeric value.
// Histogram and timer values carry the structured form instead.
func (t Type) Scalar() bool {
	return t == TypeGauge || t == TypeCounter
}

// KnownProviders is the set of accepted cloud providers for agent locations.
var KnownProviders = map[string]bool{
	"gcp":        true,
	"aws":        true,
	"azure":      true,
	"on-premise": true,
}

// Location describes where an agent (and therefore its metrics) runs.
type Location struct {
	Provider string `json:"provider,omitempty"`
	Region   string `json:"region,omitempty"`
	Zone     string `json:"zone,omitempty"`
}

// Metric is a single enriched metric point ready for persistence.
// Immutable once handed to the store.
type Metric struct {
	AgentID    string            `json:"agent_id"`
	Name       string            `json:"name"`
	Type       Type              `json:"type"`
	Value      Value             `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Location   Location          `json:"location"`
	Timestamp  time.Time         `json:"timestamp"`
	ReceivedAt time.Time         `json:"received_at"`
}

// BatchRecord is the audit row summarizing the outcome of one inbound
// metrics message. processed + errors always equals total.
type BatchRecord struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Location  Location  `json:"location"`
	Total     int       `json:"total_metrics"`
	Processed int       `json:"processed"`
	Errors    int       `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
}
