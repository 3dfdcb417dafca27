// ABOUTME: Pure validation of inbound protocol messages against the wire contract.
// ABOUTME: Fail-fast, first-error-wins; returns normalized values or a field-level error.

package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/pulse-gateway/internal/metric"
)

// ValidationError names the first offending field of a rejected message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Message families carried in the envelope type field.
const (
	FamilyRegistration = "registration"
	FamilyMetrics      = "metrics"
	FamilyStatus       = "status"
	FamilyPong         = "pong"
)

// AgentStatuses is the set of statuses an agent may declare.
var AgentStatuses = map[string]bool{
	"connected":    true,
	"disconnected": true,
	"healthy":      true,
	"warning":      true,
	"error":        true,
	"stopped":      true,
}

// Registration is the normalized form of a registration message.
type Registration struct {
	AgentID      string          `json:"agent_id"`
	Version      string          `json:"version"`
	Location     metric.Location `json:"location"`
	InstanceID   string          `json:"instance_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Config       map[string]any  `json:"config,omitempty"`
}

// MetricsMessage is the normalized form of a metrics message. Entries are
// kept raw: per-metric semantics are the processor's concern, so a single
// malformed entry never rejects the whole message here.
type MetricsMessage struct {
	AgentID   string
	Timestamp time.Time
	Location  *metric.Location
	Metrics   []json.RawMessage
}

// StatusMessage is the normalized form of a status message.
type StatusMessage struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Pong is the normalized form of a heartbeat reply.
type Pong struct {
	Timestamp string `json:"timestamp,omitempty"`
}

// ParseMessage validates envelope data against the named family.
// Unknown families fail with an error naming the type.
func ParseMessage(msgType string, data json.RawMessage) (any, error) {
	switch msgType {
	case FamilyRegistration:
		return ParseRegistration(data)
	case FamilyMetrics:
		return ParseMetrics(data)
	case FamilyStatus:
		return ParseStatus(data)
	case FamilyPong:
		return ParsePong(data)
	default:
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}
}

// ParseRegistration validates a registration payload.
func ParseRegistration(data json.RawMessage) (*Registration, error) {
	var raw struct {
		AgentID  string `json:"agent_id"`
		Version  string `json:"version"`
		Location *struct {
			Provider   string `json:"provider"`
			Region     string `json:"region"`
			Zone       string `json:"zone"`
			InstanceID string `json:"instance_id"`
			IP         string `json:"ip"`
		} `json:"location"`
		Capabilities []string       `json:"capabilities"`
		Config       map[string]any `json:"config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("registration", "payload is not a JSON object")
	}

	if raw.AgentID == "" {
		return nil, invalid("agent_id", "required")
	}
	if raw.Version == "" {
		return nil, invalid("version", "required")
	}
	if raw.Location == nil {
		return nil, invalid("location", "required")
	}
	if !metric.KnownProviders[raw.Location.Provider] {
		return nil, invalid("location.provider", "must be one of gcp, aws, azure, on-premise, got %q", raw.Location.Provider)
	}
	if raw.Location.Region == "" {
		return nil, invalid("location.region", "required")
	}

	return &Registration{
		AgentID: raw.AgentID,
		Version: raw.Version,
		Location: metric.Location{
			Provider: raw.Location.Provider,
			Region:   raw.Location.Region,
			Zone:     raw.Location.Zone,
		},
		InstanceID:   raw.Location.InstanceID,
		IP:           raw.Location.IP,
		Capabilities: raw.Capabilities,
		Config:       raw.Config,
	}, nil
}

// ParseMetrics validates the envelope-level shape of a metrics payload:
// agent id, an ISO timestamp, and a non-empty metrics array.
func ParseMetrics(data json.RawMessage) (*MetricsMessage, error) {
	var raw struct {
		AgentID   string            `json:"agent_id"`
		Timestamp string            `json:"timestamp"`
		Location  *metric.Location  `json:"location"`
		Metrics   []json.RawMessage `json:"metrics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("metrics", "payload is not a JSON object")
	}

	if raw.AgentID == "" {
		return nil, invalid("agent_id", "required")
	}
	if raw.Timestamp == "" {
		return nil, invalid("timestamp", "required")
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, invalid("timestamp", "must be an ISO-8601 timestamp, got %q", raw.Timestamp)
	}
	if len(raw.Metrics) == 0 {
		return nil, invalid("metrics", "must be a non-empty array")
	}

	return &MetricsMessage{
		AgentID:   raw.AgentID,
		Timestamp: ts,
		Location:  raw.Location,
		Metrics:   raw.Metrics,
	}, nil
}

// ParseStatus validates a status payload.
func ParseStatus(data json.RawMessage) (*StatusMessage, error) {
	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, invalid("status", "payload is not a JSON object")
	}
	if msg.Status == "" {
		return nil, invalid("status", "required")
	}
	if !AgentStatuses[msg.Status] {
		return nil, invalid("status", "unknown status %q", msg.Status)
	}
	return &msg, nil
}

// ParsePong validates a heartbeat reply. The echoed timestamp is optional
// and only checked for parseability when present.
func ParsePong(data json.RawMessage) (*Pong, error) {
	var msg Pong
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalid("pong", "payload is not a JSON object")
		}
	}
	if msg.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
			return nil, invalid("timestamp", "must be an ISO-8601 timestamp, got %q", msg.Timestamp)
		}
	}
	return &msg, nil
}
