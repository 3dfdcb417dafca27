// ABOUTME: Wire envelope and payload types for the agent protocol.
// ABOUTME: JSON envelopes {type, data, timestamp} in both directions.

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/pulse-gateway/internal/processor"
)

// ServerVersion is reported in the welcome message.
const ServerVersion = "0.1.0"

// Server→agent envelope types. Agent→server types live in the contract
// package as message families.
const (
	TypeWelcome         = "welcome"
	TypeRegistrationAck = "registration_ack"
	TypeMetricsAck      = "metrics_ack"
	TypeError           = "error"
	TypePing            = "ping"
	TypeCommand         = "command"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// newEnvelope frames a payload with the current timestamp.
func newEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// Welcome is sent immediately after admission.
type Welcome struct {
	ServerID      string   `json:"server_id"`
	ServerVersion string   `json:"server_version"`
	Features      []string `json:"features"`
}

// RegistrationAck confirms a registration message.
type RegistrationAck struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
	Message string `json:"message,omitempty"`
}

// MetricsAck reports the outcome of one metrics message.
type MetricsAck struct {
	Status    string                 `json:"status"`
	Processed int                    `json:"processed"`
	Errors    int                    `json:"errors"`
	Details   []processor.ItemResult `json:"details,omitempty"`
}

// ErrorPayload carries a protocol-level error back to the agent. Internal
// details are never included.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Command is a server-initiated instruction to one or all agents.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}
