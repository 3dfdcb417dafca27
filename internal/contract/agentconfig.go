// ABOUTME: Declarative validation of agent configuration documents.
// ABOUTME: Constraints live in a data table so the contract stays centralized and testable.

package contract

import (
	"encoding/json"
)

// AgentConfig is a validated agent-side collection configuration, as pushed
// to agents via command messages or carried in a registration payload.
type AgentConfig struct {
	CollectionIntervalSec   int         `json:"collection_interval"`
	TransmissionIntervalSec int         `json:"transmission_interval"`
	BatchSize               int         `json:"batch_size"`
	RetryPolicy             RetryPolicy `json:"retry_policy"`
	Targets                 []string    `json:"targets,omitempty"`
	Filters                 []string    `json:"filters,omitempty"`
}

// RetryPolicy bounds agent-side retransmission behavior.
type RetryPolicy struct {
	MaxRetries int `json:"max_retries"`
	BackoffSec int `json:"backoff"`
}

// numericConstraint is one row of the config contract: a named integer
// field with inclusive bounds.
type numericConstraint struct {
	field    string
	required bool
	min      int
	max      int
	get      func(*AgentConfig) int
}

var agentConfigConstraints = []numericConstraint{
	{"collection_interval", true, 1, 3600, func(c *AgentConfig) int { return c.CollectionIntervalSec }},
	{"transmission_interval", true, 1, 3600, func(c *AgentConfig) int { return c.TransmissionIntervalSec }},
	{"batch_size", true, 1, 10000, func(c *AgentConfig) int { return c.BatchSize }},
	{"retry_policy.max_retries", false, 0, 100, func(c *AgentConfig) int { return c.RetryPolicy.MaxRetries }},
	{"retry_policy.backoff", false, 0, 600, func(c *AgentConfig) int { return c.RetryPolicy.BackoffSec }},
}

// ParseAgentConfig validates a raw configuration document against the
// constraint table, first error wins.
func ParseAgentConfig(data json.RawMessage) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, invalid("config", "document is not a JSON object")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the constraint table to an already-decoded config.
func (c *AgentConfig) Validate() error {
	for _, con := range agentConfigConstraints {
		v := con.get(c)
		if v == 0 && !con.required {
			continue
		}
		if v == 0 && con.required {
			return invalid(con.field, "required")
		}
		if v < con.min || v > con.max {
			return invalid(con.field, "must be between %d and %d, got %d", con.min, con.max, v)
		}
	}
	for i, target := range c.Targets {
		if target == "" {
			return invalid("targets", "entry %d is empty", i)
		}
	}
	for i, filter := range c.Filters {
		if filter == "" {
			return invalid("filters", "entry %d is empty", i)
		}
	}
	return nil
}
