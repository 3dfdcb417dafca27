// ABOUTME: Tests for inbound message validation.
// ABOUTME: Covers all four message families plus unknown-type rejection.

package contract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistration_Valid(t *testing.T) {
	data := json.RawMessage(`{
		"agent_id": "agent-1",
		"version": "1.4.0",
		"location": {"provider": "gcp", "region": "us-central1", "zone": "us-central1-a", "instance_id": "i-123"},
		"capabilities": ["cpu", "memory"]
	}`)

	reg, err := ParseRegistration(data)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", reg.AgentID)
	assert.Equal(t, "1.4.0", reg.Version)
	assert.Equal(t, "gcp", reg.Location.Provider)
	assert.Equal(t, "us-central1", reg.Location.Region)
	assert.Equal(t, "us-central1-a", reg.Location.Zone)
	assert.Equal(t, "i-123", reg.InstanceID)
	assert.Equal(t, []string{"cpu", "memory"}, reg.Capabilities)
}

func TestParseRegistration_FirstErrorWins(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		field string
	}{
		{"missing agent_id", `{"version":"1.0","location":{"provider":"aws","region":"eu-west-1"}}`, "agent_id"},
		{"missing version", `{"agent_id":"a","location":{"provider":"aws","region":"eu-west-1"}}`, "version"},
		{"missing location", `{"agent_id":"a","version":"1.0"}`, "location"},
		{"bad provider", `{"agent_id":"a","version":"1.0","location":{"provider":"digitalocean","region":"x"}}`, "location.provider"},
		{"missing region", `{"agent_id":"a","version":"1.0","location":{"provider":"aws"}}`, "location.region"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRegistration(json.RawMessage(tc.data))
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestParseMetrics_Valid(t *testing.T) {
	data := json.RawMessage(`{
		"agent_id": "agent-1",
		"timestamp": "2026-08-30T10:00:00Z",
		"location": {"provider": "aws", "region": "eu-west-1"},
		"metrics": [{"name": "cpu.usage", "type": "gauge", "value": 42}]
	}`)

	msg, err := ParseMetrics(data)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", msg.AgentID)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), msg.Timestamp)
	require.NotNil(t, msg.Location)
	assert.Equal(t, "aws", msg.Location.Provider)
	assert.Len(t, msg.Metrics, 1)
}

func TestParseMetrics_MalformedEntryIsNotRejectedHere(t *testing.T) {
	// Per-entry semantics belong to the processor: one bad entry must not
	// fail the whole message at the contract layer.
	data := json.RawMessage(`{
		"agent_id": "agent-1",
		"timestamp": "2026-08-30T10:00:00Z",
		"metrics": [{"name": "cpu.usage", "type": "gauge", "value": 42}, {"name": "no.type"}]
	}`)

	msg, err := ParseMetrics(data)
	require.NoError(t, err)
	assert.Len(t, msg.Metrics, 2)
}

func TestParseMetrics_EnvelopeErrors(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		field string
	}{
		{"missing agent_id", `{"timestamp":"2026-08-30T10:00:00Z","metrics":[{}]}`, "agent_id"},
		{"missing timestamp", `{"agent_id":"a","metrics":[{}]}`, "timestamp"},
		{"bad timestamp", `{"agent_id":"a","timestamp":"yesterday","metrics":[{}]}`, "timestamp"},
		{"empty metrics", `{"agent_id":"a","timestamp":"2026-08-30T10:00:00Z","metrics":[]}`, "metrics"},
		{"missing metrics", `{"agent_id":"a","timestamp":"2026-08-30T10:00:00Z"}`, "metrics"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMetrics(json.RawMessage(tc.data))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestParseStatus(t *testing.T) {
	msg, err := ParseStatus(json.RawMessage(`{"status":"healthy","message":"all good"}`))
	require.NoError(t, err)
	assert.Equal(t, "healthy", msg.Status)
	assert.Equal(t, "all good", msg.Message)

	_, err = ParseStatus(json.RawMessage(`{"status":"sleepy"}`))
	assert.ErrorContains(t, err, "sleepy")

	_, err = ParseStatus(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestParsePong(t *testing.T) {
	msg, err := ParsePong(json.RawMessage(`{"timestamp":"2026-08-30T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30T10:00:00Z", msg.Timestamp)

	_, err = ParsePong(json.RawMessage(`{}`))
	assert.NoError(t, err)

	_, err = ParsePong(json.RawMessage(`{"timestamp":"noon"}`))
	assert.Error(t, err)
}

func TestParseMessage_UnknownTypeNamesTheType(t *testing.T) {
	_, err := ParseMessage("telemetry", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry")
}

func TestParseMessage_DispatchesFamilies(t *testing.T) {
	out, err := ParseMessage(FamilyStatus, json.RawMessage(`{"status":"warning"}`))
	require.NoError(t, err)
	status, ok := out.(*StatusMessage)
	require.True(t, ok)
	assert.Equal(t, "warning", status.Status)
}
