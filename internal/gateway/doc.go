// ABOUTME: Package documentation for the connection manager.
// ABOUTME: Describes the protocol state machine and its collaborators.

// Package gateway accepts long-lived WebSocket connections from monitoring
// agents and runs the per-connection protocol state machine.
//
// A connection moves through admission (rate limit + agent_id check before
// the upgrade), registration in the agent directory, a welcome message, and
// then a read loop that dispatches metrics to the processor and
// registration/status/pong messages to the directory. A periodic liveness
// sweep pings every connection and closes those that missed a full
// ping/pong cycle. The package also exposes the HTTP read API over the
// directory and the metric store.
package gateway
