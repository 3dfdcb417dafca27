// ABOUTME: Represents one connected agent's WebSocket and its liveness flag.
// ABOUTME: Implements the directory transport handle so eviction can close it.

package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// sendTimeout bounds every server-initiated write so a stalled peer can't
// block the liveness sweep or a broadcast.
const sendTimeout = 5 * time.Second

// Conn wraps one agent's WebSocket. Writes are safe for concurrent use;
// the read loop owns the receive side.
type Conn struct {
	agentID    string
	remoteAddr string

	ws     *websocket.Conn
	logger *slog.Logger

	// alive is set by pong receipt and cleared by each liveness sweep.
	// A connection found cleared on the next sweep missed a full cycle.
	alive atomic.Bool
}

func newConn(agentID, remoteAddr string, ws *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		agentID:    agentID,
		remoteAddr: remoteAddr,
		ws:         ws,
		logger:     logger,
	}
	c.alive.Store(true)
	return c
}

// Send frames a payload and writes it to the agent.
func (c *Conn) Send(ctx context.Context, msgType string, payload any) error {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}

// SendError reports a protocol failure without closing the connection.
func (c *Conn) SendError(ctx context.Context, message string) {
	if err := c.Send(ctx, TypeError, &ErrorPayload{Error: message}); err != nil {
		c.logger.Debug("failed to send error envelope", "agent_id", c.agentID, "error", err)
	}
}

// MarkAlive records a liveness signal (pong or any inbound traffic).
func (c *Conn) MarkAlive() {
	c.alive.Store(true)
}

// SweepAlive clears the liveness flag, returning whether it was set.
func (c *Conn) SweepAlive() bool {
	return c.alive.Swap(false)
}

// Terminate closes the connection immediately without a close handshake.
// It is called under the directory lock during eviction, so it must not
// block waiting for the peer.
func (c *Conn) Terminate() error {
	return c.ws.CloseNow()
}

// Close performs an orderly close with the given status.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
