// ABOUTME: Connection manager: admits agents, runs the per-connection protocol
// ABOUTME: state machine, and drives the ping/pong liveness sweep.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/pulse-gateway/internal/contract"
	"github.com/2389/pulse-gateway/internal/directory"
	"github.com/2389/pulse-gateway/internal/metric"
	"github.com/2389/pulse-gateway/internal/processor"
)

// ErrAgentNotConnected indicates a targeted send to an agent without a
// live connection.
var ErrAgentNotConnected = errors.New("agent not connected")

// DefaultLivenessInterval is the period of the ping/pong sweep. An agent
// silent for two consecutive ticks is disconnected.
const DefaultLivenessInterval = 30 * time.Second

// serverFeatures is advertised in the welcome message.
var serverFeatures = []string{"metrics", "commands", "liveness"}

// Options tune the connection manager. Zero fields use defaults.
type Options struct {
	AdmissionLimit   int
	AdmissionWindow  time.Duration
	LivenessInterval time.Duration
}

// Gateway admits agent connections, dispatches their messages to the
// processor and the directory, and closes peers that go silent.
type Gateway struct {
	directory *directory.Directory
	processor *processor.Processor
	limiter   *AddressLimiter
	logger    *slog.Logger

	serverID         string
	livenessInterval time.Duration

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a Gateway wired to the given directory and processor.
func New(dir *directory.Directory, proc *processor.Processor, opts Options, logger *slog.Logger) *Gateway {
	interval := opts.LivenessInterval
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	return &Gateway{
		directory:        dir,
		processor:        proc,
		limiter:          NewAddressLimiter(opts.AdmissionLimit, opts.AdmissionWindow),
		logger:           logger.With("component", "gateway"),
		serverID:         "pulse-gateway-" + uuid.New().String()[:8],
		livenessInterval: interval,
		conns:            make(map[string]*Conn),
	}
}

// HandleAgent upgrades an admitted HTTP request to the agent protocol.
// Admission failures (missing agent_id, rate limit) reject the request
// before the upgrade, so no protocol message is ever emitted for them.
// TODO: authentication beyond the admission gate.
func (g *Gateway) HandleAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id query parameter is required", http.StatusBadRequest)
		return
	}

	addr := remoteHost(r.RemoteAddr)
	if !g.limiter.Allow(addr) {
		g.logger.Warn("admission refused", "remote_addr", addr, "agent_id", agentID)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // browser origin checks don't apply to agents
	})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote_addr", addr, "error", err)
		return
	}

	conn := newConn(agentID, addr, ws, g.logger)
	g.admit(r.Context(), conn, r)
}

// admit registers the connection, sends the welcome, and runs the read
// loop until the connection closes.
func (g *Gateway) admit(ctx context.Context, conn *Conn, r *http.Request) {
	// Track before registering: registering terminates any replaced
	// connection, and its cleanup must already see itself superseded.
	g.trackConn(conn)
	defer g.releaseConn(conn)

	q := r.URL.Query()
	g.directory.Register(conn.agentID, directory.RegisterAttrs{
		Provider:   q.Get("provider"),
		Region:     q.Get("region"),
		Zone:       q.Get("zone"),
		RemoteAddr: conn.remoteAddr,
	}, conn)

	if err := conn.Send(ctx, TypeWelcome, &Welcome{
		ServerID:      g.serverID,
		ServerVersion: ServerVersion,
		Features:      serverFeatures,
	}); err != nil {
		g.logger.Warn("failed to send welcome", "agent_id", conn.agentID, "error", err)
		return
	}

	g.readLoop(ctx, conn)
}

// readLoop processes inbound envelopes in receipt order until the
// connection closes.
func (g *Gateway) readLoop(ctx context.Context, conn *Conn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn.ws, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				g.logger.Info("agent closed connection", "agent_id", conn.agentID)
			} else {
				g.logger.Debug("read loop ended", "agent_id", conn.agentID, "error", err)
			}
			return
		}
		g.dispatch(ctx, conn, &env)
	}
}

// dispatch routes one validated envelope. Validation failures and unknown
// types produce an error envelope; the connection stays open.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, env *Envelope) {
	msg, err := contract.ParseMessage(env.Type, env.Data)
	if err != nil {
		g.logger.Warn("rejected message",
			"agent_id", conn.agentID,
			"type", env.Type,
			"error", err,
		)
		conn.SendError(ctx, err.Error())
		return
	}

	switch m := msg.(type) {
	case *contract.Registration:
		g.handleRegistration(ctx, conn, m)
	case *contract.MetricsMessage:
		g.handleMetrics(ctx, conn, m)
	case *contract.StatusMessage:
		g.directory.Update(conn.agentID, directory.UpdateAttrs{Status: m.Status})
	case *contract.Pong:
		conn.MarkAlive()
		g.directory.Touch(conn.agentID)
	}
}

func (g *Gateway) handleRegistration(ctx context.Context, conn *Conn, reg *contract.Registration) {
	g.directory.Update(conn.agentID, directory.UpdateAttrs{
		Provider:         reg.Location.Provider,
		Region:           reg.Location.Region,
		Zone:             reg.Location.Zone,
		InstanceID:       reg.InstanceID,
		Version:          reg.Version,
		Capabilities:     reg.Capabilities,
		LastRegistration: time.Now().UTC(),
	})

	if err := conn.Send(ctx, TypeRegistrationAck, &RegistrationAck{
		Status:  "success",
		AgentID: conn.agentID,
	}); err != nil {
		g.logger.Warn("failed to send registration_ack", "agent_id", conn.agentID, "error", err)
	}
}

func (g *Gateway) handleMetrics(ctx context.Context, conn *Conn, msg *contract.MetricsMessage) {
	loc := g.resolveLocation(conn.agentID, msg)

	result, err := g.processor.ProcessMetrics(ctx, msg.AgentID, msg.Timestamp, loc, msg.Metrics)
	if err != nil {
		g.logger.Error("metrics processing failed",
			"agent_id", conn.agentID,
			"error", err,
		)
		conn.SendError(ctx, "failed to process metrics")
		return
	}

	g.directory.UpdateStats(conn.agentID, directory.StatsDelta{
		MetricsReceived: int64(result.Processed),
		Errors:          int64(result.Errors),
		LastMetricTime:  msg.Timestamp,
	})

	if err := conn.Send(ctx, TypeMetricsAck, &MetricsAck{
		Status:    "success",
		Processed: result.Processed,
		Errors:    result.Errors,
		Details:   result.Details,
	}); err != nil {
		g.logger.Warn("failed to send metrics_ack", "agent_id", conn.agentID, "error", err)
	}
}

// resolveLocation prefers the location declared in the message, falling
// back to the directory record seeded from the connection query params.
func (g *Gateway) resolveLocation(agentID string, msg *contract.MetricsMessage) metric.Location {
	if msg.Location != nil {
		return *msg.Location
	}
	if a, ok := g.directory.Get(agentID); ok {
		return a.Location()
	}
	return metric.Location{}
}

// Run drives the liveness sweep and admission-window pruning until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.livenessInterval)
	defer ticker.Stop()

	g.logger.Info("liveness sweep started", "interval", g.livenessInterval)

	for {
		select {
		case <-ctx.Done():
			g.closeAll()
			return
		case <-ticker.C:
			g.sweep(ctx)
			g.limiter.Prune()
			if n := g.directory.EvictStale(); n > 0 {
				g.logger.Info("evicted stale agents", "count", n)
			}
		}
	}
}

// sweep closes connections that missed a full ping/pong cycle and pings
// the rest. A connection's alive flag is cleared here and set again only
// by its next pong.
func (g *Gateway) sweep(ctx context.Context) {
	for _, conn := range g.snapshotConns() {
		if !conn.SweepAlive() {
			g.logger.Info("closing unresponsive connection", "agent_id", conn.agentID)
			_ = conn.Terminate()
			g.releaseConn(conn)
			continue
		}
		if err := conn.Send(ctx, TypePing, nil); err != nil {
			g.logger.Debug("ping failed", "agent_id", conn.agentID, "error", err)
		}
	}
}

// SendCommand delivers a command envelope to one connected agent.
func (g *Gateway) SendCommand(ctx context.Context, agentID string, cmd *Command) error {
	g.mu.RLock()
	conn, ok := g.conns[agentID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotConnected, agentID)
	}
	return conn.Send(ctx, TypeCommand, cmd)
}

// Broadcast delivers a command envelope to every connected agent,
// returning the number of successful sends.
func (g *Gateway) Broadcast(ctx context.Context, cmd *Command) int {
	sent := 0
	for _, conn := range g.snapshotConns() {
		if err := conn.Send(ctx, TypeCommand, cmd); err != nil {
			g.logger.Debug("broadcast send failed", "agent_id", conn.agentID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// ConnectionCount reports the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) trackConn(conn *Conn) {
	g.mu.Lock()
	g.conns[conn.agentID] = conn
	g.mu.Unlock()
}

// releaseConn unregisters a connection, but only if it is still the
// current one for its agent id: a re-admitted agent replaces the map
// entry, and the old connection's cleanup must not clobber the new one.
func (g *Gateway) releaseConn(conn *Conn) {
	g.mu.Lock()
	current, ok := g.conns[conn.agentID]
	if !ok || current != conn {
		g.mu.Unlock()
		return
	}
	delete(g.conns, conn.agentID)
	g.mu.Unlock()

	g.directory.Unregister(conn.agentID)
}

func (g *Gateway) snapshotConns() []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}

func (g *Gateway) closeAll() {
	for _, conn := range g.snapshotConns() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		g.releaseConn(conn)
	}
}

// remoteHost strips the port from a RemoteAddr so the admission window is
// keyed by address, not by ephemeral port.
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
