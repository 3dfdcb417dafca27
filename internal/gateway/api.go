// ABOUTME: HTTP read API over the directory and the metric store, plus the
// ABOUTME: command/broadcast endpoints for server-initiated messages.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/2389/pulse-gateway/internal/contract"
	"github.com/2389/pulse-gateway/internal/directory"
	"github.com/2389/pulse-gateway/internal/metric"
	"github.com/2389/pulse-gateway/internal/store"
)

// defaultLookback bounds range queries when the caller gives none.
const defaultLookback = time.Hour

// RegisterRoutes mounts the agent endpoint and the read API on mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/agent", g.HandleAgent)

	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	mux.HandleFunc("GET /api/agents/{id}/metrics", g.handleAgentMetrics)
	mux.HandleFunc("POST /api/agents/{id}/command", g.handleAgentCommand)
	mux.HandleFunc("GET /api/metrics", g.handleListMetrics)
	mux.HandleFunc("GET /api/metrics/aggregate", g.handleAggregateMetrics)
	mux.HandleFunc("GET /api/dashboard", g.handleDashboard)
	mux.HandleFunc("GET /api/health", g.handleHealth)
	mux.HandleFunc("POST /api/broadcast", g.handleBroadcast)
}

// HealthSummary is the JSON response for GET /api/health.
type HealthSummary struct {
	Status      string          `json:"status"`
	ServerID    string          `json:"server_id"`
	Timestamp   string          `json:"timestamp"`
	Connections int             `json:"connections"`
	Agents      directory.Stats `json:"agents"`
	Queue       json.RawMessage `json:"queue"`
}

// CommandRequest is the JSON request body for command and broadcast posts.
type CommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := contract.AgentFilter{
		Status:   q.Get("status"),
		Provider: q.Get("provider"),
		Region:   q.Get("region"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if err := filter.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var agents []*directory.Agent
	switch {
	case filter.Provider != "":
		agents = g.directory.ListByProvider(filter.Provider)
	case filter.Region != "":
		agents = g.directory.ListByRegion(filter.Region)
	default:
		agents = g.directory.List()
	}

	if filter.Status != "" {
		kept := agents[:0]
		for _, a := range agents {
			if a.Status == filter.Status {
				kept = append(kept, a)
			}
		}
		agents = kept
	}

	// Stable order so pagination is deterministic.
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	agents = page(agents, filter.Offset, filter.Limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := g.directory.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (g *Gateway) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	lookback, err := queryLookback(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "range must be a duration like 1h or 30m")
		return
	}

	rows, err := g.processor.AgentMetrics(r.Context(), r.PathValue("id"), lookback)
	if err != nil {
		g.logger.Error("agent metrics query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": rows,
		"count":   len(rows),
	})
}

func (g *Gateway) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	filter, err := metricFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := filter.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := g.processor.Metrics(r.Context(), storeFilter(filter))
	if err != nil {
		g.logger.Error("metrics query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": rows,
		"count":   len(rows),
	})
}

func (g *Gateway) handleAggregateMetrics(w http.ResponseWriter, r *http.Request) {
	filter, err := metricFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := contract.AggregateParams{
		MetricFilter: *filter,
		Aggregation:  r.URL.Query().Get("aggregation"),
		Interval:     r.URL.Query().Get("interval"),
	}
	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := g.processor.AggregatedMetrics(r.Context(),
		storeFilter(&params.MetricFilter),
		store.Aggregation(params.Aggregation),
		store.Interval(params.Interval),
	)
	if err != nil {
		g.logger.Error("aggregation query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"aggregation": params.Aggregation,
		"interval":    params.Interval,
		"buckets":     rows,
		"count":       len(rows),
	})
}

func (g *Gateway) handleDashboard(w http.ResponseWriter, r *http.Request) {
	lookback, err := queryLookback(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "range must be a duration like 1h or 30m")
		return
	}

	summary, err := g.processor.DashboardSummary(r.Context(), lookback)
	if err != nil {
		g.logger.Error("dashboard query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	queue, err := json.Marshal(g.processor.QueueStats())
	if err != nil {
		queue = []byte("{}")
	}
	writeJSON(w, http.StatusOK, &HealthSummary{
		Status:      "ok",
		ServerID:    g.serverID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: g.ConnectionCount(),
		Agents:      g.directory.Stats(),
		Queue:       queue,
	})
}

func (g *Gateway) handleAgentCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	agentID := r.PathValue("id")
	err := g.SendCommand(r.Context(), agentID, &Command{Command: req.Command, Params: req.Params})
	if errors.Is(err, ErrAgentNotConnected) {
		writeError(w, http.StatusNotFound, "agent not connected")
		return
	}
	if err != nil {
		g.logger.Error("command send failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "agent_id": agentID})
}

func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	sent := g.Broadcast(r.Context(), &Command{Command: req.Command, Params: req.Params})
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "recipients": sent})
}

// metricFilterFromQuery decodes the shared metric filter query parameters.
func metricFilterFromQuery(r *http.Request) (*contract.MetricFilter, error) {
	q := r.URL.Query()
	filter := &contract.MetricFilter{
		AgentID:  q.Get("agent_id"),
		Provider: q.Get("provider"),
		Region:   q.Get("region"),
		Name:     q.Get("name"),
		Type:     q.Get("type"),
	}

	var err error
	if filter.Since, err = queryTime(q.Get("since")); err != nil {
		return nil, errors.New("since must be an RFC3339 timestamp")
	}
	if filter.Until, err = queryTime(q.Get("until")); err != nil {
		return nil, errors.New("until must be an RFC3339 timestamp")
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return nil, errors.New("limit must be an integer")
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		return nil, errors.New("offset must be an integer")
	}
	return filter, nil
}

func storeFilter(f *contract.MetricFilter) store.Filter {
	return store.Filter{
		AgentID:  f.AgentID,
		Provider: f.Provider,
		Region:   f.Region,
		Name:     f.Name,
		Type:     metric.Type(f.Type),
		Since:    f.Since,
		Until:    f.Until,
		Limit:    f.Limit,
		Offset:   f.Offset,
	}
}

func page(agents []*directory.Agent, offset, limit int) []*directory.Agent {
	if offset >= len(agents) {
		return []*directory.Agent{}
	}
	agents = agents[offset:]
	if limit > 0 && limit < len(agents) {
		agents = agents[:limit]
	}
	return agents
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func queryTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func queryLookback(s string) (time.Duration, error) {
	if s == "" {
		return defaultLookback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid range")
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
