// ABOUTME: Minimal fake telemetry agent for exercising pulse-gateway
// ABOUTME: Connects over WebSocket, registers, answers pings, and pushes synthetic metrics

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/pulse-gateway/internal/gateway"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway address (host:port)")
	agentID := flag.String("id", "", "agent ID (random if empty)")
	provider := flag.String("provider", "gcp", "cloud provider to report")
	region := flag.String("region", "us-central1", "region to report")
	zone := flag.String("zone", "", "zone to report")
	interval := flag.Duration("interval", 10*time.Second, "metric push interval")
	flag.Parse()

	if *agentID == "" {
		*agentID = "fake-agent-" + uuid.New().String()[:8]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *agentID, *provider, *region, *zone, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, agentID, provider, region, zone string, interval time.Duration) error {
	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("provider", provider)
	q.Set("region", region)
	if zone != "" {
		q.Set("zone", zone)
	}
	wsURL := fmt.Sprintf("ws://%s/ws/agent?%s", addr, q.Encode())

	log.Printf("connecting to %s as %s", addr, agentID)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.CloseNow()

	if err := send(ctx, conn, "registration", map[string]any{
		"agent_id": agentID,
		"version":  version,
		"location": map[string]string{
			"provider":    provider,
			"region":      region,
			"zone":        zone,
			"instance_id": "fake-" + agentID,
		},
		"capabilities": []string{"metrics"},
	}); err != nil {
		return fmt.Errorf("sending registration: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Incoming envelopes land on a channel so the main loop can also
	// drive the push ticker.
	incoming := make(chan gateway.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			var env gateway.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	var requestsTotal float64
	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			conn.Close(websocket.StatusNormalClosure, "agent exiting")
			return nil

		case err := <-readErr:
			if websocket.CloseStatus(err) != -1 {
				log.Printf("gateway closed connection: %v", err)
				return nil
			}
			return fmt.Errorf("reading from gateway: %w", err)

		case env := <-incoming:
			if err := handleEnvelope(ctx, conn, agentID, env); err != nil {
				return err
			}

		case <-ticker.C:
			requestsTotal += float64(rand.Intn(50))
			if err := pushMetrics(ctx, conn, agentID, requestsTotal); err != nil {
				return fmt.Errorf("pushing metrics: %w", err)
			}
		}
	}
}

func handleEnvelope(ctx context.Context, conn *websocket.Conn, agentID string, env gateway.Envelope) error {
	switch env.Type {
	case gateway.TypeWelcome:
		var w gateway.Welcome
		if err := json.Unmarshal(env.Data, &w); err == nil {
			log.Printf("welcome from %s (v%s), features: %v", w.ServerID, w.ServerVersion, w.Features)
		}
	case gateway.TypeRegistrationAck:
		var ack gateway.RegistrationAck
		if err := json.Unmarshal(env.Data, &ack); err == nil {
			log.Printf("registered: %s", ack.Status)
		}
	case gateway.TypeMetricsAck:
		var ack gateway.MetricsAck
		if err := json.Unmarshal(env.Data, &ack); err == nil {
			log.Printf("metrics ack: processed=%d errors=%d", ack.Processed, ack.Errors)
		}
	case gateway.TypePing:
		return send(ctx, conn, "pong", map[string]any{"agent_id": agentID})
	case gateway.TypeCommand:
		var cmd gateway.Command
		if err := json.Unmarshal(env.Data, &cmd); err == nil {
			log.Printf("command received: %s", cmd.Command)
		}
	case gateway.TypeError:
		var e gateway.ErrorPayload
		if err := json.Unmarshal(env.Data, &e); err == nil {
			log.Printf("gateway error: %s", e.Error)
		}
	default:
		log.Printf("unhandled message type: %s", env.Type)
	}
	return nil
}

func pushMetrics(ctx context.Context, conn *websocket.Conn, agentID string, requestsTotal float64) error {
	now := time.Now().UTC()
	return send(ctx, conn, "metrics", map[string]any{
		"agent_id":  agentID,
		"timestamp": now.Format(time.RFC3339),
		"metrics": []map[string]any{
			{
				"name":  "cpu.usage",
				"type":  "gauge",
				"value": 20 + rand.Float64()*60,
				"unit":  "percent",
			},
			{
				"name":  "memory.used",
				"type":  "gauge",
				"value": 512 + rand.Float64()*1024,
				"unit":  "megabytes",
			},
			{
				"name":  "requests.total",
				"type":  "counter",
				"value": requestsTotal,
				"tags":  map[string]string{"source": "synthetic"},
			},
		},
	})
}

func send(ctx context.Context, conn *websocket.Conn, msgType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", msgType, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, gateway.Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
