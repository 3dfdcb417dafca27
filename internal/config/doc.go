// Package config handles configuration loading for pulse-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PULSE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/pulse/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${PULSE_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  stale_after: "5m"
//	  liveness_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"  # Agent connections and read API
//
// Database:
//
//	database:
//	  path: "/var/lib/pulse/gateway.db"
//
// Agent timing:
//
//	agents:
//	  stale_after: "5m"
//	  liveness_interval: "30s"
//
// Ingest pipeline:
//
//	ingest:
//	  queue_capacity: 10000
//	  chunk_size: 100
//	  flush_interval: "5s"
//	  chunk_pause: "50ms"
//	  retention_days: 30
//	  cleanup_interval: "1h"
//
// Admission gate:
//
//	limits:
//	  admission_limit: 100
//	  admission_window: "60s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
