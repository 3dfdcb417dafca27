// ABOUTME: Configuration loading and parsing for pulse-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pulse-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the listen address for the HTTP/WebSocket server
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds agent liveness and staleness timing
type AgentsConfig struct {
	StaleAfter       time.Duration `yaml:"-"`
	LivenessInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StaleAfterRaw       string `yaml:"stale_after"`
	LivenessIntervalRaw string `yaml:"liveness_interval"`
}

// IngestConfig holds the metric pipeline tunables
type IngestConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	ChunkSize       int           `yaml:"chunk_size"`
	RetentionDays   int           `yaml:"retention_days"`
	FlushInterval   time.Duration `yaml:"-"`
	ChunkPause      time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	FlushIntervalRaw   string `yaml:"flush_interval"`
	ChunkPauseRaw      string `yaml:"chunk_pause"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// LimitsConfig holds the connection admission gate parameters
type LimitsConfig struct {
	AdmissionLimit     int           `yaml:"admission_limit"`
	AdmissionWindow    time.Duration `yaml:"-"`
	AdmissionWindowRaw string        `yaml:"admission_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default creates a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "localhost:8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "pulse-gateway.db"
	}
	if c.Agents.StaleAfter <= 0 {
		c.Agents.StaleAfter = 5 * time.Minute
	}
	if c.Agents.LivenessInterval <= 0 {
		c.Agents.LivenessInterval = 30 * time.Second
	}
	if c.Ingest.QueueCapacity <= 0 {
		c.Ingest.QueueCapacity = 10000
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 100
	}
	if c.Ingest.RetentionDays <= 0 {
		c.Ingest.RetentionDays = 30
	}
	if c.Ingest.FlushInterval <= 0 {
		c.Ingest.FlushInterval = 5 * time.Second
	}
	if c.Ingest.ChunkPause <= 0 {
		c.Ingest.ChunkPause = 50 * time.Millisecond
	}
	if c.Ingest.CleanupInterval <= 0 {
		c.Ingest.CleanupInterval = time.Hour
	}
	if c.Limits.AdmissionLimit <= 0 {
		c.Limits.AdmissionLimit = 100
	}
	if c.Limits.AdmissionWindow <= 0 {
		c.Limits.AdmissionWindow = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Agents.StaleAfterRaw, "agents.stale_after", &cfg.Agents.StaleAfter},
		{cfg.Agents.LivenessIntervalRaw, "agents.liveness_interval", &cfg.Agents.LivenessInterval},
		{cfg.Ingest.FlushIntervalRaw, "ingest.flush_interval", &cfg.Ingest.FlushInterval},
		{cfg.Ingest.ChunkPauseRaw, "ingest.chunk_pause", &cfg.Ingest.ChunkPause},
		{cfg.Ingest.CleanupIntervalRaw, "ingest.cleanup_interval", &cfg.Ingest.CleanupInterval},
		{cfg.Limits.AdmissionWindowRaw, "limits.admission_window", &cfg.Limits.AdmissionWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
