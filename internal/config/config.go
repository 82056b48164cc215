// Package config loads and validates the StateRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haidar-ali/staterelay/internal/model"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// PeerURL is the WebSocket endpoint of the peer to sync with
	// (e.g. "ws://desktop.local:9500/sync"). Required for the daemon and
	// sync-once commands; ignored by serve.
	PeerURL string `yaml:"peer_url"`

	// ListenAddr is the host:port the serve command binds to.
	// Defaults to ":9500".
	ListenAddr string `yaml:"listen_addr"`

	// SyncInterval controls how often a batch sync runs even when no
	// immediate-priority change arrived. Minimum 1s, maximum 5m.
	// Defaults to 15s if unset.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// Entities lists the entity types to sync, each with its priority and
	// strategy. Example:
	//   entities:
	//     - type: conversation
	//       priority: 100
	//       strategy: immediate
	Entities []EntityConfig `yaml:"entities"`

	// SnapshotDB overrides the snapshot database path.
	// Defaults to ~/.local/share/staterelay/state.db.
	SnapshotDB string `yaml:"snapshot_db,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// EntityConfig declares one synced entity type.
type EntityConfig struct {
	// Type is the entity type name ("conversation", "board", "workspace").
	Type string `yaml:"type"`

	// Priority orders outgoing patches; higher drains first.
	Priority int `yaml:"priority"`

	// Strategy is one of "immediate", "batch", or "lazy".
	Strategy string `yaml:"strategy"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "staterelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/staterelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "staterelay", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.PeerURL != "" {
		u, err := url.ParseRequestURI(c.PeerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("peer_url %q must be a valid ws or wss URL", c.PeerURL)
		}
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":9500"
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 15 * time.Second
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync_interval %v is too short (minimum 1s)", c.SyncInterval)
	}
	if c.SyncInterval > 5*time.Minute {
		return fmt.Errorf("sync_interval %v is too long (maximum 5m)", c.SyncInterval)
	}

	if len(c.Entities) == 0 {
		return fmt.Errorf("entities must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if e.Type == "" {
			return fmt.Errorf("entities[%d] has an empty type", i)
		}
		if seen[e.Type] {
			return fmt.Errorf("entities contains duplicate type %q", e.Type)
		}
		seen[e.Type] = true
		if _, err := model.ParseStrategy(e.Strategy); err != nil {
			return fmt.Errorf("entities[%q]: %w", e.Type, err)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
