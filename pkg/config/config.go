package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for a hub
type Config struct {
	Hub         HubConfig         `yaml:"hub"`
	Mesh        MeshConfig        `yaml:"mesh"`
	Propagation PropagationConfig `yaml:"propagation"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	HTTPGateway HTTPGatewayConfig `yaml:"http_gateway"`
}

// HubConfig contains hub-wide settings
type HubConfig struct {
	DataDir  string `yaml:"data_dir"`
	AppName  string `yaml:"app_name"` // LXMF application name, aspects are "<app_name>.<aspect>"
	NodeName string `yaml:"node_name"`

	// OutboundPropagationNode pins a relay by hex destination hash. It is
	// used while a path to it is known; otherwise selection is automatic.
	OutboundPropagationNode string        `yaml:"outbound_propagation_node"`
	ReselectInterval        time.Duration `yaml:"reselect_interval"`
}

// MeshConfig contains the announce transport and hub-to-hub gossip settings
type MeshConfig struct {
	PathTTL        time.Duration `yaml:"path_ttl"`        // How long a learned path stays valid
	Gossip         bool          `yaml:"gossip"`          // Relay announces between hubs over libp2p
	ListenAddrs    []string      `yaml:"listen_addrs"`    // LibP2P listen addresses
	BootstrapPeers []string      `yaml:"bootstrap_peers"` // Hub addresses to connect to
	Namespace      string        `yaml:"namespace"`       // Gossip topic namespace
	IdentityFile   string        `yaml:"identity_file"`   // Persisted libp2p key, generated if missing
}

// PropagationConfig contains propagation node selection settings
type PropagationConfig struct {
	CandidateTTL  time.Duration `yaml:"candidate_ttl"`  // Announce freshness window
	SweepInterval time.Duration `yaml:"sweep_interval"` // Zero disables pruning of stale candidates
}

// DatabaseConfig contains announce history storage settings
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Driver        string `yaml:"driver"`         // sqlite3 or rqlite
	DSN           string `yaml:"dsn"`            // File path for sqlite3, http URL for rqlite
	HistoryBuffer int    `yaml:"history_buffer"` // Pending writes before new ones are dropped
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Colors     bool   `yaml:"colors"`      // ANSI colors on console output
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// HTTPGatewayConfig contains northbound API configuration
type HTTPGatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`     // Address to listen on (e.g., ":6001")
	RequestTimeout time.Duration `yaml:"request_timeout"` // Applies to non-streaming routes
	EventBuffer    int           `yaml:"event_buffer"`    // Per websocket client queue length
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			DataDir:          "./data",
			AppName:          "lxmf",
			NodeName:         "rnshub",
			ReselectInterval: 30 * time.Second,
		},
		Mesh: MeshConfig{
			PathTTL: 7 * 24 * time.Hour,
			Gossip:  false,
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4101",
			},
			BootstrapPeers: []string{},
			Namespace:      "rnshub",
		},
		Propagation: PropagationConfig{
			CandidateTTL:  time.Hour,
			SweepInterval: 0,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Driver:        "sqlite3",
			HistoryBuffer: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Colors: true,
		},
		HTTPGateway: HTTPGatewayConfig{
			Enabled:        true,
			ListenAddr:     ":6001",
			RequestTimeout: 30 * time.Second,
			EventBuffer:    64,
		},
	}
}

// LoadFile reads a YAML config file on top of the defaults. Unknown keys are
// rejected.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	if err := DecodeStrict(f, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DatabaseDSN returns the configured DSN, defaulting to rnshub.db under the
// data directory for sqlite3.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == "rqlite" {
		return "http://localhost:5001"
	}
	return filepath.Join(ExpandPath(c.Hub.DataDir), "rnshub.db")
}

// ParseMultiaddrs converts the listen addresses to multiaddr objects
func (m MeshConfig) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range m.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}
