package config

import (
	"strings"
	"testing"
	"time"
)

const validPeer = "/ip4/127.0.0.1/tcp/4101/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj"

// validConfig returns a valid config rooted in a temp dir
func validConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Hub.DataDir = t.TempDir()
	cfg.Mesh.Gossip = true
	cfg.Mesh.BootstrapPeers = []string{validPeer}
	return cfg
}

func TestValidateDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hub.DataDir = t.TempDir()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config should be valid, got %v", errs)
	}
}

func TestValidateListenAddrs(t *testing.T) {
	tests := []struct {
		name        string
		addresses   []string
		shouldError bool
	}{
		{"valid single", []string{"/ip4/0.0.0.0/tcp/4101"}, false},
		{"valid ipv6", []string{"/ip6/::/tcp/4101"}, false},
		{"invalid port zero", []string{"/ip4/0.0.0.0/tcp/0"}, true},
		{"udp only", []string{"/ip4/0.0.0.0/udp/4101"}, true},
		{"invalid multiaddr", []string{"invalid"}, true},
		{"empty", []string{}, true},
		{"duplicate", []string{"/ip4/0.0.0.0/tcp/4101", "/ip4/0.0.0.0/tcp/4101"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Mesh.ListenAddrs = tt.addresses
			errs := cfg.Validate()
			if tt.shouldError && len(errs) == 0 {
				t.Errorf("expected error, got none")
			}
			if !tt.shouldError && len(errs) > 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestValidateListenAddrsSkippedWithoutGossip(t *testing.T) {
	cfg := validConfig(t)
	cfg.Mesh.Gossip = false
	cfg.Mesh.ListenAddrs = []string{"invalid"}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidateBootstrapPeers(t *testing.T) {
	tests := []struct {
		name        string
		peers       []string
		shouldError bool
	}{
		{"valid", []string{validPeer}, false},
		{"none", nil, false},
		{"missing p2p", []string{"/ip4/127.0.0.1/tcp/4101"}, true},
		{"missing tcp", []string{"/ip4/127.0.0.1/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj"}, true},
		{"garbage", []string{"not-a-peer"}, true},
		{"duplicate", []string{validPeer, validPeer}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Mesh.BootstrapPeers = tt.peers
			errs := cfg.Validate()
			if tt.shouldError && len(errs) == 0 {
				t.Errorf("expected error, got none")
			}
			if !tt.shouldError && len(errs) > 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestValidateHub(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"empty data dir", func(c *Config) { c.Hub.DataDir = "" }, "hub.data_dir"},
		{"dotted app name", func(c *Config) { c.Hub.AppName = "lxmf.delivery" }, "hub.app_name"},
		{"empty app name", func(c *Config) { c.Hub.AppName = "" }, "hub.app_name"},
		{"bad pinned node", func(c *Config) { c.Hub.OutboundPropagationNode = "xyz" }, "hub.outbound_propagation_node"},
		{"zero reselect", func(c *Config) { c.Hub.ReselectInterval = 0 }, "hub.reselect_interval"},
		{"zero candidate ttl", func(c *Config) { c.Propagation.CandidateTTL = 0 }, "propagation.candidate_ttl"},
		{"negative sweep", func(c *Config) { c.Propagation.SweepInterval = -time.Second }, "propagation.sweep_interval"},
		{"zero path ttl", func(c *Config) { c.Mesh.PathTTL = 0 }, "mesh.path_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasPath(errs, tt.path) {
				t.Errorf("expected error at %s, got %v", tt.path, errs)
			}
		})
	}
}

func TestValidatePinnedNode(t *testing.T) {
	cfg := validConfig(t)
	cfg.Hub.OutboundPropagationNode = "a1b2c3d4e5f60718293a4b5c6d7e8f90"
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name        string
		driver      string
		dsn         string
		shouldError bool
	}{
		{"sqlite default", "sqlite3", "", false},
		{"sqlite path", "sqlite3", "/tmp/hub.db", false},
		{"rqlite url", "rqlite", "http://localhost:5001", false},
		{"rqlite bad url", "rqlite", "localhost:5001", true},
		{"unknown driver", "postgres", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Database.Driver = tt.driver
			cfg.Database.DSN = tt.dsn
			errs := cfg.Validate()
			if tt.shouldError && len(errs) == 0 {
				t.Errorf("expected error, got none")
			}
			if !tt.shouldError && len(errs) > 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestValidateLoggingAndGateway(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "verbose"
	cfg.HTTPGateway.ListenAddr = "6001"
	cfg.HTTPGateway.EventBuffer = 0

	errs := cfg.Validate()
	for _, path := range []string{"logging.level", "http_gateway.listen_addr", "http_gateway.event_buffer"} {
		if !hasPath(errs, path) {
			t.Errorf("expected error at %s, got %v", path, errs)
		}
	}
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Path: "a.b", Message: "bad", Hint: "try c"}
	if got := err.Error(); got != "a.b: bad; try c" {
		t.Errorf("unexpected format %q", got)
	}
	err.Hint = ""
	if got := err.Error(); got != "a.b: bad" {
		t.Errorf("unexpected format %q", got)
	}
}

func hasPath(errs []error, path string) bool {
	for _, err := range errs {
		if strings.HasPrefix(err.Error(), path+":") {
			return true
		}
	}
	return false
}
