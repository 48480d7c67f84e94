package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "mesh.bootstrap_peers[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateHub()...)
	errs = append(errs, c.validateMesh()...)
	errs = append(errs, c.validatePropagation()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateHTTPGateway()...)

	return errs
}

func (c *Config) validateHub() []error {
	var errs []error
	hc := c.Hub

	if err := validateDataDir(hc.DataDir); err != nil {
		errs = append(errs, ValidationError{
			Path:    "hub.data_dir",
			Message: err.Error(),
		})
	}

	if hc.AppName == "" || strings.ContainsAny(hc.AppName, ". ") {
		errs = append(errs, ValidationError{
			Path:    "hub.app_name",
			Message: fmt.Sprintf("invalid value %q", hc.AppName),
			Hint:    "a single aspect component such as \"lxmf\"",
		})
	}

	if hc.OutboundPropagationNode != "" {
		if b, err := hex.DecodeString(hc.OutboundPropagationNode); err != nil || len(b) == 0 {
			errs = append(errs, ValidationError{
				Path:    "hub.outbound_propagation_node",
				Message: "must be a hex encoded destination hash",
			})
		}
	}

	if hc.ReselectInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hub.reselect_interval",
			Message: fmt.Sprintf("must be > 0; got %v", hc.ReselectInterval),
		})
	}

	return errs
}

func (c *Config) validateMesh() []error {
	var errs []error
	mc := c.Mesh

	if mc.PathTTL <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.path_ttl",
			Message: fmt.Sprintf("must be > 0; got %v", mc.PathTTL),
		})
	}

	if !mc.Gossip {
		return errs
	}

	if mc.Namespace == "" {
		errs = append(errs, ValidationError{
			Path:    "mesh.namespace",
			Message: "must not be empty when gossip is enabled",
		})
	}

	if len(mc.ListenAddrs) == 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.listen_addrs",
			Message: "must not be empty when gossip is enabled",
		})
	}

	seen := make(map[string]bool)
	for i, addr := range mc.ListenAddrs {
		path := fmt.Sprintf("mesh.listen_addrs[%d]", i)

		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>",
			})
			continue
		}

		netAddr, err := manet.ToNetAddr(ma)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("cannot convert multiaddr to network address: %v", err),
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}
		tcpAddr, ok := netAddr.(*net.TCPAddr)
		if !ok {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "not a TCP address",
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}
		if tcpAddr.Port < 1 || tcpAddr.Port > 65535 {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP port %d", tcpAddr.Port),
				Hint:    "port must be between 1 and 65535",
			})
		}

		if seen[addr] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate listen address",
			})
		}
		seen[addr] = true
	}

	seenPeers := make(map[string]bool)
	for i, p := range mc.BootstrapPeers {
		path := fmt.Sprintf("mesh.bootstrap_peers[%d]", i)

		if _, err := peer.AddrInfoFromString(p); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid peer multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}

		tcpPortStr := extractTCPPort(p)
		if tcpPortStr == "" {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "missing /tcp/<port> component",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}
		if port, err := strconv.Atoi(tcpPortStr); err != nil || port < 1 || port > 65535 {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP port %s", tcpPortStr),
				Hint:    "port must be between 1 and 65535",
			})
		}

		if seenPeers[p] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate bootstrap peer",
			})
		}
		seenPeers[p] = true
	}

	return errs
}

func (c *Config) validatePropagation() []error {
	var errs []error
	pc := c.Propagation

	if pc.CandidateTTL <= 0 {
		errs = append(errs, ValidationError{
			Path:    "propagation.candidate_ttl",
			Message: fmt.Sprintf("must be > 0; got %v", pc.CandidateTTL),
		})
	}
	if pc.SweepInterval < 0 {
		errs = append(errs, ValidationError{
			Path:    "propagation.sweep_interval",
			Message: fmt.Sprintf("must be >= 0; got %v", pc.SweepInterval),
			Hint:    "0 disables sweeping",
		})
	}

	return errs
}

func (c *Config) validateDatabase() []error {
	var errs []error
	dc := c.Database

	if !dc.Enabled {
		return errs
	}

	switch dc.Driver {
	case "sqlite3":
	case "rqlite":
		if dc.DSN != "" {
			u, err := url.Parse(dc.DSN)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, ValidationError{
					Path:    "database.dsn",
					Message: fmt.Sprintf("invalid rqlite URL %q", dc.DSN),
					Hint:    "expected http(s)://host:port",
				})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "database.driver",
			Message: fmt.Sprintf("invalid value %q", dc.Driver),
			Hint:    "allowed values: sqlite3, rqlite",
		})
	}

	if dc.HistoryBuffer < 1 {
		errs = append(errs, ValidationError{
			Path:    "database.history_buffer",
			Message: fmt.Sprintf("must be >= 1; got %d", dc.HistoryBuffer),
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	if log.OutputFile != "" {
		dir := filepath.Dir(log.OutputFile)
		if dir != "" && dir != "." {
			if err := validateDirWritable(dir); err != nil {
				errs = append(errs, ValidationError{
					Path:    "logging.output_file",
					Message: fmt.Sprintf("parent directory not writable: %v", err),
				})
			}
		}
	}

	return errs
}

func (c *Config) validateHTTPGateway() []error {
	var errs []error
	gc := c.HTTPGateway

	if !gc.Enabled {
		return errs
	}

	if _, port, err := net.SplitHostPort(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.listen_addr",
			Message: fmt.Sprintf("invalid address %q: %v", gc.ListenAddr, err),
			Hint:    "expected [host]:port",
		})
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.listen_addr",
			Message: fmt.Sprintf("invalid port %q", port),
		})
	}

	if gc.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.request_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", gc.RequestTimeout),
		})
	}
	if gc.EventBuffer < 1 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.event_buffer",
			Message: fmt.Sprintf("must be >= 1; got %d", gc.EventBuffer),
		})
	}

	return errs
}

// Helper validation functions

func validateDataDir(path string) error {
	if path == "" {
		return fmt.Errorf("must not be empty")
	}

	expandedPath := ExpandPath(path)

	if info, err := os.Stat(expandedPath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory")
		}
		return validateDirWritable(expandedPath)
	} else if os.IsNotExist(err) {
		// Missing directories are created at startup; only the parent matters.
		parent := filepath.Dir(expandedPath)
		if parent == "" {
			parent = "."
		}
		if info, err := os.Stat(parent); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("parent directory not accessible: %v", err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("parent path is not a directory")
		} else if err := validateDirWritable(parent); err != nil {
			return fmt.Errorf("parent directory not writable: %v", err)
		}
	} else {
		return fmt.Errorf("cannot access path: %v", err)
	}

	return nil
}

func validateDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access directory: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
		return fmt.Errorf("directory not writable: %v", err)
	}
	os.Remove(testFile)

	return nil
}

func extractTCPPort(multiaddrStr string) string {
	parts := strings.Split(multiaddrStr, "/")
	for i := 0; i < len(parts); i++ {
		if parts[i] == "tcp" {
			if i+1 < len(parts) {
				return parts[i+1]
			}
			break
		}
	}
	return ""
}
