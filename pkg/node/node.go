package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/pubsub"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// MonitoringTopic carries periodic hub health beacons.
const MonitoringTopic = "monitoring"

// Node is the hub's libp2p presence: a host, a gossipsub router and the
// namespaced pubsub manager built on them.
type Node struct {
	config  config.MeshConfig
	dataDir string
	logger  *logging.ColoredLogger

	host   host.Host
	ps     *libp2ppubsub.PubSub
	pubsub *pubsub.Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// NewNode creates a node from the mesh config. dataDir holds the persisted
// identity unless the config names an identity file.
func NewNode(cfg config.MeshConfig, dataDir string, logger *logging.ColoredLogger) *Node {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Node{
		config:  cfg,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Start brings up the host, joins gossip and begins dialing bootstrap peers.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.host != nil {
		return fmt.Errorf("node already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := n.startLibP2P(runCtx); err != nil {
		cancel()
		return err
	}
	n.cancel = cancel
	n.started = time.Now()

	if len(n.config.BootstrapPeers) > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.peerReconnectionLoop(runCtx)
		}()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.connectionMonitoringLoop(runCtx, 30*time.Second)
	}()

	n.logger.ComponentInfo(logging.ComponentLibP2P, "LibP2P host started",
		zap.String("peer_id", n.host.ID().String()),
		zap.Any("addrs", n.host.Addrs()))
	return nil
}

// Stop shuts down gossip and the host.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.host == nil {
		return nil
	}
	n.cancel()
	n.wg.Wait()

	if n.pubsub != nil {
		_ = n.pubsub.Close()
	}
	err := n.host.Close()
	n.host = nil
	n.pubsub = nil
	n.ps = nil

	n.logger.ComponentInfo(logging.ComponentLibP2P, "LibP2P host stopped")
	return err
}

// Host returns the libp2p host, nil before Start.
func (n *Node) Host() host.Host {
	return n.host
}

// PubSub returns the namespaced pubsub manager, nil before Start.
func (n *Node) PubSub() *pubsub.Manager {
	return n.pubsub
}

// GetPeerID returns the local peer ID, empty before Start.
func (n *Node) GetPeerID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}

// ConnectedPeers returns the peers with an open connection.
func (n *Node) ConnectedPeers() []peer.ID {
	if n.host == nil {
		return nil
	}
	return n.host.Network().Peers()
}

// ListenAddrs returns the host's full dialable addresses including /p2p/.
func (n *Node) ListenAddrs() []string {
	if n.host == nil {
		return nil
	}
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

func (n *Node) identityPath() string {
	if n.config.IdentityFile != "" {
		return config.ExpandPath(n.config.IdentityFile)
	}
	return filepath.Join(config.ExpandPath(n.dataDir), "identity.key")
}
