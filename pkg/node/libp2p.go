package node

import (
	"context"
	"fmt"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/pubsub"
	"github.com/libp2p/go-libp2p"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"go.uber.org/zap"
)

// startLibP2P initializes the LibP2P host and gossipsub. Caller holds n.mu.
func (n *Node) startLibP2P(ctx context.Context) error {
	identity, err := n.loadOrCreateIdentity()
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(identity),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
		libp2p.DefaultTransports,
	}

	listenAddrs, err := n.config.ParseMultiaddrs()
	if err != nil {
		return err
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := libp2ppubsub.NewGossipSub(ctx, h,
		libp2ppubsub.WithPeerExchange(true),
		libp2ppubsub.WithFloodPublish(true),
	)
	if err != nil {
		h.Close()
		return fmt.Errorf("failed to create pubsub: %w", err)
	}

	n.host = h
	n.ps = ps
	n.pubsub = pubsub.NewManager(ps, h.ID(), n.config.Namespace)

	for _, info := range bootstrapInfos(n.config.BootstrapPeers) {
		if info.ID != h.ID() {
			h.Peerstore().AddAddrs(info.ID, info.Addrs, 24*time.Hour)
		}
	}
	n.connectToPeers(ctx)

	return nil
}

func bootstrapInfos(addrs []string) []peer.AddrInfo {
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out
}

func (n *Node) peerReconnectionLoop(ctx context.Context) {
	interval := 5 * time.Second

	for {
		wait := 30 * time.Second
		if !n.hasBootstrapConnection() {
			if n.connectToPeers(ctx) == 0 {
				wait = addJitter(interval)
				interval = calculateNextBackoff(interval)
			} else {
				interval = 5 * time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectToPeers dials every bootstrap peer and returns how many succeeded.
func (n *Node) connectToPeers(ctx context.Context) int {
	connected := 0
	for _, info := range bootstrapInfos(n.config.BootstrapPeers) {
		if info.ID == n.host.ID() {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.host.Connect(dialCtx, info)
		cancel()
		if err != nil {
			n.logger.ComponentDebug(logging.ComponentLibP2P, "Failed to connect to bootstrap peer",
				zap.String("peer", info.ID.String()), zap.Error(err))
			continue
		}
		connected++
	}
	return connected
}

func (n *Node) hasBootstrapConnection() bool {
	connected := n.host.Network().Peers()
	if len(connected) == 0 {
		return false
	}
	bootstrap := make(map[peer.ID]bool)
	for _, info := range bootstrapInfos(n.config.BootstrapPeers) {
		bootstrap[info.ID] = true
	}
	for _, p := range connected {
		if bootstrap[p] {
			return true
		}
	}
	return false
}
