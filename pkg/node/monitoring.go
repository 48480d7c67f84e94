package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"
)

// Beacon is the periodic health message a hub publishes on MonitoringTopic.
type Beacon struct {
	PeerID      string  `json:"peer_id"`
	PeerCount   int     `json:"peer_count"`
	CPUPercent  float64 `json:"cpu_usage"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
	UptimeSec   int64   `json:"uptime_s"`
	Timestamp   int64   `json:"timestamp"`
}

// cpuSampler turns successive cumulative CPU counters into a usage percentage.
type cpuSampler struct {
	prev *cpu.Stats
}

func (s *cpuSampler) sample() (float64, bool) {
	cur, err := cpu.Get()
	if err != nil {
		return 0, false
	}
	prev := s.prev
	s.prev = cur
	if prev == nil {
		return 0, false
	}
	total := float64(cur.Total - prev.Total)
	if total <= 0 {
		return 0, false
	}
	idle := float64(cur.Idle - prev.Idle)
	return (1.0 - idle/total) * 100.0, true
}

func (n *Node) connectionMonitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sampler cpuSampler
	sampler.sample()

	lastPeerCount := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peers := n.host.Network().Peers()
		lastPeerCount = n.logPeerStatus(len(peers), lastPeerCount)

		beacon := n.buildBeacon(len(peers), &sampler)
		if err := n.publishBeacon(ctx, beacon); err != nil {
			n.logger.ComponentDebug(logging.ComponentLibP2P, "Failed to publish monitoring beacon", zap.Error(err))
		}
	}
}

func (n *Node) logPeerStatus(current, last int) int {
	if current == last {
		return last
	}
	switch {
	case current == 0:
		n.logger.ComponentWarn(logging.ComponentLibP2P, "Hub has no connected peers")
	case last >= 0 && current < last:
		n.logger.ComponentInfo(logging.ComponentLibP2P, "Hub lost peers",
			zap.Int("current_peers", current), zap.Int("previous_peers", last))
	default:
		n.logger.ComponentDebug(logging.ComponentLibP2P, "Hub peer count changed",
			zap.Int("current_peers", current))
	}
	return current
}

func (n *Node) buildBeacon(peerCount int, sampler *cpuSampler) Beacon {
	b := Beacon{
		PeerID:    n.host.ID().String(),
		PeerCount: peerCount,
		UptimeSec: int64(time.Since(n.started).Seconds()),
		Timestamp: time.Now().Unix(),
	}
	if pct, ok := sampler.sample(); ok {
		b.CPUPercent = pct
	}
	if mem, err := memory.Get(); err == nil {
		b.MemoryUsed = mem.Used
		b.MemoryTotal = mem.Total
	}
	return b
}

func (n *Node) publishBeacon(ctx context.Context, b Beacon) error {
	if n.pubsub == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return n.pubsub.Publish(ctx, MonitoringTopic, data)
}
