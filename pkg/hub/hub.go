// Package hub wires the mesh transport, the propagation node registry,
// announce history, libp2p gossip and the HTTP gateway into one process.
package hub

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/database"
	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/gateway"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"github.com/DeBrosOfficial/rnshub/pkg/node"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

// Option configures a Hub.
type Option func(*Hub)

// WithClock replaces the wall clock used by the registry, the path table
// and the reselection loop.
func WithClock(clk clock.Clock) Option {
	return func(h *Hub) {
		if clk != nil {
			h.clock = clk
		}
	}
}

// SelectionEvent is published when the outbound propagation node changes.
type SelectionEvent struct {
	Destination string `json:"destination"`
	Previous    string `json:"previous"`
	Pinned      bool   `json:"pinned"`
}

// Hub owns every long-lived component of the process.
type Hub struct {
	cfg    *config.Config
	logger *logging.ColoredLogger
	clock  clock.Clock

	paths     *mesh.PathTable
	transport *mesh.Transport
	registry  *propagation.Registry
	handler   *propagation.AnnounceHandler
	sweeper   *propagation.Sweeper
	events    *gateway.EventHub
	pinned    []byte

	history atomic.Pointer[database.HistoryWriter]
	store   *database.AnnounceStore
	db      *sql.DB
	node    *node.Node
	bridge  *mesh.Bridge
	gateway *gateway.Gateway

	mu       sync.Mutex
	selected []byte
	running  bool
}

// New builds the in-memory components. Nothing is opened or started until Run.
func New(cfg *config.Config, logger *logging.ColoredLogger, opts ...Option) (*Hub, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "must not be nil", nil)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", stderrors.Join(errs...))
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	h := &Hub{
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Hub.OutboundPropagationNode != "" {
		pinned, err := hex.DecodeString(cfg.Hub.OutboundPropagationNode)
		if err != nil {
			return nil, errors.NewValidationError("hub.outbound_propagation_node", "must be hex", cfg.Hub.OutboundPropagationNode)
		}
		h.pinned = pinned
	}

	h.paths = mesh.NewPathTable(cfg.Mesh.PathTTL, h.clock)
	h.transport = mesh.NewTransport(h.paths, logger)
	h.registry = propagation.NewRegistry(h.transport,
		propagation.WithTTL(cfg.Propagation.CandidateTTL),
		propagation.WithClock(h.clock),
		propagation.WithLogger(logger),
	)
	h.handler = propagation.NewAnnounceHandler(h.registry, cfg.Hub.AppName,
		propagation.WithOnRecorded(h.onRecorded),
		propagation.WithHandlerLogger(logger),
	)
	h.transport.RegisterAnnounceHandler(h.handler)
	h.sweeper = propagation.NewSweeper(h.registry, cfg.Propagation.SweepInterval, logger)
	h.events = gateway.NewEventHub(cfg.HTTPGateway.EventBuffer, logger)

	return h, nil
}

// Registry returns the propagation node registry.
func (h *Hub) Registry() *propagation.Registry { return h.registry }

// Transport returns the announce transport.
func (h *Hub) Transport() *mesh.Transport { return h.transport }

// Events returns the hub event stream.
func (h *Hub) Events() *gateway.EventHub { return h.events }

// PeerID returns the libp2p peer id, or "" when gossip is disabled.
func (h *Hub) PeerID() string {
	h.mu.Lock()
	n := h.node
	h.mu.Unlock()
	if n == nil {
		return ""
	}
	return n.GetPeerID()
}

// Selected returns the outbound node chosen by the last reselection.
func (h *Hub) Selected() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.selected...)
}

// PropagationFallback returns the node outbound messages should be handed
// to: the pinned node while it is reachable, otherwise the best candidate.
func (h *Hub) PropagationFallback() ([]byte, error) {
	if len(h.pinned) > 0 && h.registry.HasPath(h.pinned) {
		return append([]byte(nil), h.pinned...), nil
	}
	best := h.registry.BestCandidateHash()
	if len(best) == 0 {
		return nil, errors.ErrNoPropagationNode
	}
	return best, nil
}

// Run opens storage, starts every enabled component and blocks until ctx is
// cancelled or a component fails. Components are stopped before it returns.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("hub already running")
	}
	h.running = true
	h.mu.Unlock()

	defer h.shutdown()

	if err := h.openDatabase(ctx); err != nil {
		return err
	}
	if err := h.startGossip(ctx); err != nil {
		return err
	}
	h.sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if w := h.history.Load(); w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error { return h.reselectLoop(gctx) })

	if h.cfg.HTTPGateway.Enabled {
		gw, err := gateway.New(h.cfg.HTTPGateway, h.gatewayDependencies(), h.logger)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.gateway = gw
		h.mu.Unlock()
		g.Go(func() error { return gw.Start(gctx) })
	}

	h.logger.ComponentInfo(logging.ComponentHub, "Hub started",
		zap.String("aspect", h.handler.AspectFilter()),
		zap.Duration("candidate_ttl", h.registry.TTL()),
		zap.Bool("gossip", h.cfg.Mesh.Gossip),
		zap.Bool("database", h.cfg.Database.Enabled),
		zap.Bool("gateway", h.cfg.HTTPGateway.Enabled))

	return g.Wait()
}

func (h *Hub) gatewayDependencies() gateway.Dependencies {
	deps := gateway.Dependencies{
		Registry:  h.registry,
		Transport: h.transport,
		Selector:  h,
		PeerID:    h.PeerID,
		Events:    h.events,
	}
	if h.store != nil {
		deps.History = h.store
	}
	if w := h.history.Load(); w != nil {
		deps.HistoryStats = w.Stats
	}
	return deps
}

func (h *Hub) openDatabase(ctx context.Context) error {
	if !h.cfg.Database.Enabled {
		return nil
	}
	db, err := database.Open(ctx, h.cfg.Database.Driver, h.cfg.DatabaseDSN(), h.logger)
	if err != nil {
		return errors.Wrap(err, "failed to open announce history")
	}
	h.db = db
	h.store = database.NewAnnounceStore(db)

	restored, err := h.restore(ctx)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentHub, "Failed to restore announce history", zap.Error(err))
	} else if restored > 0 {
		h.logger.ComponentInfo(logging.ComponentHub, "Restored propagation nodes from history",
			zap.Int("count", restored))
	}

	h.history.Store(database.NewHistoryWriter(h.store, h.cfg.Database.HistoryBuffer, h.logger))
	return nil
}

// restore loads the latest announce of every destination still inside the
// candidate TTL window. Stored timestamps are kept so freshness is unchanged.
func (h *Hub) restore(ctx context.Context) (int, error) {
	since := h.clock.Now().Add(-h.registry.TTL())
	recs, err := h.store.LatestSince(ctx, since)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		dest, err := hex.DecodeString(rec.Destination)
		if err != nil {
			continue
		}
		if _, ok := h.registry.RecordAnnounce(propagation.Announcement{
			DestinationHash:    dest,
			Name:               rec.Name,
			Hops:               rec.Hops,
			StampCost:          rec.StampCost,
			TransferLimit:      rec.TransferLimit,
			SyncLimit:          rec.SyncLimit,
			AnnouncedAt:        rec.AnnouncedAt,
			PropagationEnabled: true,
		}); ok {
			n++
		}
	}
	return n, nil
}

func (h *Hub) startGossip(ctx context.Context) error {
	if !h.cfg.Mesh.Gossip {
		return nil
	}
	n := node.NewNode(h.cfg.Mesh, h.cfg.Hub.DataDir, h.logger)
	if err := n.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start libp2p node")
	}
	bridge := mesh.NewBridge(h.transport, n.PubSub(), h.logger)
	if err := bridge.Start(ctx); err != nil {
		_ = n.Stop()
		return err
	}
	h.mu.Lock()
	h.node = n
	h.bridge = bridge
	h.mu.Unlock()
	return nil
}

func (h *Hub) onRecorded(c propagation.Candidate) {
	if w := h.history.Load(); w != nil {
		w.Enqueue(database.AnnounceRecord{
			Destination:   c.Destination,
			Name:          c.Name,
			Hops:          c.Hops,
			StampCost:     c.StampCost,
			TransferLimit: c.TransferLimit,
			SyncLimit:     c.SyncLimit,
			AnnouncedAt:   c.LastAnnouncedAt,
		})
	}
	h.events.Publish(gateway.Event{Type: gateway.EventAnnounce, Time: h.clock.Now(), Data: c})
	h.reselect()
}

// reselect recomputes the outbound node and reports whether it changed.
func (h *Hub) reselect() bool {
	next, err := h.PropagationFallback()
	if err != nil {
		next = nil
	}

	h.mu.Lock()
	prev := h.selected
	if bytes.Equal(prev, next) {
		h.mu.Unlock()
		return false
	}
	h.selected = next
	h.mu.Unlock()

	ev := SelectionEvent{
		Destination: hex.EncodeToString(next),
		Previous:    hex.EncodeToString(prev),
		Pinned:      len(next) > 0 && bytes.Equal(next, h.pinned),
	}
	if len(next) == 0 {
		h.logger.ComponentWarn(logging.ComponentPropagation, "No propagation node available",
			zap.String("previous", ev.Previous))
	} else {
		h.logger.ComponentInfo(logging.ComponentPropagation, "Outbound propagation node selected",
			zap.String("destination", ev.Destination),
			zap.String("previous", ev.Previous),
			zap.Bool("pinned", ev.Pinned))
	}
	h.events.Publish(gateway.Event{Type: gateway.EventSelection, Time: h.clock.Now(), Data: ev})
	return true
}

func (h *Hub) reselectLoop(ctx context.Context) error {
	ticker := h.clock.Ticker(h.cfg.Hub.ReselectInterval)
	defer ticker.Stop()

	h.reselect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := h.paths.ExpirePaths(); n > 0 {
				h.logger.ComponentDebug(logging.ComponentMesh, "Expired paths", zap.Int("count", n))
			}
			h.reselect()
		}
	}
}

func (h *Hub) shutdown() {
	h.sweeper.Stop()

	h.mu.Lock()
	bridge, n, gw := h.bridge, h.node, h.gateway
	h.bridge, h.node, h.gateway = nil, nil, nil
	h.running = false
	h.mu.Unlock()

	if gw != nil {
		_ = gw.Stop()
	}
	h.events.Disconnect()
	if bridge != nil {
		bridge.Stop()
	}
	if n != nil {
		if err := n.Stop(); err != nil {
			h.logger.ComponentWarn(logging.ComponentLibP2P, "Error stopping node", zap.Error(err))
		}
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.logger.ComponentWarn(logging.ComponentDatabase, "Error closing database", zap.Error(err))
		}
		h.db = nil
	}
	h.history.Store(nil)
	h.logger.ComponentInfo(logging.ComponentHub, "Hub stopped")
}
