package mesh

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"go.uber.org/zap"
)

// Origin records where an announce entered the hub.
type Origin string

const (
	OriginLocal  Origin = "local"  // ingested from an attached RNS daemon
	OriginGossip Origin = "gossip" // relayed by another hub over libp2p
)

// Announce is a broadcast packet advertising a destination and its app data.
type Announce struct {
	DestinationHash []byte
	Identity        []byte // opaque announced identity material
	AppData         []byte
	Aspect          string // e.g. "lxmf.propagation"
	Hops            int
	Via             string
	Origin          Origin
}

// AnnounceHandler receives announces whose aspect matches AspectFilter.
// An empty filter receives every announce.
type AnnounceHandler interface {
	AspectFilter() string
	ReceivedAnnounce(destinationHash []byte, announcedIdentity []byte, appData []byte)
}

// TransportStats are running counters for diagnostics.
type TransportStats struct {
	Received   uint64 `json:"received"`
	Rejected   uint64 `json:"rejected"`
	Dispatched uint64 `json:"dispatched"`
	Paths      int    `json:"paths"`
}

// Transport dispatches inbound announces to registered handlers and keeps
// the routing table current. It is the hub's stand-in for the mesh runtime.
type Transport struct {
	paths  *PathTable
	logger *logging.ColoredLogger

	mu        sync.RWMutex
	handlers  []AnnounceHandler
	observers []func(Announce)

	received   atomic.Uint64
	rejected   atomic.Uint64
	dispatched atomic.Uint64
}

// NewTransport creates a transport backed by the given routing table.
func NewTransport(paths *PathTable, logger *logging.ColoredLogger) *Transport {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Transport{
		paths:  paths,
		logger: logger,
	}
}

// RegisterAnnounceHandler adds h to the dispatch list.
func (t *Transport) RegisterAnnounceHandler(h AnnounceHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
	t.logger.ComponentDebug(logging.ComponentMesh, "Registered announce handler",
		zap.String("aspect_filter", h.AspectFilter()))
}

// Observe registers fn to be called with every accepted announce after
// handlers have run.
func (t *Transport) Observe(fn func(Announce)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Paths exposes the routing table.
func (t *Transport) Paths() *PathTable {
	return t.paths
}

// HasPath reports whether the routing table knows a path to destinationHash.
func (t *Transport) HasPath(destinationHash []byte) bool {
	return t.paths.HasPath(destinationHash)
}

// HopsTo returns the current hop count to destinationHash.
func (t *Transport) HopsTo(destinationHash []byte) (int, bool) {
	return t.paths.HopsTo(destinationHash)
}

// Inbound processes one announce: the path it describes is learned first,
// then matching handlers are invoked. Handler panics are contained so a
// single bad callback cannot stop dispatch.
func (t *Transport) Inbound(a Announce) error {
	t.received.Add(1)

	if len(a.DestinationHash) == 0 {
		t.rejected.Add(1)
		return errors.NewAnnounceError("destination_hash", "must not be empty", nil)
	}
	if a.Hops < 0 || a.Hops > PathfinderMaxHops {
		t.rejected.Add(1)
		return errors.NewAnnounceError("hops", fmt.Sprintf("must be between 0 and %d", PathfinderMaxHops), a.Hops)
	}

	t.paths.UpdatePath(a.DestinationHash, a.Hops, a.Via)

	t.mu.RLock()
	handlers := append([]AnnounceHandler(nil), t.handlers...)
	observers := append([]func(Announce){}, t.observers...)
	t.mu.RUnlock()

	for _, h := range handlers {
		if !aspectMatches(h.AspectFilter(), a.Aspect) {
			continue
		}
		t.dispatch(h, a)
	}
	for _, fn := range observers {
		t.notify(fn, a)
	}
	return nil
}

func (t *Transport) dispatch(h AnnounceHandler, a Announce) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ComponentError(logging.ComponentMesh, "Announce handler panicked",
				zap.String("aspect_filter", h.AspectFilter()),
				zap.String("destination", hex.EncodeToString(a.DestinationHash)),
				zap.Any("panic", r))
		}
	}()
	t.dispatched.Add(1)
	h.ReceivedAnnounce(a.DestinationHash, a.Identity, a.AppData)
}

func (t *Transport) notify(fn func(Announce), a Announce) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ComponentError(logging.ComponentMesh, "Announce observer panicked", zap.Any("panic", r))
		}
	}()
	fn(a)
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Received:   t.received.Load(),
		Rejected:   t.rejected.Load(),
		Dispatched: t.dispatched.Load(),
		Paths:      t.paths.Len(),
	}
}

func aspectMatches(filter, aspect string) bool {
	if filter == "" {
		return true
	}
	return strings.EqualFold(filter, aspect)
}
