package propagation

import (
	"encoding/hex"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultTTL is how long after its last announce a candidate stays selectable.
const DefaultTTL = time.Hour

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the freshness window. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.ColoredLogger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry holds the known propagation node candidates and ranks them
// against the routing oracle. It is safe for concurrent use; the lock is
// never held across oracle calls.
type Registry struct {
	mu         sync.Mutex
	candidates map[string]Candidate

	oracle RoutingOracle
	ttl    time.Duration
	clock  clock.Clock
	logger *logging.ColoredLogger
}

// NewRegistry creates an empty registry. A nil oracle reports no paths.
func NewRegistry(oracle RoutingOracle, opts ...Option) *Registry {
	if oracle == nil {
		oracle = OracleFuncs{}
	}
	r := &Registry{
		candidates: make(map[string]Candidate),
		oracle:     oracle,
		ttl:        DefaultTTL,
		clock:      clock.New(),
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the freshness window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Clock returns the registry's time source.
func (r *Registry) Clock() clock.Clock {
	return r.clock
}

// RecordAnnounce stores a candidate built from a, replacing any previous
// record for the same destination. Announces that do not advertise an
// enabled propagation node, or lack a destination, are refused with ok=false.
func (r *Registry) RecordAnnounce(a Announcement) (Candidate, bool) {
	if len(a.DestinationHash) == 0 || !a.PropagationEnabled {
		return Candidate{}, false
	}
	announcedAt := a.AnnouncedAt
	if announcedAt.IsZero() {
		announcedAt = r.clock.Now()
	}
	dest := append([]byte(nil), a.DestinationHash...)
	c := Candidate{
		DestinationHash:    dest,
		Destination:        hex.EncodeToString(dest),
		Name:               a.Name,
		Hops:               a.Hops,
		StampCost:          a.StampCost,
		TransferLimit:      a.TransferLimit,
		SyncLimit:          a.SyncLimit,
		LastAnnouncedAt:    announcedAt,
		PropagationEnabled: true,
	}

	r.mu.Lock()
	r.candidates[c.Destination] = c
	r.mu.Unlock()

	return c, true
}

// Snapshot returns a copy of every stored candidate keyed by hex destination,
// stale ones included.
func (r *Registry) Snapshot() map[string]Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Candidate, len(r.candidates))
	for k, c := range r.candidates {
		out[k] = c
	}
	return out
}

// Get returns the stored candidate for a hex destination.
func (r *Registry) Get(destination string) (Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candidates[destination]
	return c, ok
}

// Len returns the number of stored candidates.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}

// HasPath asks the oracle whether destinationHash is reachable. A panicking
// oracle counts as no path.
func (r *Registry) HasPath(destinationHash []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ComponentWarn(logging.ComponentPropagation, "Routing oracle panicked in HasPath",
				zap.Any("panic", rec))
			ok = false
		}
	}()
	return r.oracle.HasPath(destinationHash)
}

// HopsTo asks the oracle for the live hop count. It returns nil when the
// count is unknown, negative or the oracle panics.
func (r *Registry) HopsTo(destinationHash []byte) (hops *int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ComponentWarn(logging.ComponentPropagation, "Routing oracle panicked in HopsTo",
				zap.Any("panic", rec))
			hops = nil
		}
	}()
	n, ok := r.oracle.HopsTo(destinationHash)
	if !ok || n < 0 {
		return nil
	}
	return &n
}

func (r *Registry) copyAll() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, c)
	}
	return out
}

func (r *Registry) isFresh(c Candidate, now time.Time) bool {
	return now.Sub(c.LastAnnouncedAt) <= r.ttl
}

// Inspect reports every stored candidate together with the outcome of each
// selection filter, ordered by hex destination.
func (r *Registry) Inspect() []CandidateStatus {
	now := r.clock.Now()
	all := r.copyAll()

	out := make([]CandidateStatus, 0, len(all))
	for _, c := range all {
		st := CandidateStatus{Candidate: c, Stale: !r.isFresh(c, now)}
		st.Reachable = r.HasPath(c.DestinationHash)
		if st.Reachable {
			st.LiveHops = r.HopsTo(c.DestinationHash)
		}
		st.Eligible = c.PropagationEnabled && !st.Stale && st.Reachable && st.LiveHops != nil
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Ranked returns every eligible candidate in selection order. The returned
// records carry the live hop count; the stored records are left untouched.
func (r *Registry) Ranked() []Candidate {
	now := r.clock.Now()
	all := r.copyAll()

	eligible := make([]Candidate, 0, len(all))
	for _, c := range all {
		if !c.PropagationEnabled || !r.isFresh(c, now) {
			continue
		}
		if !r.HasPath(c.DestinationHash) {
			continue
		}
		hops := r.HopsTo(c.DestinationHash)
		if hops == nil {
			continue
		}
		c.Hops = hops
		eligible = append(eligible, c)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return rankLess(eligible[i], eligible[j])
	})
	return eligible
}

// rankLess orders by hops, then stamp cost, then most recent announce.
// Unknown values sort last. The hex key makes the order total.
func rankLess(a, b Candidate) bool {
	if ha, hb := orMax(a.Hops), orMax(b.Hops); ha != hb {
		return ha < hb
	}
	if sa, sb := orMax(a.StampCost), orMax(b.StampCost); sa != sb {
		return sa < sb
	}
	if !a.LastAnnouncedAt.Equal(b.LastAnnouncedAt) {
		return a.LastAnnouncedAt.After(b.LastAnnouncedAt)
	}
	return a.Destination < b.Destination
}

func orMax(v *int) int {
	if v == nil {
		return math.MaxInt
	}
	return *v
}

// BestCandidate returns the top ranked candidate.
func (r *Registry) BestCandidate() (Candidate, bool) {
	ranked := r.Ranked()
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}

// BestCandidateHash returns the destination hash of the best candidate, or
// nil when none is eligible.
func (r *Registry) BestCandidateHash() []byte {
	c, ok := r.BestCandidate()
	if !ok {
		return nil
	}
	return c.DestinationHash
}

// Prune removes candidates whose last announce is outside the TTL window
// and returns how many were dropped.
func (r *Registry) Prune() int {
	now := r.clock.Now()

	r.mu.Lock()
	removed := 0
	for k, c := range r.candidates {
		if !r.isFresh(c, now) {
			delete(r.candidates, k)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.ComponentDebug(logging.ComponentPropagation, "Pruned stale propagation nodes",
			zap.Int("removed", removed))
	}
	return removed
}
