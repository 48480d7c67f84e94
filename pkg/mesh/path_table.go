package mesh

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// PathfinderMaxHops is the largest hop count accepted for a path.
	PathfinderMaxHops = 128

	// DefaultPathTTL is how long a learned path stays valid without refresh.
	DefaultPathTTL = 7 * 24 * time.Hour
)

// PathEntry is one row of the routing table.
type PathEntry struct {
	DestinationHash []byte    `json:"-"`
	Destination     string    `json:"destination"`
	Hops            int       `json:"hops"`
	Via             string    `json:"via,omitempty"`
	LearnedAt       time.Time `json:"learned_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PathTable is the live routing table consulted for reachability and
// distance. It is safe for concurrent use.
type PathTable struct {
	mu      sync.RWMutex
	entries map[string]PathEntry
	ttl     time.Duration
	clock   clock.Clock
}

// NewPathTable creates an empty routing table. A non-positive ttl selects
// DefaultPathTTL; a nil clock selects the wall clock.
func NewPathTable(ttl time.Duration, clk clock.Clock) *PathTable {
	if ttl <= 0 {
		ttl = DefaultPathTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PathTable{
		entries: make(map[string]PathEntry),
		ttl:     ttl,
		clock:   clk,
	}
}

// UpdatePath records a path to destinationHash. A longer path over a
// different next hop does not displace an unexpired shorter one. The same
// next hop always replaces its own entry, so a destination that moved
// further away is reported at its new distance.
func (t *PathTable) UpdatePath(destinationHash []byte, hops int, via string) bool {
	if len(destinationHash) == 0 || hops < 0 || hops > PathfinderMaxHops {
		return false
	}
	now := t.clock.Now()
	key := hex.EncodeToString(destinationHash)

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[key]; ok && now.Before(cur.ExpiresAt) && hops > cur.Hops && via != cur.Via {
		return false
	}
	t.entries[key] = PathEntry{
		DestinationHash: append([]byte(nil), destinationHash...),
		Destination:     key,
		Hops:            hops,
		Via:             via,
		LearnedAt:       now,
		ExpiresAt:       now.Add(t.ttl),
	}
	return true
}

// RemovePath drops any path to destinationHash.
func (t *PathTable) RemovePath(destinationHash []byte) {
	t.mu.Lock()
	delete(t.entries, hex.EncodeToString(destinationHash))
	t.mu.Unlock()
}

func (t *PathTable) lookup(destinationHash []byte) (PathEntry, bool) {
	t.mu.RLock()
	entry, ok := t.entries[hex.EncodeToString(destinationHash)]
	t.mu.RUnlock()
	if !ok || !t.clock.Now().Before(entry.ExpiresAt) {
		return PathEntry{}, false
	}
	return entry, true
}

// HasPath reports whether an unexpired path to destinationHash is known.
func (t *PathTable) HasPath(destinationHash []byte) bool {
	_, ok := t.lookup(destinationHash)
	return ok
}

// HopsTo returns the hop count of the known path.
func (t *PathTable) HopsTo(destinationHash []byte) (int, bool) {
	entry, ok := t.lookup(destinationHash)
	if !ok {
		return 0, false
	}
	return entry.Hops, true
}

// ExpirePaths removes expired entries and returns how many were dropped.
func (t *PathTable) ExpirePaths() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, entry := range t.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Paths returns the unexpired entries ordered by hop count then destination.
func (t *PathTable) Paths() []PathEntry {
	now := t.clock.Now()

	t.mu.RLock()
	out := make([]PathEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		if now.Before(entry.ExpiresAt) {
			out = append(out, entry)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}

// Len returns the number of stored entries, expired or not.
func (t *PathTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
