package propagation

import (
	"encoding/hex"
	"time"
)

// Candidate is a propagation node heard on the mesh. Records are immutable:
// a later announce replaces the stored value rather than modifying it.
// Optional integers are nil when unknown.
type Candidate struct {
	DestinationHash    []byte    `json:"-"`
	Destination        string    `json:"destination"`
	Name               string    `json:"name,omitempty"`
	Hops               *int      `json:"hops"`
	StampCost          *int      `json:"stamp_cost"`
	TransferLimit      *int      `json:"transfer_limit"`
	SyncLimit          *int      `json:"sync_limit"`
	LastAnnouncedAt    time.Time `json:"last_announced_at"`
	PropagationEnabled bool      `json:"propagation_enabled"`
}

// Key returns the lowercase hex form of the destination hash.
func (c Candidate) Key() string {
	return hex.EncodeToString(c.DestinationHash)
}

// Announcement carries the fields of an accepted announce into the registry.
// A zero AnnouncedAt is replaced with the registry clock's current time.
type Announcement struct {
	DestinationHash    []byte
	Name               string
	Hops               *int
	StampCost          *int
	TransferLimit      *int
	SyncLimit          *int
	AnnouncedAt        time.Time
	PropagationEnabled bool
}

// CandidateStatus describes how a stored candidate fares against the
// selection filters right now.
type CandidateStatus struct {
	Candidate
	LiveHops  *int `json:"live_hops"`
	Stale     bool `json:"stale"`
	Reachable bool `json:"reachable"`
	Eligible  bool `json:"eligible"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
