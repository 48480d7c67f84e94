package gateway

import (
	"net/http"
	"time"

	"github.com/mackerelio/go-osstat/memory"

	"github.com/DeBrosOfficial/rnshub/pkg/database"
	"github.com/DeBrosOfficial/rnshub/pkg/httputil"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

type healthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

type memoryStatus struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type statusResponse struct {
	healthResponse
	PeerID       string                 `json:"peer_id,omitempty"`
	Candidates   int                    `json:"candidates"`
	Eligible     int                    `json:"eligible"`
	Best         *propagation.Candidate `json:"best"`
	Transport    mesh.TransportStats    `json:"transport"`
	History      *database.HistoryStats `json:"history,omitempty"`
	EventClients int                    `json:"event_clients"`
	Memory       *memoryStatus          `json:"memory,omitempty"`
}

func (g *Gateway) health() healthResponse {
	return healthResponse{
		Status:    "ok",
		StartedAt: g.startedAt,
		Uptime:    time.Since(g.startedAt).Round(time.Second).String(),
	}
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, g.health())
}

// statusHandler aggregates uptime, selection state and component counters
func (g *Gateway) statusHandler(w http.ResponseWriter, r *http.Request) {
	ranked := g.deps.Registry.Ranked()
	resp := statusResponse{
		healthResponse: g.health(),
		Candidates:     g.deps.Registry.Len(),
		Eligible:       len(ranked),
		Transport:      g.deps.Transport.Stats(),
		EventClients:   g.deps.Events.Clients(),
	}
	if len(ranked) > 0 {
		best := ranked[0]
		resp.Best = &best
	}
	if g.deps.PeerID != nil {
		resp.PeerID = g.deps.PeerID()
	}
	if g.deps.HistoryStats != nil {
		st := g.deps.HistoryStats()
		resp.History = &st
	}
	if mem, err := memory.Get(); err == nil {
		resp.Memory = &memoryStatus{Total: mem.Total, Used: mem.Used, Free: mem.Free}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
