package gateway

import (
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/rnshub/pkg/database"
	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/httputil"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type nodesResponse struct {
	Nodes []propagation.CandidateStatus `json:"nodes"`
	Count int                           `json:"count"`
}

type bestResponse struct {
	Destination string                 `json:"destination"`
	Candidate   *propagation.Candidate `json:"candidate"`
}

type historyResponse struct {
	Announces []database.AnnounceRecord `json:"announces"`
	Count     int                       `json:"count"`
}

// propagationNodesHandler lists every stored candidate with its current eligibility.
func (g *Gateway) propagationNodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes := g.deps.Registry.Inspect()
	if nodes == nil {
		nodes = []propagation.CandidateStatus{}
	}
	httputil.WriteJSON(w, http.StatusOK, nodesResponse{Nodes: nodes, Count: len(nodes)})
}

// propagationBestHandler returns the node outbound messages would be handed to.
func (g *Gateway) propagationBestHandler(w http.ResponseWriter, r *http.Request) {
	var hash []byte
	if g.deps.Selector != nil {
		h, err := g.deps.Selector.PropagationFallback()
		if err != nil {
			if !errors.IsNoPropagationNode(err) {
				g.logger.ComponentWarn(logging.ComponentGateway, "Propagation node selection failed", zap.Error(err))
			}
			writeError(w, r, err)
			return
		}
		hash = h
	} else {
		hash = g.deps.Registry.BestCandidateHash()
	}
	if len(hash) == 0 {
		writeError(w, r, errors.ErrNoPropagationNode)
		return
	}

	resp := bestResponse{Destination: hex.EncodeToString(hash)}
	if c, ok := g.deps.Registry.Get(resp.Destination); ok {
		if live := g.deps.Registry.HopsTo(hash); live != nil {
			c.Hops = live
		}
		resp.Candidate = &c
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// propagationHistoryHandler lists persisted announces, newest first.
func (g *Gateway) propagationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if g.deps.History == nil {
		writeError(w, r, errors.NewServiceError("database", "announce history is disabled", nil))
		return
	}
	limit := httputil.QueryParamInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	recs, err := g.deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []database.AnnounceRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Announces: recs, Count: len(recs)})
}
