package gateway

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/httputil"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
)

type pathsResponse struct {
	Paths []mesh.PathEntry `json:"paths"`
	Count int              `json:"count"`
}

// announceRequest is an announce handed over by a sidecar RNS daemon.
type announceRequest struct {
	DestinationHash string `json:"destination_hash"`
	Identity        string `json:"identity,omitempty"` // base64
	AppData         string `json:"app_data"`           // base64
	Aspect          string `json:"aspect"`
	Hops            int    `json:"hops"`
	Via             string `json:"via,omitempty"`
}

type announceResponse struct {
	Status      string `json:"status"`
	Destination string `json:"destination"`
	Hops        int    `json:"hops"`
}

func (g *Gateway) meshPathsHandler(w http.ResponseWriter, r *http.Request) {
	paths := g.deps.Transport.Paths().Paths()
	if paths == nil {
		paths = []mesh.PathEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, pathsResponse{Paths: paths, Count: len(paths)})
}

// meshAnnounceHandler handles POST /v1/mesh/announces
func (g *Gateway) meshAnnounceHandler(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := httputil.DecodeJSONStrict(w, r, &req); err != nil {
		writeError(w, r, errors.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err), nil))
		return
	}

	a, err := req.toAnnounce()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.deps.Transport.Inbound(a); err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, announceResponse{
		Status:      "accepted",
		Destination: hex.EncodeToString(a.DestinationHash),
		Hops:        a.Hops,
	})
}

func (req announceRequest) toAnnounce() (mesh.Announce, error) {
	dest, ok := httputil.ParseDestinationHash(req.DestinationHash)
	if !ok {
		return mesh.Announce{}, errors.NewValidationError("destination_hash", "must be a non-empty hex string", req.DestinationHash)
	}
	if !httputil.ValidateAspect(req.Aspect) {
		return mesh.Announce{}, errors.NewValidationError("aspect", "must be dotted name components", req.Aspect)
	}
	var appData []byte
	if req.AppData != "" {
		b, err := httputil.DecodeBase64(req.AppData)
		if err != nil {
			return mesh.Announce{}, errors.NewValidationError("app_data", "must be base64", nil)
		}
		appData = b
	}
	var identity []byte
	if req.Identity != "" {
		b, err := httputil.DecodeBase64(req.Identity)
		if err != nil {
			return mesh.Announce{}, errors.NewValidationError("identity", "must be base64", nil)
		}
		identity = b
	}
	return mesh.Announce{
		DestinationHash: dest,
		Identity:        identity,
		AppData:         appData,
		Aspect:          req.Aspect,
		Hops:            req.Hops,
		Via:             req.Via,
		Origin:          mesh.OriginLocal,
	}, nil
}
