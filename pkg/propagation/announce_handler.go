package propagation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"go.uber.org/zap"
)

// AspectSuffix is appended to the application name to form the announce
// aspect propagation nodes broadcast on.
const AspectSuffix = "propagation"

// HandlerOption configures an AnnounceHandler.
type HandlerOption func(*AnnounceHandler)

// WithValidator replaces the structural pre-check applied to app data.
func WithValidator(fn func(appData []byte) bool) HandlerOption {
	return func(h *AnnounceHandler) {
		if fn != nil {
			h.validate = fn
		}
	}
}

// WithDecoder replaces the app data decoder.
func WithDecoder(fn func(appData []byte) ([]any, error)) HandlerOption {
	return func(h *AnnounceHandler) {
		if fn != nil {
			h.decode = fn
		}
	}
}

// WithOnRecorded registers a callback invoked after each candidate is stored.
func WithOnRecorded(fn func(Candidate)) HandlerOption {
	return func(h *AnnounceHandler) {
		h.onRecorded = fn
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *logging.ColoredLogger) HandlerOption {
	return func(h *AnnounceHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// AnnounceHandler turns propagation node announces into registry records.
// It satisfies mesh.AnnounceHandler.
type AnnounceHandler struct {
	registry   *Registry
	aspect     string
	validate   func([]byte) bool
	decode     func([]byte) ([]any, error)
	onRecorded func(Candidate)
	logger     *logging.ColoredLogger
}

var _ mesh.AnnounceHandler = (*AnnounceHandler)(nil)

// NewAnnounceHandler creates a handler feeding registry for announces on
// "<appName>.propagation".
func NewAnnounceHandler(registry *Registry, appName string, opts ...HandlerOption) *AnnounceHandler {
	h := &AnnounceHandler{
		registry: registry,
		aspect:   strings.TrimSuffix(appName, ".") + "." + AspectSuffix,
		validate: mesh.PropagationAnnounceDataIsValid,
		decode:   mesh.DecodeAnnounceData,
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AspectFilter implements mesh.AnnounceHandler.
func (h *AnnounceHandler) AspectFilter() string {
	return h.aspect
}

// ReceivedAnnounce implements mesh.AnnounceHandler. Rejected announces are
// dropped silently; nothing escapes to the transport.
func (h *AnnounceHandler) ReceivedAnnounce(destinationHash []byte, _ []byte, appData []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ComponentError(logging.ComponentPropagation, "Propagation announce handling panicked",
				zap.String("destination", hex.EncodeToString(destinationHash)),
				zap.Any("panic", rec))
		}
	}()

	a, err := h.Evaluate(destinationHash, appData)
	if err != nil {
		h.logger.ComponentDebug(logging.ComponentPropagation, "Ignoring propagation announce",
			zap.String("destination", hex.EncodeToString(destinationHash)),
			zap.Error(err))
		return
	}

	c, ok := h.registry.RecordAnnounce(a)
	if !ok {
		return
	}
	h.logger.ComponentDebug(logging.ComponentPropagation, "Recorded propagation node",
		zap.String("destination", c.Destination),
		zap.String("name", c.Name),
		zap.Any("hops", c.Hops),
		zap.Any("stamp_cost", c.StampCost))

	if h.onRecorded != nil {
		h.onRecorded(c)
	}
}

// Evaluate runs the acceptance checks on an announce and returns the
// announcement to record, or a validation error naming the failed check.
func (h *AnnounceHandler) Evaluate(destinationHash []byte, appData []byte) (Announcement, error) {
	if len(destinationHash) == 0 {
		return Announcement{}, errors.NewAnnounceError("destination_hash", "must be a non-empty byte sequence", nil)
	}
	if len(appData) == 0 {
		return Announcement{}, errors.NewAnnounceError("app_data", "missing", nil)
	}
	if !h.validate(appData) {
		return Announcement{}, errors.NewAnnounceError("app_data", "failed propagation announce validation", len(appData))
	}

	fields, err := h.decode(appData)
	if err != nil {
		return Announcement{}, errors.NewAnnounceError("app_data", fmt.Sprintf("undecodable: %v", err), len(appData))
	}
	if len(fields) < mesh.PNFieldCount {
		return Announcement{}, errors.NewAnnounceError("app_data",
			fmt.Sprintf("expected at least %d fields", mesh.PNFieldCount), len(fields))
	}
	if enabled, ok := fields[mesh.PNFieldEnabled].(bool); !ok || !enabled {
		return Announcement{}, errors.NewAnnounceError("propagation_enabled", "node is not an active propagation relay",
			fields[mesh.PNFieldEnabled])
	}

	// Distance comes from the local routing table, never the payload.
	var hops *int
	if h.registry.HasPath(destinationHash) {
		hops = h.registry.HopsTo(destinationHash)
	}

	return Announcement{
		DestinationHash:    destinationHash,
		Name:               nodeName(fields[mesh.PNFieldMetadata]),
		Hops:               hops,
		StampCost:          stampCost(fields[mesh.PNFieldStampCosts]),
		TransferLimit:      optionalInt(fields[mesh.PNFieldTransferLimit]),
		SyncLimit:          optionalInt(fields[mesh.PNFieldSyncLimit]),
		PropagationEnabled: true,
	}, nil
}

func optionalInt(v any) *int {
	n, ok := mesh.AsInt(v)
	if !ok {
		return nil
	}
	return &n
}

// stampCost reads the first element of the stamp cost list. Any other
// shape yields nil.
func stampCost(v any) *int {
	costs, ok := v.([]any)
	if !ok || len(costs) == 0 {
		return nil
	}
	return optionalInt(costs[0])
}

func nodeName(v any) string {
	meta, ok := v.(map[any]any)
	if !ok {
		return ""
	}
	for k, val := range meta {
		if n, ok := mesh.AsInt(k); !ok || n != mesh.PNMetaName {
			continue
		}
		switch name := val.(type) {
		case []byte:
			return string(name)
		case string:
			return name
		}
	}
	return ""
}
