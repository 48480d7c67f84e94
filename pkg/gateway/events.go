package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
)

// Event types streamed over /v1/events/ws.
const (
	EventAnnounce  = "announce"
	EventSelection = "selection"
)

const defaultEventBuffer = 64

// Event is one message on the event stream.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// EventHub fans events out to subscribers. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type EventHub struct {
	buffer int
	logger *logging.ColoredLogger

	mu      sync.RWMutex
	clients map[string]chan Event
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventHub creates a hub giving each subscriber a buffer of the given size.
func NewEventHub(buffer int, logger *logging.ColoredLogger) *EventHub {
	if buffer < 1 {
		buffer = defaultEventBuffer
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventHub{
		buffer:  buffer,
		logger:  logger,
		clients: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel; it is safe to call more than once.
func (h *EventHub) Subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if c, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(c)
			}
			h.mu.Unlock()
		})
	}
	return id, ch, cancel
}

// Publish delivers ev to every subscriber. A zero Time is set to now.
func (h *EventHub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.published.Add(1)
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.ComponentDebug(logging.ComponentGateway, "Event subscriber slow, dropping event",
				zap.String("client_id", id), zap.String("type", ev.Type))
		}
	}
}

// Clients returns the number of live subscribers.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Disconnect closes every current subscriber. The hub stays open for new
// subscriptions.
func (h *EventHub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked()
}

// Close disconnects all subscribers. Later subscriptions get a closed channel.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.disconnectLocked()
}

func (h *EventHub) disconnectLocked() {
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}
