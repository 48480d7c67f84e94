package pubsub

import (
	"context"
	"strings"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Manager handles pub/sub operations on namespaced gossipsub topics
type Manager struct {
	pubsub        *pubsub.PubSub
	self          peer.ID
	topics        map[string]*pubsub.Topic
	subscriptions map[string]*topicSubscription
	namespace     string
	mu            sync.RWMutex
}

// topicSubscription fans one libp2p subscription out to many handlers
type topicSubscription struct {
	sub      *pubsub.Subscription
	cancel   context.CancelFunc
	handlers map[HandlerID]MessageHandler
	refCount int
	mu       sync.RWMutex
}

// NewManager creates a new pubsub manager. self is the local peer ID, used
// to flag messages the local host published itself.
func NewManager(ps *pubsub.PubSub, self peer.ID, namespace string) *Manager {
	return &Manager{
		pubsub:        ps,
		self:          self,
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]*topicSubscription),
		namespace:     namespace,
	}
}

// Self returns the local peer ID.
func (m *Manager) Self() peer.ID {
	return m.self
}

func (m *Manager) namespaceFor(ctx context.Context) string {
	if v := ctx.Value(CtxKeyNamespaceOverride); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return m.namespace
}

func (m *Manager) namespaced(ctx context.Context, topic string) string {
	return m.namespaceFor(ctx) + "." + topic
}

// ListTopics returns all subscribed topics in the caller's namespace
func (m *Manager) ListTopics(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := m.namespaceFor(ctx) + "."
	var topics []string
	for topic := range m.subscriptions {
		if len(topic) > len(prefix) && strings.HasPrefix(topic, prefix) {
			topics = append(topics, topic[len(prefix):])
		}
	}
	return topics, nil
}

// Close closes all subscriptions and topics
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		sub.cancel()
	}
	m.subscriptions = make(map[string]*topicSubscription)

	for _, topic := range m.topics {
		_ = topic.Close()
	}
	m.topics = make(map[string]*pubsub.Topic)

	return nil
}
