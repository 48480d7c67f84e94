package pubsub

import (
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// getOrCreateTopicLocked returns a joined topic. Caller must hold m.mu.
func (m *Manager) getOrCreateTopicLocked(topicName string) (*pubsub.Topic, error) {
	if topic, exists := m.topics[topicName]; exists {
		return topic, nil
	}

	topic, err := m.pubsub.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}

	m.topics[topicName] = topic
	return topic, nil
}
