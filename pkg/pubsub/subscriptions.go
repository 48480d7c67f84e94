package pubsub

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func generateHandlerID() HandlerID {
	return HandlerID(uuid.New().String())
}

// Subscribe subscribes to a topic with a handler.
// Multiple handlers can subscribe to the same topic; they share one
// underlying libp2p subscription.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if m.pubsub == nil {
		return fmt.Errorf("pubsub not initialized")
	}
	namespacedTopic := m.namespaced(ctx, topic)

	m.mu.Lock()
	defer m.mu.Unlock()

	if topicSub, exists := m.subscriptions[namespacedTopic]; exists {
		topicSub.mu.Lock()
		topicSub.handlers[generateHandlerID()] = handler
		topicSub.refCount++
		topicSub.mu.Unlock()
		return nil
	}

	libp2pTopic, err := m.getOrCreateTopicLocked(namespacedTopic)
	if err != nil {
		return fmt.Errorf("failed to get topic: %w", err)
	}

	sub, err := libp2pTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	topicSub := &topicSubscription{
		sub:      sub,
		cancel:   cancel,
		handlers: map[HandlerID]MessageHandler{generateHandlerID(): handler},
		refCount: 1,
	}
	m.subscriptions[namespacedTopic] = topicSub

	go func() {
		defer sub.Cancel()

		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				continue
			}

			topicSub.mu.RLock()
			handlers := make([]MessageHandler, 0, len(topicSub.handlers))
			for _, h := range topicSub.handlers {
				handlers = append(handlers, h)
			}
			topicSub.mu.RUnlock()

			for _, h := range handlers {
				_ = h(topic, msg.Data, msg.ReceivedFrom)
			}
		}
	}()

	return nil
}

// Unsubscribe decrements the subscription refcount for a topic.
// The subscription is only cancelled when refcount reaches zero.
func (m *Manager) Unsubscribe(ctx context.Context, topic string) error {
	namespacedTopic := m.namespaced(ctx, topic)

	m.mu.Lock()
	defer m.mu.Unlock()

	topicSub, exists := m.subscriptions[namespacedTopic]
	if !exists {
		return nil
	}

	topicSub.mu.Lock()
	topicSub.refCount--
	shouldCancel := topicSub.refCount <= 0
	topicSub.mu.Unlock()

	if shouldCancel {
		topicSub.cancel()
		delete(m.subscriptions, namespacedTopic)
	}
	return nil
}
