package pubsub

import "github.com/libp2p/go-libp2p/core/peer"

// MessageHandler is called for each message on a subscribed topic. from is
// the peer that originated the message. A returned error is ignored by the
// manager and does not stop delivery to other handlers.
type MessageHandler func(topic string, data []byte, from peer.ID) error

// HandlerID uniquely identifies a handler registration.
type HandlerID string
