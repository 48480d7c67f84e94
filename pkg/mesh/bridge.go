package mesh

import (
	"context"
	"fmt"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// AnnounceTopic is the gossip topic (before namespacing) announces travel on.
const AnnounceTopic = "announces"

// Gossip is the subset of the pubsub manager the bridge needs.
type Gossip interface {
	Self() peer.ID
	Subscribe(ctx context.Context, topic string, handler pubsub.MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, data []byte) error
}

// announceFrame is the wire form of an Announce between hubs.
type announceFrame struct {
	DestinationHash []byte `msgpack:"d"`
	Identity        []byte `msgpack:"i,omitempty"`
	AppData         []byte `msgpack:"a,omitempty"`
	Aspect          string `msgpack:"s"`
	Hops            int    `msgpack:"h"`
}

// Bridge relays announces between hubs. Locally ingested announces are
// published; frames from other hubs enter the transport one hop further away.
type Bridge struct {
	transport *Transport
	gossip    Gossip
	logger    *logging.ColoredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge between transport and gossip.
func NewBridge(transport *Transport, gossip Gossip, logger *logging.ColoredLogger) *Bridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bridge{
		transport: transport,
		gossip:    gossip,
		logger:    logger,
	}
}

// Start subscribes to the announce topic and begins forwarding local announces.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.gossip.Subscribe(b.ctx, AnnounceTopic, b.handleFrame); err != nil {
		return fmt.Errorf("subscribe to %s: %w", AnnounceTopic, err)
	}
	b.transport.Observe(b.forward)

	b.logger.ComponentInfo(logging.ComponentMesh, "Announce bridge started",
		zap.String("peer_id", b.gossip.Self().String()))
	return nil
}

// Stop unsubscribes from the announce topic.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	_ = b.gossip.Unsubscribe(context.Background(), AnnounceTopic)
	b.cancel()
}

func (b *Bridge) forward(a Announce) {
	if a.Origin == OriginGossip || b.ctx == nil || b.ctx.Err() != nil {
		return
	}
	data, err := EncodeAnnounceFrame(a)
	if err != nil {
		b.logger.ComponentWarn(logging.ComponentMesh, "Failed to encode announce frame", zap.Error(err))
		return
	}
	if err := b.gossip.Publish(b.ctx, AnnounceTopic, data); err != nil {
		b.logger.ComponentWarn(logging.ComponentMesh, "Failed to publish announce", zap.Error(err))
	}
}

func (b *Bridge) handleFrame(_ string, data []byte, from peer.ID) error {
	if from == b.gossip.Self() {
		return nil
	}
	a, err := DecodeAnnounceFrame(data)
	if err != nil {
		b.logger.ComponentDebug(logging.ComponentMesh, "Dropping malformed announce frame",
			zap.String("from", from.String()), zap.Error(err))
		return err
	}
	a.Hops++
	a.Via = from.String()
	a.Origin = OriginGossip

	if err := b.transport.Inbound(a); err != nil {
		b.logger.ComponentDebug(logging.ComponentMesh, "Relayed announce rejected",
			zap.String("from", from.String()), zap.Error(err))
		return err
	}
	return nil
}

// EncodeAnnounceFrame serializes an announce for gossip.
func EncodeAnnounceFrame(a Announce) ([]byte, error) {
	return msgpack.Marshal(&announceFrame{
		DestinationHash: a.DestinationHash,
		Identity:        a.Identity,
		AppData:         a.AppData,
		Aspect:          a.Aspect,
		Hops:            a.Hops,
	})
}

// DecodeAnnounceFrame parses a gossip frame. Via and Origin are left for the
// caller to fill in.
func DecodeAnnounceFrame(data []byte) (Announce, error) {
	var f announceFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Announce{}, fmt.Errorf("decode announce frame: %w", err)
	}
	if len(f.DestinationHash) == 0 {
		return Announce{}, fmt.Errorf("decode announce frame: missing destination hash")
	}
	return Announce{
		DestinationHash: f.DestinationHash,
		Identity:        f.Identity,
		AppData:         f.AppData,
		Aspect:          f.Aspect,
		Hops:            f.Hops,
	}, nil
}
