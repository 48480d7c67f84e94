package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestHost(t *testing.T, ctx context.Context, ns string) (host.Host, *Manager) {
	t.Helper()

	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("failed to create libp2p host: %v", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		t.Fatalf("failed to create gossipsub: %v", err)
	}

	mgr := NewManager(ps, h.ID(), ns)
	t.Cleanup(func() {
		mgr.Close()
		h.Close()
	})
	return h, mgr
}

func noopHandler(string, []byte, peer.ID) error { return nil }

func TestManager_Namespacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, mgr := newTestHost(t, ctx, "test-ns")

	topic := "announces"

	if err := mgr.Subscribe(ctx, topic, noopHandler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	mgr.mu.RLock()
	_, exists := mgr.subscriptions["test-ns.announces"]
	mgr.mu.RUnlock()
	if !exists {
		t.Errorf("expected subscription for test-ns.announces to exist")
	}

	overrideCtx := WithNamespace(ctx, "other-ns")
	if err := mgr.Subscribe(overrideCtx, topic, noopHandler); err != nil {
		t.Fatalf("Subscribe with override failed: %v", err)
	}

	mgr.mu.RLock()
	_, exists = mgr.subscriptions["other-ns.announces"]
	mgr.mu.RUnlock()
	if !exists {
		t.Errorf("expected subscription for other-ns.announces to exist")
	}

	topics, err := mgr.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(topics) != 1 || topics[0] != topic {
		t.Errorf("expected [%s], got %v", topic, topics)
	}

	topics, err = mgr.ListTopics(overrideCtx)
	if err != nil {
		t.Fatalf("ListTopics with override failed: %v", err)
	}
	if len(topics) != 1 || topics[0] != topic {
		t.Errorf("expected [%s] with override, got %v", topic, topics)
	}
}

func TestManager_RefCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, mgr := newTestHost(t, ctx, "test-ns")

	topic := "ref-topic"
	namespacedTopic := "test-ns.ref-topic"

	if err := mgr.Subscribe(ctx, topic, noopHandler); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}

	mgr.mu.RLock()
	ts := mgr.subscriptions[namespacedTopic]
	mgr.mu.RUnlock()
	if ts.refCount != 1 {
		t.Errorf("expected refCount 1, got %d", ts.refCount)
	}

	if err := mgr.Subscribe(ctx, topic, noopHandler); err != nil {
		t.Fatalf("second subscribe failed: %v", err)
	}
	if ts.refCount != 2 {
		t.Errorf("expected refCount 2, got %d", ts.refCount)
	}
	if len(ts.handlers) != 2 {
		t.Errorf("expected 2 handlers, got %d", len(ts.handlers))
	}

	if err := mgr.Unsubscribe(ctx, topic); err != nil {
		t.Fatalf("unsubscribe 1 failed: %v", err)
	}
	if ts.refCount != 1 {
		t.Errorf("expected refCount 1 after one unsubscribe, got %d", ts.refCount)
	}

	mgr.mu.RLock()
	_, exists := mgr.subscriptions[namespacedTopic]
	mgr.mu.RUnlock()
	if !exists {
		t.Error("expected subscription to still exist")
	}

	if err := mgr.Unsubscribe(ctx, topic); err != nil {
		t.Fatalf("unsubscribe 2 failed: %v", err)
	}

	mgr.mu.RLock()
	_, exists = mgr.subscriptions[namespacedTopic]
	mgr.mu.RUnlock()
	if exists {
		t.Error("expected subscription to be removed")
	}

	// unknown topics are a no-op
	if err := mgr.Unsubscribe(ctx, "never-subscribed"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestManager_NilPubSub(t *testing.T) {
	mgr := NewManager(nil, "", "test")
	ctx := context.Background()

	if err := mgr.Subscribe(ctx, "t", noopHandler); err == nil {
		t.Error("expected Subscribe to fail without pubsub")
	}
	if err := mgr.Publish(ctx, "t", []byte("x")); err == nil {
		t.Error("expected Publish to fail without pubsub")
	}
}

func TestManager_PubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1, mgr1 := newTestHost(t, ctx, "test")
	h2, mgr2 := newTestHost(t, ctx, "test")

	h1.Peerstore().AddAddrs(h2.ID(), h2.Addrs(), time.Hour)
	if err := h1.Connect(ctx, peer.AddrInfo{ID: h2.ID(), Addrs: h2.Addrs()}); err != nil {
		t.Fatalf("failed to connect hosts: %v", err)
	}

	type delivery struct {
		data []byte
		from peer.ID
	}
	topic := "announces"
	msgData := []byte("hello mesh")
	received := make(chan delivery, 1)

	err := mgr2.Subscribe(ctx, topic, func(_ string, d []byte, from peer.ID) error {
		select {
		case received <- delivery{data: d, from: from}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mgr2 subscribe failed: %v", err)
	}

	// The mesh forms asynchronously, so keep publishing until delivery.
	timeout := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for message")
		case <-ticker.C:
			_ = mgr1.Publish(ctx, topic, msgData)
		case got := <-received:
			if string(got.data) != string(msgData) {
				t.Errorf("expected %s, got %s", msgData, got.data)
			}
			if got.from != h1.ID() {
				t.Errorf("expected message from %s, got %s", h1.ID(), got.from)
			}
			return
		}
	}
}
