package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/gateway"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Hub.DataDir = t.TempDir()
	cfg.Database.Enabled = false
	cfg.HTTPGateway.Enabled = false
	return cfg
}

func announce(t *testing.T, h *Hub, dest []byte, hops, stampCost int, enabled bool) {
	t.Helper()
	data, err := mesh.EncodePropagationAnnounceData(mesh.PropagationNodeInfo{
		Enabled:       enabled,
		TransferLimit: 256,
		SyncLimit:     10240,
		StampCost:     stampCost,
		Name:          "relay",
	})
	require.NoError(t, err)
	require.NoError(t, h.Transport().Inbound(mesh.Announce{
		DestinationHash: dest,
		AppData:         data,
		Aspect:          "lxmf.propagation",
		Hops:            hops,
		Origin:          mesh.OriginLocal,
	}))
}

func runHub(t *testing.T, h *Hub) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("hub did not stop")
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hub.AppName = ""
	_, err := New(cfg, nil)
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)
}

func TestPropagationFallback(t *testing.T) {
	h, err := New(testConfig(t), nil)
	require.NoError(t, err)

	_, err = h.PropagationFallback()
	require.ErrorIs(t, err, errors.ErrNoPropagationNode)

	announce(t, h, []byte{0xaa}, 3, 8, true)
	announce(t, h, []byte{0xbb}, 1, 16, true)
	announce(t, h, []byte{0xcc}, 0, 4, false)

	best, err := h.PropagationFallback()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbb}, best)
}

func TestPropagationFallback_Pinned(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hub.OutboundPropagationNode = "aa"
	h, err := New(cfg, nil)
	require.NoError(t, err)

	announce(t, h, []byte{0xbb}, 1, 8, true)
	best, err := h.PropagationFallback()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbb}, best, "pinned node without a path is skipped")

	// any announce teaches the path, enabled or not
	announce(t, h, []byte{0xaa}, 5, 0, false)
	best, err = h.PropagationFallback()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, best)
}

func TestReselect_PublishesSelectionEvents(t *testing.T) {
	h, err := New(testConfig(t), nil)
	require.NoError(t, err)
	_, events, cancel := h.Events().Subscribe()
	defer cancel()

	announce(t, h, []byte{0xaa}, 2, 8, true)

	var selection *SelectionEvent
	var announces int
	for i := 0; i < 2; i++ {
		ev := <-events
		switch ev.Type {
		case gateway.EventAnnounce:
			announces++
		case gateway.EventSelection:
			sel := ev.Data.(SelectionEvent)
			selection = &sel
		}
	}
	assert.Equal(t, 1, announces)
	require.NotNil(t, selection)
	assert.Equal(t, "aa", selection.Destination)
	assert.Equal(t, "", selection.Previous)

	assert.False(t, h.reselect(), "unchanged selection is not republished")
	assert.Equal(t, []byte{0xaa}, h.Selected())
}

func TestRun_ReselectsWhenCandidateGoesStale(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	h, err := New(testConfig(t), nil, WithClock(clk))
	require.NoError(t, err)

	stop := runHub(t, h)
	defer stop()

	announce(t, h, []byte{0xaa}, 2, 8, true)
	require.Equal(t, []byte{0xaa}, h.Selected())

	require.Eventually(t, func() bool {
		clk.Add(10 * time.Minute)
		return len(h.Selected()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_PersistsAndRestoresHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true

	h, err := New(cfg, nil)
	require.NoError(t, err)
	stop := runHub(t, h)

	require.Eventually(t, func() bool { return h.history.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	announce(t, h, []byte{0xaa, 0x01}, 2, 8, true)
	announce(t, h, []byte{0xbb, 0x02}, 1, 16, true)

	require.Eventually(t, func() bool {
		w := h.history.Load()
		return w != nil && w.Stats().Written == 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	restarted, err := New(cfg, nil)
	require.NoError(t, err)
	stop = runHub(t, restarted)
	defer stop()

	require.Eventually(t, func() bool { return restarted.Registry().Len() == 2 }, 5*time.Second, 10*time.Millisecond)
	c, ok := restarted.Registry().Get("aa01")
	require.True(t, ok)
	require.NotNil(t, c.StampCost)
	assert.Equal(t, 8, *c.StampCost)

	// restored entries wait for a fresh path before they are eligible
	_, err = restarted.PropagationFallback()
	assert.ErrorIs(t, err, errors.ErrNoPropagationNode)
}

func TestRun_Twice(t *testing.T) {
	h, err := New(testConfig(t), nil)
	require.NoError(t, err)
	stop := runHub(t, h)
	defer stop()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.running
	}, time.Second, 10*time.Millisecond)
	assert.Error(t, h.Run(context.Background()))
}

func TestRun_DatabaseOpenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Database.DSN = filepath.Join(blocker, "sub", "rnshub.db")

	h, err := New(cfg, nil)
	require.NoError(t, err)

	err = h.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "failed to open announce history")

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.False(t, h.running)
}

func TestRun_RestartKeepsEventStream(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPGateway.Enabled = true
	cfg.HTTPGateway.ListenAddr = "127.0.0.1:0"

	h, err := New(cfg, nil)
	require.NoError(t, err)

	stop := runHub(t, h)
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.gateway != nil
	}, 5*time.Second, 10*time.Millisecond)
	_, first, _ := h.Events().Subscribe()
	stop()

	_, open := <-first
	assert.False(t, open, "subscribers are disconnected when the hub stops")

	stop = runHub(t, h)
	defer stop()

	_, events, cancel := h.Events().Subscribe()
	defer cancel()
	announce(t, h, []byte{0xcc, 0x03}, 1, 8, true)

	select {
	case ev, ok := <-events:
		require.True(t, ok)
		assert.Equal(t, gateway.EventAnnounce, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after restart")
	}
}
