package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/database"
	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

type testEnv struct {
	gw        *Gateway
	registry  *propagation.Registry
	transport *mesh.Transport
}

type stubSelector struct {
	hash []byte
	err  error
}

func (s stubSelector) PropagationFallback() ([]byte, error) { return s.hash, s.err }

type stubHistory struct {
	recs  []database.AnnounceRecord
	limit int
}

func (s *stubHistory) Recent(_ context.Context, limit int) ([]database.AnnounceRecord, error) {
	s.limit = limit
	return s.recs, nil
}

func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()
	transport := mesh.NewTransport(mesh.NewPathTable(0, nil), nil)
	registry := propagation.NewRegistry(transport)
	transport.RegisterAnnounceHandler(propagation.NewAnnounceHandler(registry, "lxmf"))

	deps := Dependencies{Registry: registry, Transport: transport}
	if mutate != nil {
		mutate(&deps)
	}
	cfg := config.DefaultConfig().HTTPGateway
	gw, err := New(cfg, deps, nil)
	require.NoError(t, err)
	return &testEnv{gw: gw, registry: registry, transport: transport}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func appData(t *testing.T, enabled bool, stampCost int) string {
	t.Helper()
	data, err := mesh.EncodePropagationAnnounceData(mesh.PropagationNodeInfo{
		Enabled:       enabled,
		TransferLimit: 256,
		SyncLimit:     10240,
		StampCost:     stampCost,
		Name:          "relay",
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func (e *testEnv) postAnnounce(t *testing.T, req announceRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/v1/mesh/announces", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(config.DefaultConfig().HTTPGateway, Dependencies{}, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
}

func TestAnnounceIngestAndSelection(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postAnnounce(t, announceRequest{
		DestinationHash: "aa01", AppData: appData(t, true, 16), Aspect: "lxmf.propagation", Hops: 3,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = env.postAnnounce(t, announceRequest{
		DestinationHash: "bb02", AppData: appData(t, true, 8), Aspect: "lxmf.propagation", Hops: 1,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/propagation/best", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	best := decode[bestResponse](t, rec)
	assert.Equal(t, "bb02", best.Destination)
	require.NotNil(t, best.Candidate)
	require.NotNil(t, best.Candidate.Hops)
	assert.Equal(t, 1, *best.Candidate.Hops)

	rec = env.do(t, http.MethodGet, "/v1/propagation/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nodes := decode[nodesResponse](t, rec)
	assert.Equal(t, 2, nodes.Count)
	for _, n := range nodes.Nodes {
		assert.True(t, n.Eligible, n.Destination)
	}

	rec = env.do(t, http.MethodGet, "/v1/mesh/paths", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[pathsResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.EqualValues(t, 2, status["candidates"])
	assert.EqualValues(t, 2, status["eligible"])
	assert.Equal(t, "bb02", status["best"].(map[string]any)["destination"])
}

func TestAnnounceIngest_DisabledNodeNotSelected(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.postAnnounce(t, announceRequest{
		DestinationHash: "cc03", AppData: appData(t, false, 8), Aspect: "lxmf.propagation", Hops: 1,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, env.registry.Len())
	assert.True(t, env.transport.HasPath([]byte{0xcc, 0x03}))

	rec = env.do(t, http.MethodGet, "/v1/propagation/best", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no propagation node")
}

func TestAnnounceIngest_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad json", `{"destination_hash":`, "body"},
		{"unknown field", `{"destination_hash":"aa","aspect":"lxmf.propagation","bogus":1}`, "body"},
		{"bad hash", `{"destination_hash":"xyz","aspect":"lxmf.propagation"}`, "destination_hash"},
		{"bad aspect", `{"destination_hash":"aa","aspect":"lxmf..propagation"}`, "aspect"},
		{"bad app data", `{"destination_hash":"aa","aspect":"lxmf.propagation","app_data":"!!"}`, "app_data"},
		{"bad hops", `{"destination_hash":"aa","aspect":"lxmf.propagation","hops":-1}`, "hops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/mesh/announces", []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			httpErr := decode[errors.HTTPError](t, rec)
			assert.Equal(t, tt.field, httpErr.Details["field"])
			assert.NotEmpty(t, httpErr.TraceID)
		})
	}
}

func TestBest_UsesSelector(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.Selector = stubSelector{hash: []byte{0xde, 0xad}}
	})
	rec := env.do(t, http.MethodGet, "/v1/propagation/best", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	best := decode[bestResponse](t, rec)
	assert.Equal(t, "dead", best.Destination)
	assert.Nil(t, best.Candidate)

	env = newTestEnv(t, func(d *Dependencies) {
		d.Selector = stubSelector{err: errors.ErrNoPropagationNode}
	})
	rec = env.do(t, http.MethodGet, "/v1/propagation/best", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/propagation/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	history := &stubHistory{recs: []database.AnnounceRecord{{ID: "1", Destination: "aa"}}}
	env = newTestEnv(t, func(d *Dependencies) {
		d.History = history
		d.HistoryStats = func() database.HistoryStats { return database.HistoryStats{Written: 1} }
	})

	rec = env.do(t, http.MethodGet, "/v1/propagation/history?limit=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, history.limit)
	assert.Equal(t, 1, decode[historyResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"written":1`)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.postAnnounce(t, announceRequest{
		DestinationHash: "aa01", AppData: appData(t, true, 16), Aspect: "lxmf.propagation", Hops: 3,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "rnshub_propagation_candidates 1")
	assert.Contains(t, body, "rnshub_propagation_eligible 1")
	assert.Contains(t, body, `rnshub_propagation_candidate_hops{destination="aa01"} 3`)
	assert.Contains(t, body, `rnshub_mesh_announces_total{result="received"} 1`)
	assert.NotContains(t, body, "rnshub_history_records_total")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodDelete, "/v1/propagation/nodes", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[errors.HTTPError](t, rec)
	assert.Equal(t, errors.CodeNotFound, body.Code)
	assert.Equal(t, "route", body.Details["resource"])
	assert.Equal(t, "/v1/nope", body.Details["id"])
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.gw.Events().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.gw.Events().Publish(Event{Type: EventSelection, Data: map[string]string{"destination": "aa01"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventSelection, ev.Type)
	assert.Equal(t, "aa01", ev.Data["destination"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.gw.Events().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gw.cfg.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.gw.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestStop_LeavesSharedEventsOpen(t *testing.T) {
	shared := NewEventHub(4, nil)
	env := newTestEnv(t, func(d *Dependencies) { d.Events = shared })
	_, before, _ := shared.Subscribe()

	require.NoError(t, env.gw.Stop())
	_, open := <-before
	assert.False(t, open, "subscribers are disconnected on stop")

	_, after, cancel := shared.Subscribe()
	defer cancel()
	shared.Publish(Event{Type: EventSelection})
	ev, open := <-after
	require.True(t, open)
	assert.Equal(t, EventSelection, ev.Type)
}

func TestStop_ClosesOwnEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.gw.Stop())

	_, ch, _ := env.gw.Events().Subscribe()
	_, open := <-ch
	assert.False(t, open)
}
