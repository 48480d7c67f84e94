// Package gateway is the hub's northbound HTTP and WebSocket API.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/database"
	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

// Selector resolves the outbound propagation node.
type Selector interface {
	PropagationFallback() ([]byte, error)
}

// HistoryReader lists persisted announces, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]database.AnnounceRecord, error)
}

// Dependencies are the hub components served by the gateway. Registry and
// Transport are required; the rest may be nil.
type Dependencies struct {
	Registry     *propagation.Registry
	Transport    *mesh.Transport
	Selector     Selector
	History      HistoryReader
	HistoryStats func() database.HistoryStats
	PeerID       func() string
	Events       *EventHub
}

// Gateway serves the hub API.
type Gateway struct {
	cfg       config.HTTPGatewayConfig
	deps      Dependencies
	logger    *logging.ColoredLogger
	router    chi.Router
	startedAt time.Time

	// ownsEvents is set when New created the event hub itself.
	ownsEvents bool

	mu     sync.Mutex
	server *http.Server
}

// New builds a gateway and its routes.
func New(cfg config.HTTPGatewayConfig, deps Dependencies, logger *logging.ColoredLogger) (*Gateway, error) {
	if deps.Registry == nil || deps.Transport == nil {
		return nil, fmt.Errorf("gateway requires a registry and a transport")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ownsEvents := deps.Events == nil
	if ownsEvents {
		deps.Events = NewEventHub(cfg.EventBuffer, logger)
	}
	g := &Gateway{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		startedAt:  time.Now(),
		ownsEvents: ownsEvents,
	}
	g.router = g.routes()
	return g, nil
}

// Handler returns the router with all middleware applied.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Events returns the event hub backing /v1/events/ws.
func (g *Gateway) Events() *EventHub {
	return g.deps.Events
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.ListenAddr, err)
	}
	return g.Serve(ctx, listener)
}

// Serve is Start with a caller-provided listener.
func (g *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.mu.Lock()
	g.server = srv
	g.mu.Unlock()

	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway starting",
		zap.String("listen_addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			g.logger.ComponentError(logging.ComponentGateway, "HTTP gateway server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
		return g.Stop()
	}
}

// Stop gracefully stops the server and disconnects event subscribers. An
// event hub passed in through Dependencies is left open for its owner.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	srv := g.server
	g.server = nil
	g.mu.Unlock()

	if g.ownsEvents {
		g.deps.Events.Close()
	} else {
		g.deps.Events.Disconnect()
	}
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		g.logger.ComponentError(logging.ComponentGateway, "HTTP gateway shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func (g *Gateway) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newHubCollector(g.deps))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.NewNotFoundError("route", r.URL.Path))
	})

	// websocket stream outside the request timeout
	r.Get("/v1/events/ws", g.eventsWebsocketHandler)

	r.Group(func(r chi.Router) {
		if g.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(g.cfg.RequestTimeout))
		}

		r.Get("/health", g.healthHandler)
		r.Get("/v1/status", g.statusHandler)
		r.Method(http.MethodGet, "/metrics", g.metricsHandler())

		r.Route("/v1/propagation", func(r chi.Router) {
			r.Get("/nodes", g.propagationNodesHandler)
			r.Get("/best", g.propagationBestHandler)
			r.Get("/history", g.propagationHistoryHandler)
		})

		r.Route("/v1/mesh", func(r chi.Router) {
			r.Get("/paths", g.meshPathsHandler)
			r.Post("/announces", g.meshAnnounceHandler)
		})
	})
	return r
}
