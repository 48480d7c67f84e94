package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventsWebsocketHandler streams hub events as JSON text frames. Client
// messages are read and discarded so that close frames are noticed.
func (g *Gateway) eventsWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "events ws: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, events, cancel := g.deps.Events.Subscribe()
	defer cancel()

	g.logger.ComponentInfo(logging.ComponentGateway, "events ws: client connected",
		zap.String("client_id", id), zap.String("remote", r.RemoteAddr))

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				g.logger.ComponentDebug(logging.ComponentGateway, "events ws: write failed",
					zap.String("client_id", id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-readerDone:
			g.logger.ComponentInfo(logging.ComponentGateway, "events ws: client disconnected",
				zap.String("client_id", id))
			return
		}
	}
}
