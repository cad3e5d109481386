package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

// WSMessage is the envelope for push-channel frames.
type WSMessage struct {
	Type string `json:"type"` // snapshot | event
	Data any    `json:"data"`
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// snapshotPayload is the full-state message sent on every (re)connect, so a
// reconnecting dashboard never has to reconstruct state from a gappy event
// stream.
func snapshotPayload(svc *orchestrator.Service) WSMessage {
	return WSMessage{Type: "snapshot", Data: svc.Snapshot()}
}

// handleEventsWS upgrades the connection, sends a state snapshot, then
// streams lifecycle events. Missed events while disconnected are not
// replayed; the next connect's snapshot covers the gap.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(snapshotPayload(s.deps.Service)); err != nil {
		return
	}

	sub := s.deps.Service.Subscribe()
	defer sub.Close()

	// Drain client frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(WSMessage{Type: "event", Data: ev}); err != nil {
				return
			}
		}
	}
}
