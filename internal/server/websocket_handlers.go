package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress is read-only; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message types pushed on a progress stream.
const (
	MessageProgress = "progress"
	MessageComplete = "complete"
)

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string             `json:"type"`
	Payload *pipeline.Snapshot `json:"payload,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// progressWebSocketHandler streams a run's snapshots until it completes or
// the client goes away.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("progress stream opened", "run_id", m.RunID(), "remote_addr", r.RemoteAddr)
	s.streamProgress(conn, m)
}

func (s *Server) streamProgress(conn *websocket.Conn, m *pipeline.Manager) {
	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	snap := m.Progress()
	if !s.sendWebSocketMessage(conn, WebSocketMessage{Type: MessageProgress, Payload: &snap}) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-m.Done():
			final := m.Progress()
			if s.sendWebSocketMessage(conn, WebSocketMessage{Type: MessageComplete, Payload: &final}) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
					time.Now().Add(wsWriteWait))
			}
			return
		case <-ticker.C:
			snap := m.Progress()
			if !s.sendWebSocketMessage(conn, WebSocketMessage{Type: MessageProgress, Payload: &snap}) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readUntilClosed consumes client frames so pongs and close frames are
// processed, and closes gone once the connection fails.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("progress stream closed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

// sendWebSocketMessage writes one JSON message and reports success.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}
