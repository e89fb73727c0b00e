package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"playbackd/internal/models"
)

const wsWriteTimeout = 5 * time.Second
const wsPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is handled by the CORS middleware; the ws
	// handshake honors the same single-origin setting.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEvent struct {
	Event   string                `json:"event"`
	Payload models.PlaybackStatus `json:"payload"`
}

// handleStatusWS upgrades the connection and pushes every status event
// as a named-event frame. The read side only services close/pong frames;
// commands go over the HTTP surface.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := s.player.Subscribe()
	defer s.player.Unsubscribe(ch)

	// Drain reads so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	send := func(status models.PlaybackStatus) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(wsEvent{Event: "status", Payload: status})
	}

	if err := send(s.player.Status()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case status, ok := <-ch:
			if !ok {
				return
			}
			if err := send(status); err != nil {
				return
			}
		}
	}
}
