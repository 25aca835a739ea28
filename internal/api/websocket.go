package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// handleWebSocket streams the patient's realtime events as JSON frames.
// Incoming frames are discarded; reading only detects disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}

	// Subscribe before upgrading so no event published after the handshake
	// is missed.
	sub, err := s.backend.Hub.Subscribe(patientID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Realtime updates unavailable")
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	s.logger.Debug().
		Str("patient_id", patientID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("patient_id", patientID).Msg("WebSocket client disconnected")
			return

		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Str("patient_id", patientID).Msg("Failed to write WebSocket event")
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains the connection and cancels once it fails.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
