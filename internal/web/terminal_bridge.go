package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/airlock-term/airlock/internal/session"
)

type wsClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// handleTerminalWS attaches a client to one session: output is sent as
// binary frames, input and resize arrive as JSON messages.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Terminals == nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	const prefix = "/ws/terminal/"
	sessionID := strings.TrimPrefix(r.URL.Path, prefix)
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	output, cancelOutput, err := s.cfg.Terminals.Output(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to attach session")
		return
	}
	defer cancelOutput()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	_ = writer.WriteJSON(wsServerMessage{
		Type:      "status",
		Event:     "connected",
		SessionID: sessionID,
		ReadOnly:  s.cfg.ReadOnly,
		Time:      time.Now().UTC(),
	})

	go s.streamOutput(r, sessionID, output, writer, conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.writeTerminalError(writer, sessionID, "INVALID_MESSAGE", "invalid json payload")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "pong",
				SessionID: sessionID,
				Time:      time.Now().UTC(),
			})
		case "input":
			if s.cfg.ReadOnly {
				s.writeTerminalError(writer, sessionID, "READ_ONLY", "input is disabled in read-only mode")
				continue
			}
			if msg.Data == "" {
				continue
			}
			if err := s.cfg.Terminals.Write(sessionID, []byte(msg.Data)); err != nil {
				s.writeTerminalError(writer, sessionID, "INPUT_WRITE_FAILED", "failed to send input to terminal")
			}
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 {
				s.writeTerminalError(writer, sessionID, "INVALID_MESSAGE", "cols and rows must be positive")
				continue
			}
			if err := s.cfg.Terminals.Resize(sessionID, session.Size{Cols: msg.Cols, Rows: msg.Rows}); err != nil {
				s.writeTerminalError(writer, sessionID, "RESIZE_FAILED", "failed to resize terminal")
			}
		default:
			s.writeTerminalError(writer, sessionID, "UNSUPPORTED_MESSAGE", "supported message types: ping,input,resize")
		}
	}
}

// streamOutput copies session output to the socket. When the session ends
// the client gets a session_closed status and the socket is closed.
func (s *Server) streamOutput(r *http.Request, sessionID string, output <-chan []byte, writer *wsConnWriter, conn *websocket.Conn) {
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case chunk, ok := <-output:
			if !ok {
				if done, err := s.cfg.Terminals.Done(sessionID); err != nil || isClosed(done) {
					_ = writer.WriteJSON(wsServerMessage{
						Type:      "status",
						Event:     "session_closed",
						SessionID: sessionID,
						Time:      time.Now().UTC(),
					})
				}
				_ = conn.Close()
				return
			}
			if err := writer.WriteBinary(chunk); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Server) writeTerminalError(writer *wsConnWriter, sessionID, code, message string) {
	_ = writer.WriteJSON(wsServerMessage{
		Type:      "error",
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
	})
}
