package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/airlock-term/airlock/internal/tabs"
)

type wsServerMessage struct {
	Type      string      `json:"type"` // status, error, layout, result
	Event     string      `json:"event,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	ReadOnly  bool        `json:"readOnly,omitempty"`
	Layout    *tabs.State `json:"layout,omitempty"`
	Time      time.Time   `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// handleLayoutWS pushes the layout on connect and after every change, and
// accepts layout commands from the client.
func (s *Server) handleLayoutWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.CommandBurst)

	changes, unsubscribe := s.registry.Subscribe()
	defer unsubscribe()

	_ = writer.WriteJSON(wsServerMessage{
		Type:     "status",
		Event:    "connected",
		ReadOnly: s.cfg.ReadOnly,
		Time:     time.Now().UTC(),
	})
	sendLayout := func() error {
		state := s.registry.Snapshot()
		return writer.WriteJSON(wsServerMessage{Type: "layout", Layout: &state, Time: time.Now().UTC()})
	}
	if err := sendLayout(); err != nil {
		return
	}

	ctx := r.Context()
	readerDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-readerDone:
				return
			case <-changes:
				if err := sendLayout(); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(readerDone)

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
					slog.String("socket", "layout"),
					slog.String("error", err.Error()))
			}
			return
		}

		var cmd layoutCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		if cmd.Type == "ping" {
			_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "pong", RequestID: cmd.RequestID, Time: time.Now().UTC()})
			continue
		}
		if s.cfg.ReadOnly {
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "error",
				Code:      "READ_ONLY",
				Message:   "layout changes are disabled in read-only mode",
				RequestID: cmd.RequestID,
				Time:      time.Now().UTC(),
			})
			continue
		}
		if !limiter.Allow() {
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "error",
				Code:      "RATE_LIMITED",
				Message:   "too many commands",
				RequestID: cmd.RequestID,
				Time:      time.Now().UTC(),
			})
			continue
		}

		res, cerr := s.execute(ctx, cmd)
		if cerr != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "error",
				Code:      cerr.code,
				Message:   cerr.message,
				RequestID: cmd.RequestID,
				Time:      time.Now().UTC(),
			})
			continue
		}
		_ = writer.WriteJSON(res)
	}
}
