package web

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airlock-term/airlock/internal/tabs"
)

var layoutEventsHeartbeatInterval = 15 * time.Second

// handleLayoutEvents streams the layout state as server-sent events: one
// "layout" event on connect and one after every change.
func (s *Server) handleLayoutEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	changes, unsubscribe := s.registry.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	state := s.registry.Snapshot()
	lastFingerprint := layoutFingerprint(state)
	if err := writeSSEEvent(w, flusher, "layout", state); err != nil {
		return
	}

	heartbeatTicker := time.NewTicker(layoutEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case _, ok := <-changes:
			if !ok {
				return
			}
			next := s.registry.Snapshot()
			fp := layoutFingerprint(next)
			if fp == lastFingerprint {
				continue
			}
			if err := writeSSEEvent(w, flusher, "layout", next); err != nil {
				return
			}
			lastFingerprint = fp
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// layoutFingerprint hashes a state so no-op notifications (for example a
// removal of an unknown pane) do not produce duplicate events.
func layoutFingerprint(state tabs.State) string {
	raw, err := json.Marshal(state)
	if err != nil {
		return "marshal-error"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
