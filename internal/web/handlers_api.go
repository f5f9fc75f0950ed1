package web

import (
	"encoding/json"
	"net/http"

	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/theme"
)

const maxCommandBody = 64 << 10

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type themesResponse struct {
	Selected string      `json:"selected"`
	Current  string      `json:"current"`
	Theme    theme.Theme `json:"theme"`
	Names    []string    `json:"names"`
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handleLayoutCommand(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "layout changes are disabled in read-only mode")
		return
	}
	if !s.restLimiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many commands")
		return
	}

	var cmd layoutCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&cmd); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}

	res, cerr := s.execute(r.Context(), cmd)
	if cerr != nil {
		writeAPIError(w, cerr.status, cerr.code, cerr.message)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Terminals == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Terminals.List())
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hosts == nil {
		writeJSON(w, http.StatusOK, []hosts.Host{})
		return
	}
	list, err := s.cfg.Hosts.List()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load hosts")
		return
	}
	for i := range list {
		list[i].EncryptedPassword = ""
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Themes == nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "themes are not configured")
		return
	}
	name, t := s.cfg.Themes.Current()
	writeJSON(w, http.StatusOK, themesResponse{
		Selected: s.cfg.Themes.Selected(),
		Current:  name,
		Theme:    t,
		Names:    s.cfg.Themes.Names(),
	})
}

func (s *Server) handleThemeSelect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Themes == nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "themes are not configured")
		return
	}
	if s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "theme changes are disabled in read-only mode")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if !s.cfg.Themes.Set(req.Name) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown theme")
		return
	}
	s.handleThemes(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
