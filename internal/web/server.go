package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/logging"
	"github.com/airlock-term/airlock/internal/session"
	"github.com/airlock-term/airlock/internal/tabs"
	"github.com/airlock-term/airlock/internal/theme"
)

var webLog = logging.ForComponent(logging.CompWeb)

// Terminals is the session surface the server drives. *session.Manager
// satisfies it.
type Terminals interface {
	Output(id string) (<-chan []byte, func(), error)
	Done(id string) (<-chan struct{}, error)
	Write(id string, data []byte) error
	Resize(id string, size session.Size) error
	List() []session.Info
	RemoveSession(id string)
}

// OpenRequest asks for a new session to show in a pane.
type OpenRequest struct {
	// Kind is "local" (default) or "ssh".
	Kind string `json:"kind,omitempty"`
	// HostID names a saved host for ssh sessions.
	HostID string `json:"hostId,omitempty"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
}

// SessionOpener starts the session behind a new tab or pane and returns its
// id and a display label.
type SessionOpener interface {
	Open(ctx context.Context, req OpenRequest) (id, label string, err error)
}

// ThemeSource exposes terminal themes. *theme.Store satisfies it.
type ThemeSource interface {
	Names() []string
	Selected() string
	Current() (string, theme.Theme)
	Set(name string) bool
}

// HostLister exposes saved hosts. *hosts.Inventory satisfies it.
type HostLister interface {
	List() ([]hosts.Host, error)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	ReadOnly   bool
	Token      string

	// CommandsPerSecond and CommandBurst limit layout commands per client.
	CommandsPerSecond float64
	CommandBurst      int

	Registry  *tabs.Registry
	Terminals Terminals
	Opener    SessionOpener
	Themes    ThemeSource
	Hosts     HostLister
}

// Server exposes the tab registry and its sessions over HTTP and WebSocket.
type Server struct {
	cfg        Config
	httpServer *http.Server
	registry   *tabs.Registry
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// restLimiter is shared by every plain HTTP command request.
	restLimiter *rate.Limiter
}

// NewServer creates a new web server with base routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8420"
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = 20
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 40
	}

	registry := cfg.Registry
	if registry == nil {
		registry = tabs.NewRegistry(cfg.Terminals)
	}

	s := &Server{
		cfg:         cfg,
		registry:    registry,
		restLimiter: rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), cfg.CommandBurst),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp := map[string]any{
			"ok":       true,
			"readOnly": cfg.ReadOnly,
			"tabs":     len(s.registry.Tabs()),
			"time":     time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/layout", s.requireAuth(http.MethodGet, s.handleLayout))
	mux.HandleFunc("/api/layout/command", s.requireAuth(http.MethodPost, s.handleLayoutCommand))
	mux.HandleFunc("/api/sessions", s.requireAuth(http.MethodGet, s.handleSessions))
	mux.HandleFunc("/api/hosts", s.requireAuth(http.MethodGet, s.handleHosts))
	mux.HandleFunc("/api/themes", s.requireAuth(http.MethodGet, s.handleThemes))
	mux.HandleFunc("/api/themes/select", s.requireAuth(http.MethodPost, s.handleThemeSelect))
	mux.HandleFunc("/events/layout", s.requireAuth(http.MethodGet, s.handleLayoutEvents))
	mux.HandleFunc("/ws/layout", s.requireAuth(http.MethodGet, s.handleLayoutWS))
	mux.HandleFunc("/ws/terminal/", s.requireAuth(http.MethodGet, s.handleTerminalWS))

	handler := withRecover(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the tab registry the server drives.
func (s *Server) Registry() *tabs.Registry {
	return s.registry
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("server_starting", slog.String("addr", s.cfg.ListenAddr), slog.Bool("read_only", s.cfg.ReadOnly))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, readOnly=%t)", s.cfg.ListenAddr, s.cfg.ReadOnly)
}
