package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/airlock-term/airlock/internal/layout"
	"github.com/airlock-term/airlock/internal/tabs"
)

// Layout command types accepted over HTTP and the layout socket.
const (
	cmdCreateTab   = "createTab"
	cmdCloseTab    = "closeTab"
	cmdSplit       = "split"
	cmdRemovePane  = "removePane"
	cmdActivateTab = "activateTab"
	cmdFocusPane   = "focusPane"
	cmdResize      = "resize"
)

type layoutCommand struct {
	Type      string       `json:"type"`
	RequestID string       `json:"requestId,omitempty"`
	TabID     string       `json:"tabId,omitempty"`
	SessionID string       `json:"sessionId,omitempty"`
	NodeID    string       `json:"nodeId,omitempty"`
	Direction string       `json:"direction,omitempty"`
	Size      float64      `json:"size,omitempty"`
	Label     string       `json:"label,omitempty"`
	Open      *OpenRequest `json:"open,omitempty"`
}

type commandResult struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Applied   bool   `json:"applied"`
	TabID     string `json:"tabId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type commandError struct {
	status  int
	code    string
	message string
}

func badCommand(message string) *commandError {
	return &commandError{status: http.StatusBadRequest, code: "INVALID_REQUEST", message: message}
}

// execute runs one command against the registry. Commands naming unknown
// tabs, panes or nodes are not errors: they report applied=false.
func (s *Server) execute(ctx context.Context, cmd layoutCommand) (commandResult, *commandError) {
	res := commandResult{Type: "result", RequestID: cmd.RequestID}

	switch cmd.Type {
	case cmdCreateTab:
		id, label, cerr := s.openSession(ctx, cmd.Open)
		if cerr != nil {
			return res, cerr
		}
		if cmd.Label != "" {
			label = cmd.Label
		}
		tabID := s.registry.CreateTab(id, label)
		if tabID == "" {
			s.releaseSession(id)
			return res, nil
		}
		res.TabID = string(tabID)
		res.SessionID = id
		res.Applied = !s.dropIfEnded(id)

	case cmdSplit:
		dir, err := layout.ParseDirection(cmd.Direction)
		if err != nil {
			return res, badCommand(err.Error())
		}
		target := cmd.SessionID
		if target == "" {
			target, _ = s.registry.ActivePaneID()
		}
		if !s.inActiveTab(target) {
			return res, nil
		}
		id, _, cerr := s.openSession(ctx, cmd.Open)
		if cerr != nil {
			return res, cerr
		}
		if !s.registry.SplitPane(target, dir, id) {
			// The layout changed while the session was opening.
			s.releaseSession(id)
			return res, nil
		}
		res.SessionID = id
		res.Applied = !s.dropIfEnded(id)

	case cmdCloseTab:
		if cmd.TabID == "" {
			return res, badCommand("tabId is required")
		}
		res.Applied = s.registry.CloseTab(tabs.TabID(cmd.TabID))

	case cmdRemovePane:
		if cmd.SessionID == "" {
			return res, badCommand("sessionId is required")
		}
		res.Applied = s.registry.RemovePane(cmd.SessionID)

	case cmdActivateTab:
		res.Applied = s.registry.SetActiveTab(tabs.TabID(cmd.TabID))

	case cmdFocusPane:
		res.Applied = s.registry.SetActivePane(cmd.SessionID)

	case cmdResize:
		if cmd.Size < 0 {
			return res, badCommand("size must not be negative")
		}
		res.Applied = s.registry.ResizeNode(tabs.TabID(cmd.TabID), layout.NodeID(cmd.NodeID), cmd.Size)

	default:
		return res, &commandError{
			status:  http.StatusBadRequest,
			code:    "UNSUPPORTED_COMMAND",
			message: "supported commands: createTab,closeTab,split,removePane,activateTab,focusPane,resize",
		}
	}

	webLog.Debug("layout_command",
		slog.String("type", cmd.Type),
		slog.Bool("applied", res.Applied))
	return res, nil
}

func (s *Server) releaseSession(id string) {
	if s.cfg.Terminals != nil {
		s.cfg.Terminals.RemoveSession(id)
	}
}

// dropIfEnded removes the pane for a session whose stream finished before
// it was placed. Such a session reported its exit while no tab held it.
func (s *Server) dropIfEnded(id string) bool {
	if s.cfg.Terminals == nil {
		return false
	}
	done, err := s.cfg.Terminals.Done(id)
	if err == nil {
		select {
		case <-done:
		default:
			return false
		}
	}
	s.registry.RemovePane(id)
	webLog.Info("session_ended_before_placement", slog.String("session", id))
	return true
}

func (s *Server) inActiveTab(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	active, ok := s.registry.ActiveTabID()
	if !ok {
		return false
	}
	owner, ok := s.registry.FindSession(sessionID)
	return ok && owner == active
}

func (s *Server) openSession(ctx context.Context, req *OpenRequest) (string, string, *commandError) {
	if s.cfg.Opener == nil {
		return "", "", &commandError{status: http.StatusNotImplemented, code: "NO_SESSION_OPENER", message: "sessions cannot be opened"}
	}
	var r OpenRequest
	if req != nil {
		r = *req
	}
	id, label, err := s.cfg.Opener.Open(ctx, r)
	if err != nil {
		webLog.Warn("session_open_failed",
			slog.String("kind", r.Kind),
			slog.String("host_id", r.HostID),
			slog.String("error", err.Error()))
		return "", "", &commandError{status: http.StatusBadGateway, code: "SESSION_OPEN_FAILED", message: err.Error()}
	}
	return id, label, nil
}
