package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/session"
	"github.com/airlock-term/airlock/internal/tabs"
	"github.com/airlock-term/airlock/internal/theme"
)

type fakeTerm struct {
	out    chan []byte
	done   chan struct{}
	closed bool
	ended  bool
	input  []string
	size   session.Size
}

type fakeTerminals struct {
	mu       sync.Mutex
	sessions map[string]*fakeTerm
	removed  []string
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{sessions: make(map[string]*fakeTerm)}
}

func (f *fakeTerminals) add(id string) *fakeTerm {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTerm{out: make(chan []byte, 16), done: make(chan struct{})}
	f.sessions[id] = t
	return t
}

func (f *fakeTerminals) lookup(id string) (*fakeTerm, error) {
	t, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return t, nil
}

func (f *fakeTerminals) closeOutputLocked(t *fakeTerm) {
	if !t.closed {
		t.closed = true
		close(t.out)
	}
}

// end simulates the session's stream finishing.
func (f *fakeTerminals) end(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.sessions[id]
	if !ok || t.ended {
		return
	}
	t.ended = true
	close(t.done)
	f.closeOutputLocked(t)
}

func (f *fakeTerminals) Output(id string) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	return t.out, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closeOutputLocked(t)
	}, nil
}

func (f *fakeTerminals) Done(id string) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

func (f *fakeTerminals) Write(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(id)
	if err != nil {
		return err
	}
	t.input = append(t.input, string(data))
	return nil
}

func (f *fakeTerminals) Resize(id string, size session.Size) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(id)
	if err != nil {
		return err
	}
	t.size = size
	return nil
}

func (f *fakeTerminals) List() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Info, 0, len(f.sessions))
	for id := range f.sessions {
		out = append(out, session.Info{ID: id, Kind: session.KindLocal})
	}
	return out
}

func (f *fakeTerminals) RemoveSession(id string) {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
	f.end(id)
}

func (f *fakeTerminals) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakeOpener struct {
	mu        sync.Mutex
	terminals *fakeTerminals
	calls     []OpenRequest
	err       error

	// exitOnOpen ends each session before Open returns.
	exitOnOpen bool
}

func (o *fakeOpener) Open(_ context.Context, req OpenRequest) (string, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, req)
	if o.err != nil {
		return "", "", o.err
	}
	id := fmt.Sprintf("sess-%d", len(o.calls))
	o.terminals.add(id)
	if o.exitOnOpen {
		o.terminals.end(id)
	}
	return id, "shell " + id, nil
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type fakeHosts struct {
	items []hosts.Host
}

func (f *fakeHosts) List() ([]hosts.Host, error) {
	return append([]hosts.Host(nil), f.items...), nil
}

func newTestServer(cfg Config) (*Server, *fakeTerminals, *fakeOpener) {
	terms := newFakeTerminals()
	opener := &fakeOpener{terminals: terms}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	cfg.Terminals = terms
	cfg.Opener = opener
	if cfg.Registry == nil {
		cfg.Registry = tabs.NewRegistry(terms)
	}
	return NewServer(cfg), terms, opener
}

func postCommand(t *testing.T, h http.Handler, cmd layoutCommand) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/layout/command", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) commandResult {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var res commandResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func decodeAPIError(t *testing.T, rr *httptest.ResponseRecorder, status int) apiError {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var resp apiErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealthzEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(Config{ReadOnly: true})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected health response to contain ok=true, got: %s", body)
	}
	if !strings.Contains(body, `"readOnly":true`) {
		t.Fatalf("expected health response to contain readOnly, got: %s", body)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestLayoutAuth(t *testing.T) {
	srv, _, _ := newTestServer(Config{Token: "secret-token"})

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/api/layout", "", http.StatusUnauthorized},
		{"wrong bearer", "/api/layout", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/api/layout", "Bearer secret-token", http.StatusOK},
		{"query", "/api/layout?token=secret-token", "", http.StatusOK},
		{"wrong query beats good header", "/api/layout?token=nope", "Bearer secret-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestLayoutMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/layout/command", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if got := decodeAPIError(t, rr, http.StatusMethodNotAllowed); got.Code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("unexpected error: %+v", got)
	}
}

func TestLayoutCommandFlow(t *testing.T) {
	srv, terms, _ := newTestServer(Config{})
	h := srv.Handler()

	created := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCreateTab, Label: "main"}))
	if !created.Applied || created.TabID == "" || created.SessionID != "sess-1" {
		t.Fatalf("unexpected create result: %+v", created)
	}

	split := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdSplit, Direction: "vertical"}))
	if !split.Applied || split.SessionID != "sess-2" {
		t.Fatalf("unexpected split result: %+v", split)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/layout", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var state tabs.State
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode layout: %v", err)
	}
	if len(state.Tabs) != 1 || state.Tabs[0].Label != "main" {
		t.Fatalf("unexpected tabs: %+v", state.Tabs)
	}
	root := state.Tabs[0].Root
	if root.Kind.String() != "vertical" || len(root.Children) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	if state.ActivePaneID != "sess-2" {
		t.Fatalf("active pane = %q, want sess-2", state.ActivePaneID)
	}

	removed := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdRemovePane, SessionID: "sess-2"}))
	if !removed.Applied {
		t.Fatalf("expected removePane to apply: %+v", removed)
	}
	if got := terms.removedIDs(); len(got) != 1 || got[0] != "sess-2" {
		t.Fatalf("released sessions = %v", got)
	}

	closed := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCloseTab, TabID: created.TabID}))
	if !closed.Applied {
		t.Fatalf("expected closeTab to apply: %+v", closed)
	}
	if got := terms.removedIDs(); len(got) != 2 || got[1] != "sess-1" {
		t.Fatalf("released sessions = %v", got)
	}
	if len(srv.Registry().Tabs()) != 0 {
		t.Fatal("expected no tabs left")
	}
}

func TestLayoutCommandNoOps(t *testing.T) {
	srv, _, opener := newTestServer(Config{})
	h := srv.Handler()

	res := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdSplit, SessionID: "missing", Direction: "horizontal"}))
	if res.Applied {
		t.Fatalf("split of missing target applied: %+v", res)
	}
	if opener.callCount() != 0 {
		t.Fatal("no session should be opened for a missing target")
	}

	for _, cmd := range []layoutCommand{
		{Type: cmdCloseTab, TabID: "tab-missing"},
		{Type: cmdRemovePane, SessionID: "missing"},
		{Type: cmdActivateTab, TabID: "tab-missing"},
		{Type: cmdFocusPane, SessionID: "missing"},
		{Type: cmdResize, TabID: "tab-missing", NodeID: "node-missing", Size: 30},
	} {
		if res := decodeResult(t, postCommand(t, h, cmd)); res.Applied {
			t.Fatalf("%s applied unexpectedly", cmd.Type)
		}
	}
}

func TestLayoutCommandSessionExitedBeforePlacement(t *testing.T) {
	srv, terms, opener := newTestServer(Config{})
	h := srv.Handler()

	created := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCreateTab, Label: "main"}))
	if !created.Applied {
		t.Fatalf("expected createTab to apply: %+v", created)
	}

	opener.mu.Lock()
	opener.exitOnOpen = true
	opener.mu.Unlock()

	split := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdSplit, SessionID: created.SessionID, Direction: "vertical"}))
	if split.Applied {
		t.Fatalf("split with an exited session applied: %+v", split)
	}
	if _, ok := srv.Registry().FindSession(split.SessionID); ok {
		t.Fatalf("exited session %s still has a pane", split.SessionID)
	}
	if view, _ := srv.Registry().Tab(tabs.TabID(created.TabID)); view.Root.SessionID != created.SessionID {
		t.Fatalf("tab did not collapse back to its first pane: %+v", view.Root)
	}

	dead := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCreateTab}))
	if dead.Applied {
		t.Fatalf("createTab with an exited session applied: %+v", dead)
	}
	if got := len(srv.Registry().Tabs()); got != 1 {
		t.Fatalf("tabs = %d, want 1", got)
	}
	removed := terms.removedIDs()
	if len(removed) != 2 || removed[0] != split.SessionID || removed[1] != dead.SessionID {
		t.Fatalf("released sessions = %v", removed)
	}

	if res := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCloseTab, TabID: created.TabID})); !res.Applied {
		t.Fatalf("expected closeTab to apply: %+v", res)
	}
	if res := decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdCloseTab, TabID: created.TabID})); res.Applied {
		t.Fatalf("second closeTab applied: %+v", res)
	}
}

func TestLayoutCommandErrors(t *testing.T) {
	srv, _, _ := newTestServer(Config{})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/layout/command", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := decodeAPIError(t, rr, http.StatusBadRequest); got.Code != "INVALID_REQUEST" {
		t.Fatalf("unexpected error: %+v", got)
	}

	if got := decodeAPIError(t, postCommand(t, h, layoutCommand{Type: "explode"}), http.StatusBadRequest); got.Code != "UNSUPPORTED_COMMAND" {
		t.Fatalf("unexpected error: %+v", got)
	}
	if got := decodeAPIError(t, postCommand(t, h, layoutCommand{Type: cmdSplit, Direction: "diagonal"}), http.StatusBadRequest); got.Code != "INVALID_REQUEST" {
		t.Fatalf("unexpected error: %+v", got)
	}
	if got := decodeAPIError(t, postCommand(t, h, layoutCommand{Type: cmdCloseTab}), http.StatusBadRequest); got.Code != "INVALID_REQUEST" {
		t.Fatalf("unexpected error: %+v", got)
	}
}

func TestLayoutCommandSessionOpenFailure(t *testing.T) {
	srv, _, opener := newTestServer(Config{})
	opener.err = errors.New("connection refused")

	got := decodeAPIError(t, postCommand(t, srv.Handler(), layoutCommand{Type: cmdCreateTab, Open: &OpenRequest{Kind: "ssh", HostID: "h1"}}), http.StatusBadGateway)
	if got.Code != "SESSION_OPEN_FAILED" {
		t.Fatalf("unexpected error: %+v", got)
	}
	if len(srv.Registry().Tabs()) != 0 {
		t.Fatal("failed open must not create a tab")
	}
	if opener.calls[0].Kind != "ssh" || opener.calls[0].HostID != "h1" {
		t.Fatalf("open request not forwarded: %+v", opener.calls[0])
	}
}

func TestLayoutCommandReadOnly(t *testing.T) {
	srv, _, opener := newTestServer(Config{ReadOnly: true})

	got := decodeAPIError(t, postCommand(t, srv.Handler(), layoutCommand{Type: cmdCreateTab}), http.StatusForbidden)
	if got.Code != "READ_ONLY" {
		t.Fatalf("unexpected error: %+v", got)
	}
	if opener.callCount() != 0 {
		t.Fatal("read-only server opened a session")
	}
}

func TestLayoutCommandRateLimited(t *testing.T) {
	srv, _, _ := newTestServer(Config{CommandsPerSecond: 0.001, CommandBurst: 1})
	h := srv.Handler()

	decodeResult(t, postCommand(t, h, layoutCommand{Type: cmdActivateTab, TabID: "x"}))
	if got := decodeAPIError(t, postCommand(t, h, layoutCommand{Type: cmdActivateTab, TabID: "x"}), http.StatusTooManyRequests); got.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected error: %+v", got)
	}
}

func TestHostsHidePasswords(t *testing.T) {
	srv, _, _ := newTestServer(Config{})
	srv.cfg.Hosts = &fakeHosts{items: []hosts.Host{
		{ID: "h1", Name: "web", Type: hosts.TypeHost, EncryptedPassword: "iv:ct"},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if strings.Contains(rr.Body.String(), "iv:ct") {
		t.Fatalf("password leaked: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"id":"h1"`) {
		t.Fatalf("expected host in body: %s", rr.Body.String())
	}
}

func TestThemesEndpoints(t *testing.T) {
	store := theme.NewStore(theme.Options{IsDark: func() (bool, error) { return true, nil }})
	srv, _, _ := newTestServer(Config{})
	srv.cfg.Themes = store
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/themes", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var resp themesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode themes: %v", err)
	}
	if resp.Current != theme.DefaultName || len(resp.Names) < 6 {
		t.Fatalf("unexpected themes response: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/themes/select", strings.NewReader(`{"name":"Monokai"}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || store.Selected() != "Monokai" {
		t.Fatalf("select failed: %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/themes/select", strings.NewReader(`{"name":"Nope"}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := decodeAPIError(t, rr, http.StatusNotFound); got.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", got)
	}
	if store.Selected() != "Monokai" {
		t.Fatal("unknown theme changed the selection")
	}
}
