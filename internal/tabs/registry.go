// Package tabs owns the ordered set of tabs, each wrapping one layout tree,
// and tracks which tab and which pane have focus.
package tabs

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/airlock-term/airlock/internal/layout"
	"github.com/airlock-term/airlock/internal/logging"
)

// SessionLifecycle releases sessions no longer referenced by any tree.
// RemoveSession must tolerate unknown or already removed ids.
type SessionLifecycle interface {
	RemoveSession(sessionID string)
}

// TabID identifies a tab.
type TabID string

// NewTabID returns a fresh tab id.
func NewTabID() TabID {
	return TabID("tab-" + uuid.NewString())
}

type tab struct {
	id    TabID
	label string
	tree  *layout.Tree
}

// TabView is a read-only copy of one tab.
type TabView struct {
	ID    TabID       `json:"id"`
	Label string      `json:"label"`
	Root  layout.View `json:"root"`
}

// State is a consistent copy of the whole registry.
type State struct {
	Tabs         []TabView `json:"tabs"`
	ActiveTabID  TabID     `json:"activeTabId,omitempty"`
	ActivePaneID string    `json:"activePaneId,omitempty"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// Registry is safe for concurrent use. Every command runs to completion
// under one lock; the lifecycle bridge and subscribers are called after the
// change is committed, outside the lock.
type Registry struct {
	bridge SessionLifecycle
	log    *slog.Logger

	mu         sync.Mutex
	tabs       []*tab
	activeTab  TabID
	activePane string

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewRegistry returns an empty registry. bridge may be nil.
func NewRegistry(bridge SessionLifecycle, opts ...Option) *Registry {
	r := &Registry{
		bridge: bridge,
		log:    logging.ForComponent(logging.CompLayout),
		subs:   make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTab appends a tab whose layout is a single pane for sessionID and
// focuses it. It returns "" and changes nothing when sessionID is empty or
// already shown by a tab.
func (r *Registry) CreateTab(sessionID, label string) TabID {
	r.mu.Lock()
	if sessionID == "" {
		r.mu.Unlock()
		return ""
	}
	if owner, dup := r.findLocked(sessionID); dup {
		r.mu.Unlock()
		r.log.Warn("tab_create_rejected",
			slog.String("session", sessionID),
			slog.String("owner", string(owner.id)))
		return ""
	}
	t := &tab{id: NewTabID(), label: label, tree: layout.New(sessionID)}
	r.tabs = append(r.tabs, t)
	r.activeTab = t.id
	r.activePane = sessionID
	r.mu.Unlock()

	r.log.Info("tab_created", slog.String("tab", string(t.id)), slog.String("session", sessionID))
	r.commit(nil)
	return t.id
}

// CloseTab releases every session in the tab and drops it. It reports
// whether the tab existed. When the closed tab had focus, focus moves to the
// last remaining tab. The active pane is left as is.
func (r *Registry) CloseTab(id TabID) bool {
	r.mu.Lock()
	released, ok := r.closeTabLocked(id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.log.Info("tab_closed", slog.String("tab", string(id)), slog.Int("sessions", len(released)))
	r.commit(released)
	return true
}

func (r *Registry) closeTabLocked(id TabID) ([]string, bool) {
	idx := r.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	released := r.tabs[idx].tree.SessionIDs()
	r.tabs = slices.Delete(r.tabs, idx, idx+1)

	if r.activeTab == id {
		r.activeTab = ""
		if n := len(r.tabs); n > 0 {
			r.activeTab = r.tabs[n-1].id
		}
	}
	return released, true
}

// SplitPane splits the pane holding targetSessionID in the active tab and
// focuses newSessionID. A session already shown by any tab is refused. It
// reports whether anything changed.
func (r *Registry) SplitPane(targetSessionID string, dir layout.Direction, newSessionID string) bool {
	r.mu.Lock()
	t := r.activeLocked()
	if t == nil {
		r.mu.Unlock()
		return false
	}
	if _, dup := r.findLocked(newSessionID); dup || !t.tree.Split(targetSessionID, dir, newSessionID) {
		r.mu.Unlock()
		return false
	}
	r.activePane = newSessionID
	tabID := t.id
	r.mu.Unlock()

	r.log.Info("pane_split",
		slog.String("tab", string(tabID)),
		slog.String("target", targetSessionID),
		slog.String("session", newSessionID),
		slog.String("direction", dir.String()))
	r.commit(nil)
	return true
}

// RemovePane removes the pane holding sessionID from whichever tab has it.
// Removing a tab's only pane closes the tab. It reports whether a pane was
// found.
func (r *Registry) RemovePane(sessionID string) bool {
	r.mu.Lock()
	var (
		released []string
		closed   TabID
		found    bool
	)
	for _, t := range r.tabs {
		switch t.tree.Remove(sessionID) {
		case layout.NotFound:
			continue
		case layout.RootLeaf:
			closed = t.id
			released, _ = r.closeTabLocked(t.id)
		case layout.Removed:
			released = []string{sessionID}
			if r.activePane == sessionID {
				r.activePane = ""
			}
		}
		found = true
		break
	}
	r.mu.Unlock()

	if !found {
		return false
	}
	if closed != "" {
		r.log.Info("tab_closed", slog.String("tab", string(closed)), slog.String("reason", "last_pane"))
	} else {
		r.log.Info("pane_removed", slog.String("session", sessionID))
	}
	r.commit(released)
	return true
}

// ResizeNode sets the rendering weight of a node in a tab.
func (r *Registry) ResizeNode(id TabID, node layout.NodeID, size float64) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	ok := idx >= 0 && r.tabs[idx].tree.Resize(node, size)
	r.mu.Unlock()
	if ok {
		r.commit(nil)
	}
	return ok
}

// SetActiveTab focuses an existing tab. Unknown ids are ignored.
func (r *Registry) SetActiveTab(id TabID) bool {
	r.mu.Lock()
	ok := r.indexLocked(id) >= 0
	if ok {
		r.activeTab = id
	}
	r.mu.Unlock()
	if ok {
		r.commit(nil)
	}
	return ok
}

// SetActivePane focuses a pane of the active tab.
func (r *Registry) SetActivePane(sessionID string) bool {
	r.mu.Lock()
	t := r.activeLocked()
	ok := false
	if t != nil {
		_, ok = t.tree.FindBySession(sessionID)
	}
	if ok {
		r.activePane = sessionID
	}
	r.mu.Unlock()
	if ok {
		r.commit(nil)
	}
	return ok
}

// ActiveTabID returns the focused tab, if any.
func (r *Registry) ActiveTabID() (TabID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeTab, r.activeTab != ""
}

// ActivePaneID returns the focused session, if any. After CloseTab it may
// name a session that no longer exists.
func (r *Registry) ActivePaneID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activePane, r.activePane != ""
}

// Tabs returns every tab in display order.
func (r *Registry) Tabs() []TabView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewsLocked()
}

// Tab returns one tab.
func (r *Registry) Tab(id TabID) (TabView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return TabView{}, false
	}
	return viewOf(r.tabs[idx]), true
}

// FindSession returns the tab whose tree holds sessionID.
func (r *Registry) FindSession(sessionID string) (TabID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.findLocked(sessionID); ok {
		return t.id, true
	}
	return "", false
}

func (r *Registry) findLocked(sessionID string) (*tab, bool) {
	for _, t := range r.tabs {
		if _, ok := t.tree.FindBySession(sessionID); ok {
			return t, true
		}
	}
	return nil, false
}

// Snapshot returns tabs and focus taken under one lock.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Tabs:         r.viewsLocked(),
		ActiveTabID:  r.activeTab,
		ActivePaneID: r.activePane,
	}
}

// Subscribe returns a channel that receives a value after every change.
// Notifications coalesce: a slow reader sees at most one pending signal.
// Call cancel to stop receiving.
func (r *Registry) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
	return ch, cancel
}

// commit runs the post-mutation side effects: release sessions, then notify.
func (r *Registry) commit(released []string) {
	if r.bridge != nil {
		for _, sid := range released {
			r.bridge.RemoveSession(sid)
		}
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *Registry) indexLocked(id TabID) int {
	return slices.IndexFunc(r.tabs, func(t *tab) bool { return t.id == id })
}

func (r *Registry) activeLocked() *tab {
	if idx := r.indexLocked(r.activeTab); idx >= 0 {
		return r.tabs[idx]
	}
	return nil
}

func (r *Registry) viewsLocked() []TabView {
	out := make([]TabView, 0, len(r.tabs))
	for _, t := range r.tabs {
		out = append(out, viewOf(t))
	}
	return out
}

func viewOf(t *tab) TabView {
	return TabView{ID: t.id, Label: t.label, Root: t.tree.View()}
}
