// Package session runs the terminal sessions that panes display: remote
// shells over SSH and local shells under a pty. Sessions are addressed by id
// and torn down through RemoveSession, which the tab registry calls when a
// pane or tab goes away.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airlock-term/airlock/internal/logging"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// ErrNotFound is returned for ids the manager does not hold.
var ErrNotFound = errors.New("session: not found")

// Kind says how a session is backed.
type Kind string

const (
	KindSSH   Kind = "ssh"
	KindLocal Kind = "local"
)

// Size is a terminal size in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// DefaultSize is used when a caller passes a zero size.
var DefaultSize = Size{Cols: 80, Rows: 24}

func (s Size) orDefault() Size {
	if s.Cols <= 0 || s.Rows <= 0 {
		return DefaultSize
	}
	return s
}

// Conn is the byte stream behind a session.
type Conn interface {
	io.ReadWriteCloser
	Resize(size Size) error
}

// Info describes a live session.
type Info struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Label   string    `json:"label"`
	Started time.Time `json:"started"`
	Exited  bool      `json:"exited"`
}

// Options configures a Manager.
type Options struct {
	// KnownHostsPath is the OpenSSH known_hosts file used to verify servers.
	KnownHostsPath string
	// InsecureIgnoreHostKey accepts any server key.
	InsecureIgnoreHostKey bool
	// DialTimeout bounds the TCP connect and SSH handshake (default 15s).
	DialTimeout time.Duration
	// OutputBuffer is the per-subscriber queue length in chunks (default 256).
	OutputBuffer int
	// OnExit is called once when a session's stream ends on its own.
	OnExit func(id string)
}

type entry struct {
	info Info
	conn Conn

	mu     sync.Mutex
	subs   map[int]chan []byte
	nextID int
	done   chan struct{}
}

// Manager owns every open session. Safe for concurrent use.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

// NewManager returns an empty manager.
func NewManager(opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = 256
	}
	return &Manager{opts: opts, sessions: make(map[string]*entry)}
}

// NewID returns a fresh session id.
func NewID() string {
	return "sess-" + uuid.NewString()
}

// Adopt registers an already open stream and starts pumping its output.
func (m *Manager) Adopt(kind Kind, label string, conn Conn) string {
	e := &entry{
		info: Info{ID: NewID(), Kind: kind, Label: label, Started: time.Now()},
		conn: conn,
		subs: make(map[int]chan []byte),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[e.info.ID] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump(e)

	sessionLog.Info("session_opened",
		slog.String("session", e.info.ID),
		slog.String("kind", string(kind)),
		slog.String("label", label))
	return e.info.ID
}

func (m *Manager) pump(e *entry) {
	defer m.wg.Done()

	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			e.mu.Lock()
			for _, ch := range e.subs {
				select {
				case ch <- chunk:
				default:
					logging.Aggregate(logging.CompSession, "output_dropped",
						slog.String("session", e.info.ID))
				}
			}
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sessionLog.Debug("session_read_ended",
					slog.String("session", e.info.ID),
					slog.String("error", err.Error()))
			}
			break
		}
	}

	e.mu.Lock()
	e.info.Exited = true
	close(e.done)
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.mu.Unlock()

	m.mu.Lock()
	_, stillOpen := m.sessions[e.info.ID]
	m.mu.Unlock()

	// Streams closed by RemoveSession are not reported as exits.
	if stillOpen {
		sessionLog.Info("session_exited", slog.String("session", e.info.ID))
		if m.opts.OnExit != nil {
			m.opts.OnExit(e.info.ID)
		}
	}
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Write sends input to a session.
func (m *Manager) Write(id string, data []byte) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	logging.Aggregate(logging.CompSession, "input", slog.String("session", id))
	if _, err := e.conn.Write(data); err != nil {
		return fmt.Errorf("session: write %s: %w", id, err)
	}
	return nil
}

// Resize changes a session's terminal size.
func (m *Manager) Resize(id string, size Size) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	if err := e.conn.Resize(size.orDefault()); err != nil {
		return fmt.Errorf("session: resize %s: %w", id, err)
	}
	return nil
}

// Output subscribes to a session's output. The channel is closed when the
// session ends or cancel is called.
func (m *Manager) Output(id string) (<-chan []byte, func(), error) {
	e, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan []byte, m.opts.OutputBuffer)
	e.mu.Lock()
	if e.info.Exited {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	subID := e.nextID
	e.nextID++
	e.subs[subID] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[subID]; ok {
			delete(e.subs, subID)
			close(c)
		}
	}
	return ch, cancel, nil
}

// Done returns a channel closed when the session's stream has ended.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// Get returns one session's info.
func (m *Manager) Get(id string) (Info, bool) {
	e, err := m.get(id)
	if err != nil {
		return Info{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, true
}

// List returns every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.info)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// RemoveSession forgets a session and closes its stream in the background.
// Unknown and already removed ids are ignored.
func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	sessionLog.Info("session_removed", slog.String("session", id))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := e.conn.Close(); err != nil {
			sessionLog.Debug("session_close_failed",
				slog.String("session", id),
				slog.String("error", err.Error()))
		}
	}()
}

// Close removes every session and waits for teardown to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveSession(id)
	}
	m.wg.Wait()
}
