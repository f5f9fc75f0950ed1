package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/airlock-term/airlock/internal/config"
	"github.com/airlock-term/airlock/internal/logging"
)

var themeLog = logging.ForComponent(logging.CompTheme)

// ErrInvalidName is returned by Import for empty or reserved names.
var ErrInvalidName = errors.New("theme: invalid name")

// Options configures a Store.
type Options struct {
	// Path is the user themes file (themes.json). Empty disables user themes.
	Path string
	// Selected is the initially selected name; may be SystemName.
	Selected string
	// Dark and Light are used when Selected is SystemName.
	Dark  string
	Light string
	// OnSelect is called after Set or Import changes the selection.
	OnSelect func(name string)
	// IsDark reports the OS appearance. Defaults to dark-mode-go.
	IsDark func() (bool, error)
}

// Store is safe for concurrent use.
type Store struct {
	path     string
	onSelect func(string)
	isDark   func() (bool, error)

	mu       sync.RWMutex
	user     map[string]Theme
	selected string
	darkName string
	light    string
}

// NewStore returns a store with user themes loaded from opts.Path.
// A missing or malformed themes file leaves only the builtins.
func NewStore(opts Options) *Store {
	s := &Store{
		path:     opts.Path,
		onSelect: opts.OnSelect,
		isDark:   opts.IsDark,
		user:     map[string]Theme{},
		selected: opts.Selected,
		darkName: opts.Dark,
		light:    opts.Light,
	}
	if s.isDark == nil {
		s.isDark = dark.IsDarkMode
	}
	if s.selected == "" {
		s.selected = DefaultName
	}
	if err := s.Reload(); err != nil {
		themeLog.Warn("user_themes_load_failed", slog.String("error", err.Error()))
	}
	return s
}

// Reload rereads the user themes file.
func (s *Store) Reload() error {
	user, err := readUserThemes(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return nil
}

func readUserThemes(path string) (map[string]Theme, error) {
	user := map[string]Theme{}
	if path == "" {
		return user, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return user, nil
		}
		return nil, fmt.Errorf("theme: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return user, nil
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("theme: parse %s: %w", path, err)
	}
	return user, nil
}

func (s *Store) lookupLocked(name string) (Theme, bool) {
	if t, ok := s.user[name]; ok {
		return t, true
	}
	return Builtin(name)
}

// Get returns a theme by name. User themes shadow builtins.
func (s *Store) Get(name string) (Theme, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(name)
}

// Names returns every available theme name, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool, len(builtins)+len(s.user))
	for name := range builtins {
		seen[name] = true
	}
	for name := range s.user {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every theme keyed by name.
func (s *Store) All() map[string]Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]Theme, len(builtins)+len(s.user))
	for name, t := range builtins {
		all[name] = t
	}
	for name, t := range s.user {
		all[name] = t
	}
	return all
}

// User returns the user themes keyed by name.
func (s *Store) User() map[string]Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Theme, len(s.user))
	for name, t := range s.user {
		out[name] = t
	}
	return out
}

// Selected returns the selected name as configured, possibly SystemName.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Set selects a theme. Unknown names are ignored.
func (s *Store) Set(name string) bool {
	s.mu.Lock()
	_, ok := s.lookupLocked(name)
	if ok || name == SystemName {
		s.selected = name
		ok = true
	}
	s.mu.Unlock()

	if ok {
		themeLog.Info("theme_selected", slog.String("name", name))
		if s.onSelect != nil {
			s.onSelect(name)
		}
	}
	return ok
}

// Current resolves the selection to a concrete theme. SystemName follows
// the OS appearance; unknown names fall back to DefaultName.
func (s *Store) Current() (string, Theme) {
	s.mu.RLock()
	name := s.selected
	darkName, light := s.darkName, s.light
	s.mu.RUnlock()

	if name == SystemName {
		name = darkName
		if isDark, err := s.isDark(); err == nil && !isDark {
			name = light
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.lookupLocked(name); ok {
		return name, t
	}
	return DefaultName, builtins[DefaultName]
}

// Import saves a user theme to disk and selects it.
func (s *Store) Import(name string, t Theme) error {
	name = strings.TrimSpace(name)
	if name == "" || name == SystemName {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if s.path == "" {
		return errors.New("theme: no themes file configured")
	}

	s.mu.Lock()
	next := make(map[string]Theme, len(s.user)+1)
	for n, existing := range s.user {
		next[n] = existing
	}
	next[name] = t

	data, err := json.MarshalIndent(next, "", "  ")
	if err == nil {
		if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err == nil {
			err = config.WriteFileAtomic(s.path, data, 0o600)
		}
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("theme: save %s: %w", s.path, err)
	}
	s.user = next
	s.mu.Unlock()

	themeLog.Info("theme_imported", slog.String("name", name))
	s.Set(name)
	return nil
}
