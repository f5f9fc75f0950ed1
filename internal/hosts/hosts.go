// Package hosts manages the saved SSH host inventory: hosts grouped into
// folders, with passwords sealed by the vault before they reach storage.
package hosts

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/airlock-term/airlock/internal/logging"
	"github.com/airlock-term/airlock/internal/statedb"
)

var hostsLog = logging.ForComponent(logging.CompStorage)

// Item types.
const (
	TypeHost   = statedb.TypeHost
	TypeFolder = statedb.TypeFolder
)

var (
	// ErrNotFound is returned when an id does not name an item.
	ErrNotFound = errors.New("hosts: not found")
	// ErrInvalidParent is returned when a parent id is unknown or not a folder.
	ErrInvalidParent = errors.New("hosts: parent must be an existing folder")
)

// Host is a saved host or folder. The JSON shape is what backups carry.
type Host struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	ParentID          string `json:"parentId,omitempty"`
	Host              string `json:"host,omitempty"`
	Port              int    `json:"port,omitempty"`
	Username          string `json:"username,omitempty"`
	EncryptedPassword string `json:"encrypted_password,omitempty"`
	PrivateKeyPath    string `json:"private_key_path,omitempty"`
}

// IsFolder reports whether h is a folder.
func (h Host) IsFolder() bool { return h.Type == TypeFolder }

// HostInput describes a new host. Password is plaintext and is encrypted
// before it is stored.
type HostInput struct {
	Name           string
	ParentID       string
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string
}

// HostUpdate is a partial update. Nil fields are left unchanged.
// A non-nil Password replaces the stored password; an empty one clears it.
type HostUpdate struct {
	Name           *string
	ParentID       *string
	Host           *string
	Port           *int
	Username       *string
	Password       *string
	PrivateKeyPath *string
}

// Backend is the persistence the inventory needs. *statedb.StateDB satisfies it.
type Backend interface {
	LoadHosts() ([]*statedb.HostRow, error)
	GetHost(id string) (*statedb.HostRow, error)
	SaveHost(h *statedb.HostRow) error
	SaveHosts(hosts []*statedb.HostRow) error
	DeleteHosts(ids ...string) error
	NextHostOrder() (int, error)
	Touch() error
}

// Cipher seals and opens stored passwords. *vault.Vault satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}

// Inventory is safe for concurrent use.
type Inventory struct {
	mu     sync.Mutex
	db     Backend
	cipher Cipher
}

// New returns an inventory backed by db.
func New(db Backend, cipher Cipher) *Inventory {
	return &Inventory{db: db, cipher: cipher}
}

func fromRow(r *statedb.HostRow) Host {
	return Host{
		ID:                r.ID,
		Name:              r.Name,
		Type:              r.Type,
		ParentID:          r.ParentID,
		Host:              r.Host,
		Port:              r.Port,
		Username:          r.Username,
		EncryptedPassword: r.EncryptedPassword,
		PrivateKeyPath:    r.PrivateKeyPath,
	}
}

func toRow(h Host, order int) *statedb.HostRow {
	return &statedb.HostRow{
		ID:                h.ID,
		Name:              h.Name,
		Type:              h.Type,
		ParentID:          h.ParentID,
		Host:              h.Host,
		Port:              h.Port,
		Username:          h.Username,
		EncryptedPassword: h.EncryptedPassword,
		PrivateKeyPath:    h.PrivateKeyPath,
		Order:             order,
	}
}

// List returns every item in display order.
func (inv *Inventory) List() ([]Host, error) {
	rows, err := inv.db.LoadHosts()
	if err != nil {
		return nil, err
	}
	out := make([]Host, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Get returns one item.
func (inv *Inventory) Get(id string) (Host, error) {
	r, err := inv.db.GetHost(id)
	if err != nil {
		return Host{}, err
	}
	if r == nil {
		return Host{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRow(r), nil
}

// Children returns the direct children of parentID ("" for the top level).
func (inv *Inventory) Children(parentID string) ([]Host, error) {
	all, err := inv.List()
	if err != nil {
		return nil, err
	}
	var out []Host
	for _, h := range all {
		if h.ParentID == parentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (inv *Inventory) checkParentLocked(parentID string) error {
	if parentID == "" {
		return nil
	}
	r, err := inv.db.GetHost(parentID)
	if err != nil {
		return err
	}
	if r == nil || r.Type != TypeFolder {
		return fmt.Errorf("%w: %s", ErrInvalidParent, parentID)
	}
	return nil
}

func (inv *Inventory) insertLocked(h Host) error {
	order, err := inv.db.NextHostOrder()
	if err != nil {
		return err
	}
	if err := inv.db.SaveHost(toRow(h, order)); err != nil {
		return err
	}
	inv.touch()
	return nil
}

func (inv *Inventory) touch() {
	if err := inv.db.Touch(); err != nil {
		hostsLog.Warn("hosts_touch_failed", slog.String("error", err.Error()))
	}
}

// AddHost stores a new host and returns it.
func (inv *Inventory) AddHost(in HostInput) (Host, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err := inv.checkParentLocked(in.ParentID); err != nil {
		return Host{}, err
	}

	var sealed string
	if in.Password != "" {
		var err error
		if sealed, err = inv.cipher.Encrypt(in.Password); err != nil {
			return Host{}, fmt.Errorf("hosts: encrypt password: %w", err)
		}
	}

	h := Host{
		ID:                uuid.NewString(),
		Name:              in.Name,
		Type:              TypeHost,
		ParentID:          in.ParentID,
		Host:              in.Host,
		Port:              in.Port,
		Username:          in.Username,
		EncryptedPassword: sealed,
		PrivateKeyPath:    in.PrivateKeyPath,
	}
	if err := inv.insertLocked(h); err != nil {
		return Host{}, err
	}
	hostsLog.Info("host_added", slog.String("id", h.ID), slog.String("name", h.Name))
	return h, nil
}

// AddFolder stores a new folder under parentID ("" for the top level).
func (inv *Inventory) AddFolder(name, parentID string) (Host, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err := inv.checkParentLocked(parentID); err != nil {
		return Host{}, err
	}
	h := Host{ID: uuid.NewString(), Name: name, Type: TypeFolder, ParentID: parentID}
	if err := inv.insertLocked(h); err != nil {
		return Host{}, err
	}
	hostsLog.Info("folder_added", slog.String("id", h.ID), slog.String("name", h.Name))
	return h, nil
}

// Remove deletes an item and everything below it. It returns the number
// of rows deleted; an unknown id deletes nothing.
func (inv *Inventory) Remove(id string) (int, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	rows, err := inv.db.LoadHosts()
	if err != nil {
		return 0, err
	}
	children := make(map[string][]string)
	exists := false
	for _, r := range rows {
		children[r.ParentID] = append(children[r.ParentID], r.ID)
		if r.ID == id {
			exists = true
		}
	}
	if !exists {
		return 0, nil
	}

	var doomed []string
	seen := make(map[string]bool)
	var collect func(string)
	collect = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		for _, c := range children[cur] {
			collect(c)
		}
		doomed = append(doomed, cur)
	}
	collect(id)

	if err := inv.db.DeleteHosts(doomed...); err != nil {
		return 0, err
	}
	inv.touch()
	hostsLog.Info("hosts_removed", slog.String("id", id), slog.Int("count", len(doomed)))
	return len(doomed), nil
}

// UpdateHost applies a partial update. It returns false when id is unknown.
func (inv *Inventory) UpdateHost(id string, u HostUpdate) (bool, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	r, err := inv.db.GetHost(id)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, nil
	}

	if u.ParentID != nil && *u.ParentID != r.ParentID {
		if *u.ParentID == id {
			return false, fmt.Errorf("%w: %s", ErrInvalidParent, id)
		}
		if err := inv.checkParentLocked(*u.ParentID); err != nil {
			return false, err
		}
		r.ParentID = *u.ParentID
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Host != nil {
		r.Host = *u.Host
	}
	if u.Port != nil {
		r.Port = *u.Port
	}
	if u.Username != nil {
		r.Username = *u.Username
	}
	if u.PrivateKeyPath != nil {
		r.PrivateKeyPath = *u.PrivateKeyPath
	}
	if u.Password != nil {
		sealed, err := inv.cipher.Encrypt(*u.Password)
		if err != nil {
			return false, fmt.Errorf("hosts: encrypt password: %w", err)
		}
		r.EncryptedPassword = sealed
	}

	if err := inv.db.SaveHost(r); err != nil {
		return false, err
	}
	inv.touch()
	return true, nil
}

// UpdateFolder renames a folder. Hosts and unknown ids are left alone.
func (inv *Inventory) UpdateFolder(id, name string) (bool, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	r, err := inv.db.GetHost(id)
	if err != nil {
		return false, err
	}
	if r == nil || r.Type != TypeFolder {
		return false, nil
	}
	r.Name = name
	if err := inv.db.SaveHost(r); err != nil {
		return false, err
	}
	inv.touch()
	return true, nil
}

// DecryptedPassword returns the plaintext password of a host, or "" when
// the host is unknown, has no password, or the password cannot be opened.
func (inv *Inventory) DecryptedPassword(id string) (string, error) {
	r, err := inv.db.GetHost(id)
	if err != nil {
		return "", err
	}
	if r == nil || r.EncryptedPassword == "" {
		return "", nil
	}
	plain, err := inv.cipher.Decrypt(r.EncryptedPassword)
	if err != nil {
		hostsLog.Warn("password_decrypt_failed", slog.String("id", id), slog.String("error", err.Error()))
		return "", nil
	}
	return plain, nil
}

// ReplaceAll swaps the whole inventory, keeping the given order.
func (inv *Inventory) ReplaceAll(items []Host) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	rows := make([]*statedb.HostRow, 0, len(items))
	for i, h := range items {
		if h.Type == "" {
			h.Type = TypeHost
		}
		rows = append(rows, toRow(h, i))
	}
	if err := inv.db.SaveHosts(rows); err != nil {
		return err
	}
	inv.touch()
	hostsLog.Info("hosts_replaced", slog.Int("count", len(rows)))
	return nil
}

type searchSource []Host

func (s searchSource) String(i int) string {
	h := s[i]
	if h.IsFolder() {
		return h.Name
	}
	return h.Name + " " + h.Username + "@" + h.Host
}

func (s searchSource) Len() int { return len(s) }

// Search returns hosts (not folders) matching query, best match first.
// An empty query returns every host.
func (inv *Inventory) Search(query string) ([]Host, error) {
	all, err := inv.List()
	if err != nil {
		return nil, err
	}
	var candidates searchSource
	for _, h := range all {
		if !h.IsFolder() {
			candidates = append(candidates, h)
		}
	}
	if query == "" {
		return candidates, nil
	}

	matches := fuzzy.FindFrom(query, candidates)
	results := make([]Host, 0, len(matches))
	for _, m := range matches {
		results = append(results, candidates[m.Index])
	}
	return results, nil
}

// Portable is a host with its password opened so it can be carried to a
// machine with a different master key.
type Portable struct {
	Host
	Password string `json:"password,omitempty"`
}

// Portable returns the inventory with passwords in plaintext.
func (inv *Inventory) Portable() ([]Portable, error) {
	all, err := inv.List()
	if err != nil {
		return nil, err
	}
	out := make([]Portable, 0, len(all))
	for _, h := range all {
		p := Portable{Host: h}
		if h.EncryptedPassword != "" {
			plain, err := inv.cipher.Decrypt(h.EncryptedPassword)
			if err != nil {
				return nil, fmt.Errorf("hosts: open password of %s: %w", h.ID, err)
			}
			p.Password = plain
		}
		p.EncryptedPassword = ""
		out = append(out, p)
	}
	return out, nil
}

// RestorePortable seals the given passwords with the local key and
// replaces the inventory with items.
func (inv *Inventory) RestorePortable(items []Portable) error {
	rows := make([]Host, 0, len(items))
	for _, p := range items {
		h := p.Host
		h.EncryptedPassword = ""
		if p.Password != "" {
			sealed, err := inv.cipher.Encrypt(p.Password)
			if err != nil {
				return fmt.Errorf("hosts: encrypt password: %w", err)
			}
			h.EncryptedPassword = sealed
		}
		rows = append(rows, h)
	}
	return inv.ReplaceAll(rows)
}
