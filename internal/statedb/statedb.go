package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Row types stored in the hosts table.
const (
	TypeHost   = "host"
	TypeFolder = "folder"
)

// StateDB wraps a SQLite database holding the host inventory and metadata.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// HostRow represents a host or folder row in the database.
// ParentID is empty for top-level rows.
type HostRow struct {
	ID                string
	Name              string
	Type              string
	ParentID          string
	Host              string
	Port              int
	Username          string
	EncryptedPassword string
	PrivateKeyPath    string
	Order             int
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS hosts (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			type               TEXT NOT NULL DEFAULT 'host',
			parent_id          TEXT NOT NULL DEFAULT '',
			host               TEXT NOT NULL DEFAULT '',
			port               INTEGER NOT NULL DEFAULT 0,
			username           TEXT NOT NULL DEFAULT '',
			encrypted_password TEXT NOT NULL DEFAULT '',
			private_key_path   TEXT NOT NULL DEFAULT '',
			sort_order         INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create hosts: %w", err)
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_hosts_parent ON hosts(parent_id)`); err != nil {
		return fmt.Errorf("statedb: index hosts: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// IsEmpty returns true if the hosts table has no rows.
func (s *StateDB) IsEmpty() (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM hosts").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Host CRUD ---

const hostColumns = `id, name, type, parent_id, host, port, username,
	encrypted_password, private_key_path, sort_order`

const upsertHost = `INSERT OR REPLACE INTO hosts (` + hostColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func hostArgs(h *HostRow) []any {
	return []any{
		h.ID, h.Name, h.Type, h.ParentID, h.Host, h.Port, h.Username,
		h.EncryptedPassword, h.PrivateKeyPath, h.Order,
	}
}

// SaveHost inserts or replaces a single row.
func (s *StateDB) SaveHost(h *HostRow) error {
	_, err := s.db.Exec(upsertHost, hostArgs(h)...)
	return err
}

// SaveHosts inserts or replaces multiple rows in a single transaction.
// Rows not in the list are removed so the table ends up equal to hosts.
func (s *StateDB) SaveHosts(hosts []*HostRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(hosts) == 0 {
		if _, err := tx.Exec("DELETE FROM hosts"); err != nil {
			return err
		}
	} else {
		placeholders := make([]string, len(hosts))
		args := make([]any, len(hosts))
		for i, h := range hosts {
			placeholders[i] = "?"
			args[i] = h.ID
		}
		query := "DELETE FROM hosts WHERE id NOT IN (" + strings.Join(placeholders, ",") + ")"
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
	}

	stmt, err := tx.Prepare(upsertHost)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range hosts {
		if _, err := stmt.Exec(hostArgs(h)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanHost(sc interface{ Scan(...any) error }) (*HostRow, error) {
	h := &HostRow{}
	err := sc.Scan(
		&h.ID, &h.Name, &h.Type, &h.ParentID, &h.Host, &h.Port, &h.Username,
		&h.EncryptedPassword, &h.PrivateKeyPath, &h.Order,
	)
	return h, err
}

// LoadHosts returns all rows ordered by sort_order.
func (s *StateDB) LoadHosts() ([]*HostRow, error) {
	rows, err := s.db.Query(`SELECT ` + hostColumns + ` FROM hosts ORDER BY sort_order, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*HostRow
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// GetHost returns one row, or nil if it does not exist.
func (s *StateDB) GetHost(id string) (*HostRow, error) {
	h, err := scanHost(s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// DeleteHosts removes rows by id in a single transaction.
func (s *StateDB) DeleteHosts(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM hosts WHERE id = ?", id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// NextHostOrder returns a sort_order placing a new row after every existing one.
func (s *StateDB) NextHostOrder() (int, error) {
	var next int
	err := s.db.QueryRow("SELECT COALESCE(MAX(sort_order) + 1, 0) FROM hosts").Scan(&next)
	return next, err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteMeta removes a key from the metadata table.
func (s *StateDB) DeleteMeta(key string) error {
	_, err := s.db.Exec("DELETE FROM metadata WHERE key = ?", key)
	return err
}

// --- Change Detection ---

// Touch updates a metadata timestamp that other processes can poll to detect changes.
func (s *StateDB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (s *StateDB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
