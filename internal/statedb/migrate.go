package statedb

import (
	"encoding/json"
	"fmt"
	"os"
)

// jsonHostsFile mirrors the legacy persisted hosts store: {"hosts": [...]}.
type jsonHostsFile struct {
	Hosts []*jsonHost `json:"hosts"`
}

// jsonHost mirrors one legacy host entry. Folders carry placeholder
// connection fields.
type jsonHost struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	ParentID          *string `json:"parentId"`
	Host              string  `json:"host,omitempty"`
	Port              int     `json:"port,omitempty"`
	Username          string  `json:"username,omitempty"`
	EncryptedPassword string  `json:"encrypted_password,omitempty"`
	PrivateKeyPath    string  `json:"private_key_path,omitempty"`
}

// MigrateFromJSON reads a legacy hosts JSON file and replaces the hosts
// table with its contents. An empty file never overwrites existing rows.
// Returns the number of rows migrated.
func MigrateFromJSON(jsonPath string, db *StateDB) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("read json: %w", err)
	}

	var file jsonHostsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse json: %w", err)
	}

	if len(file.Hosts) == 0 {
		empty, err := db.IsEmpty()
		if err != nil {
			return 0, fmt.Errorf("check hosts: %w", err)
		}
		if !empty {
			return 0, nil
		}
	}

	rows := make([]*HostRow, 0, len(file.Hosts))
	for i, h := range file.Hosts {
		if h == nil || h.ID == "" {
			continue
		}
		row := &HostRow{
			ID:                h.ID,
			Name:              h.Name,
			Type:              h.Type,
			Host:              h.Host,
			Port:              h.Port,
			Username:          h.Username,
			EncryptedPassword: h.EncryptedPassword,
			PrivateKeyPath:    h.PrivateKeyPath,
			Order:             i,
		}
		if row.Type != TypeFolder {
			row.Type = TypeHost
		}
		if h.ParentID != nil {
			row.ParentID = *h.ParentID
		}
		rows = append(rows, row)
	}

	if err := db.SaveHosts(rows); err != nil {
		return 0, fmt.Errorf("save hosts: %w", err)
	}
	return len(rows), nil
}
