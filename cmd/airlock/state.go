package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/airlock-term/airlock/internal/config"
	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/statedb"
	"github.com/airlock-term/airlock/internal/theme"
	"github.com/airlock-term/airlock/internal/vault"
)

// legacyMigratedKey marks that hosts.json has been imported into state.db.
const legacyMigratedKey = "legacy_hosts_migrated"

// appState is the persistent state every command works against.
type appState struct {
	db     *statedb.StateDB
	vault  *vault.Vault
	hosts  *hosts.Inventory
	themes *theme.Store
}

// openState opens state.db, imports a legacy hosts.json once, and builds
// the host inventory and theme store on top of it.
func openState() (*appState, error) {
	dbPath, err := config.StateDBPath()
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	migrateLegacyHosts(db)

	keyPath, err := config.LegacyKeyPath()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	v := vault.New(db, keyPath)

	themesPath, err := config.ThemesPath()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ts := config.GetThemeSettings()
	store := theme.NewStore(theme.Options{
		Path:     themesPath,
		Selected: ts.Name,
		Dark:     ts.Dark,
		Light:    ts.Light,
		OnSelect: func(name string) {
			if err := config.SaveThemeName(name); err != nil {
				cliLog.Warn("theme_save_failed", slog.String("error", err.Error()))
			}
		},
	})

	return &appState{
		db:     db,
		vault:  v,
		hosts:  hosts.New(db, v),
		themes: store,
	}, nil
}

func (a *appState) Close() error {
	return a.db.Close()
}

func migrateLegacyHosts(db *statedb.StateDB) {
	if done, _ := db.GetMeta(legacyMigratedKey); done != "" {
		return
	}
	path, err := config.LegacyHostsPath()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}

	n, err := statedb.MigrateFromJSON(path, db)
	if err != nil {
		cliLog.Warn("legacy_hosts_migration_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	_ = db.SetMeta(legacyMigratedKey, fmt.Sprintf("%d", n))
	cliLog.Info("legacy_hosts_migrated", slog.String("path", path), slog.Int("hosts", n))
}
