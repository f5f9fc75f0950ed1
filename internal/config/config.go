// Package config loads and saves the user configuration at
// ~/.airlock/config.toml (or $AIRLOCK_HOME/config.toml).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/airlock-term/airlock/internal/logging"
)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// HomeEnv overrides the airlock directory.
const HomeEnv = "AIRLOCK_HOME"

const (
	stateDBFileName   = "state.db"
	themesFileName    = "themes.json"
	legacyKeyFileName = "master.key"
	legacyHostsFile   = "hosts.json"
	logsDirName       = "logs"
)

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Logs defines debug log settings
	Logs LogSettings `toml:"logs"`

	// Web defines the HTTP/WebSocket server
	Web WebSettings `toml:"web"`

	// Theme defines terminal theme selection
	Theme ThemeSettings `toml:"theme"`

	// SSH defines outgoing SSH connection settings
	SSH SSHSettings `toml:"ssh"`

	// Shell defines local shell sessions
	Shell ShellSettings `toml:"shell"`
}

// LogSettings defines debug logging.
type LogSettings struct {
	// Debug writes logs even when no directory is configured
	Debug bool `toml:"debug"`

	// Dir overrides the log directory (default: ~/.airlock/logs)
	Dir string `toml:"dir"`

	// Level is the minimum level: "debug", "info" (default), "warn", "error"
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the size before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is the number of rotated files to keep (default: 5)
	Backups int `toml:"backups"`

	// RetentionDays is how long rotated files are kept (default: 10)
	RetentionDays int `toml:"retention_days"`

	// Compress gzips rotated files
	Compress bool `toml:"compress"`

	// AggregateIntervalSecs is the flush interval for event summaries (default: 30)
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

// WebSettings defines the web server.
type WebSettings struct {
	// Listen is the bind address (default: 127.0.0.1:8420)
	Listen string `toml:"listen"`

	// Token is the bearer token required on every request. Empty disables auth.
	Token string `toml:"token"`

	// ReadOnly rejects layout commands and terminal input
	ReadOnly bool `toml:"read_only"`

	// CommandsPerSecond limits layout commands per socket (default: 20)
	CommandsPerSecond float64 `toml:"commands_per_second"`

	// CommandBurst is the limiter burst (default: 40)
	CommandBurst int `toml:"command_burst"`
}

// ThemeSettings defines terminal theme selection.
type ThemeSettings struct {
	// Name is the selected theme, or "system" (default: Dracula)
	Name string `toml:"name"`

	// Dark is used for "system" when the OS is in dark mode (default: Dracula)
	Dark string `toml:"dark"`

	// Light is used for "system" when the OS is in light mode (default: Campbell)
	Light string `toml:"light"`
}

// SSHSettings defines SSH connections.
type SSHSettings struct {
	// KnownHostsPath verifies server keys (default: ~/.ssh/known_hosts)
	KnownHostsPath string `toml:"known_hosts"`

	// InsecureIgnoreHostKey accepts any server key
	InsecureIgnoreHostKey bool `toml:"insecure_ignore_host_key"`

	// DialTimeoutSecs bounds connect and handshake (default: 15)
	DialTimeoutSecs int `toml:"dial_timeout_secs"`
}

// ShellSettings defines local shells.
type ShellSettings struct {
	// Program is the shell to start (default: $SHELL, then /bin/sh)
	Program string `toml:"program"`
}

var defaultConfig = Config{}

// Cache for config (loaded once per process)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the airlock directory: $AIRLOCK_HOME or ~/.airlock.
func Dir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".airlock"), nil
}

func inDir(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Path returns the path to config.toml.
func Path() (string, error) { return inDir(FileName) }

// StateDBPath returns the path to the SQLite state database.
func StateDBPath() (string, error) { return inDir(stateDBFileName) }

// ThemesPath returns the path to the user themes file.
func ThemesPath() (string, error) { return inDir(themesFileName) }

// LegacyKeyPath returns where older installs kept the vault master key.
func LegacyKeyPath() (string, error) { return inDir(legacyKeyFileName) }

// LegacyHostsPath returns where older installs kept the host list.
func LegacyHostsPath() (string, error) { return inDir(legacyHostsFile) }

// Load loads the configuration from config.toml.
// Returns cached config after first load.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = &defaultConfig
		return cache, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = &defaultConfig
		return cache, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		// Still cache default to prevent repeated parse attempts
		cache = &defaultConfig
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	cache = &cfg
	return cache, nil
}

// Reload forces a reload of the config.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// Save writes the config to config.toml using an atomic write and clears
// the cache so the next Load reads fresh values.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# Airlock Configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return err
	}

	ClearCache()
	return nil
}

// WriteFileAtomic writes data to a temp file, fsyncs it and renames it over
// path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Rename still provides some safety if fsync fails.
	_ = syncFile(tmpPath)

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize save: %w", err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// ClearCache clears the cached config. The next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

func load() *Config {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return &defaultConfig
	}
	return cfg
}

// GetLogSettings returns log settings with defaults applied.
func GetLogSettings() LogSettings {
	s := load().Logs
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.Backups <= 0 {
		s.Backups = 5
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 10
	}
	if s.AggregateIntervalSecs <= 0 {
		s.AggregateIntervalSecs = 30
	}
	if s.Dir == "" {
		if dir, err := inDir(logsDirName); err == nil {
			s.Dir = dir
		}
	}
	return s
}

// LoggingConfig converts log settings to a logging.Config.
func LoggingConfig() logging.Config {
	s := GetLogSettings()
	return logging.Config{
		LogDir:                s.Dir,
		Level:                 s.Level,
		Format:                s.Format,
		MaxSizeMB:             s.MaxSizeMB,
		MaxBackups:            s.Backups,
		MaxAgeDays:            s.RetentionDays,
		Compress:              s.Compress,
		AggregateIntervalSecs: s.AggregateIntervalSecs,
		Debug:                 s.Debug,
	}
}

// GetWebSettings returns web settings with defaults applied.
func GetWebSettings() WebSettings {
	s := load().Web
	if s.Listen == "" {
		s.Listen = "127.0.0.1:8420"
	}
	if s.CommandsPerSecond <= 0 {
		s.CommandsPerSecond = 20
	}
	if s.CommandBurst <= 0 {
		s.CommandBurst = 40
	}
	return s
}

// GetThemeSettings returns theme settings with defaults applied.
func GetThemeSettings() ThemeSettings {
	s := load().Theme
	if s.Name == "" {
		s.Name = "Dracula"
	}
	if s.Dark == "" {
		s.Dark = "Dracula"
	}
	if s.Light == "" {
		s.Light = "Campbell"
	}
	return s
}

// GetSSHSettings returns SSH settings with defaults applied.
func GetSSHSettings() SSHSettings {
	s := load().SSH
	if s.DialTimeoutSecs <= 0 {
		s.DialTimeoutSecs = 15
	}
	return s
}

// DialTimeout returns the dial timeout as a duration.
func (s SSHSettings) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutSecs) * time.Second
}

// GetShellSettings returns local shell settings.
func GetShellSettings() ShellSettings {
	return load().Shell
}

// SaveThemeName persists the selected theme name.
func SaveThemeName(name string) error {
	cur, err := Load()
	if err != nil {
		return err
	}
	next := *cur
	next.Theme.Name = name
	return Save(&next)
}
