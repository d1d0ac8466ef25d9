// Package config loads garage settings from a config file, GARAGE_*
// environment variables and built-in defaults, in that order of precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file base name searched in the data directory
	// and the working directory.
	FileName = "garage"

	// EnvPrefix prefixes every environment override (GARAGE_REMOTE_URL).
	EnvPrefix = "GARAGE"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFiles  = "files"
)

// Config keys.
const (
	KeyDataDir          = "data_dir"
	KeyStoreBackend     = "store.backend"
	KeyRemoteURL        = "remote.url"
	KeyRemoteTimeout    = "remote.timeout"
	KeySyncInterval     = "sync.interval"
	KeyConnectivityFlag = "connectivity.flag_file"
	KeyDashboardPort    = "dashboard.port"
	KeyLogFile          = "log.file"
	KeyLogMaxSizeMB     = "log.max_size_mb"
	KeyLogMaxBackups    = "log.max_backups"
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid config")

// Config is the effective garage configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	Store        StoreConfig        `mapstructure:"store"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Log          LogConfig          `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// StoreConfig selects the persistent local store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// RemoteConfig points at the garage backend.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls the periodic sync trigger.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ConnectivityConfig selects the connectivity source. With no flag file the
// daemon assumes it is online and exposes a manual switch.
type ConnectivityConfig struct {
	FlagFile string `mapstructure:"flag_file"`
}

// DashboardConfig controls the local status server. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultDataDir returns ~/.garage, or .garage when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".garage"
	}
	return filepath.Join(home, ".garage")
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyStoreBackend, BackendSQLite)
	v.SetDefault(KeyRemoteURL, "http://127.0.0.1:8080")
	v.SetDefault(KeyRemoteTimeout, 10*time.Second)
	v.SetDefault(KeySyncInterval, 5*time.Minute)
	v.SetDefault(KeyConnectivityFlag, "")
	v.SetDefault(KeyDashboardPort, 7420)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. When path is empty, garage.{yaml,toml,json} is
// searched in the working directory and then the default data directory;
// a missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	return LoadWith(New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so commands can bind
// flags before loading.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendFiles:
	default:
		return fmt.Errorf("%w: store.backend must be %q or %q, got %q", ErrInvalid, BackendSQLite, BackendFiles, c.Store.Backend)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("%w: remote.timeout must be positive", ErrInvalid)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("%w: sync.interval must be positive", ErrInvalid)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("%w: dashboard.port out of range: %d", ErrInvalid, c.Dashboard.Port)
	}
	return nil
}

// StorePath returns the location of the local store for the configured
// backend: a database file for sqlite, a directory for files.
func (c *Config) StorePath() string {
	if c.Store.Backend == BackendFiles {
		return filepath.Join(c.DataDir, "store")
	}
	return filepath.Join(c.DataDir, "garage.db")
}

// Encode writes c in the given format: yaml, toml or json.
func (c *Config) Encode(format string) ([]byte, error) {
	out := c.encodable()
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		return yaml.Marshal(out)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(out); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case "json":
		return json.MarshalIndent(out, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported format %q (want yaml, toml or json)", format)
	}
}

// encodable renders durations as strings so every format reads back
// through viper.
func (c *Config) encodable() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"store":    map[string]any{"backend": c.Store.Backend},
		"remote": map[string]any{
			"url":     c.Remote.URL,
			"timeout": c.Remote.Timeout.String(),
		},
		"sync":         map[string]any{"interval": c.Sync.Interval.String()},
		"connectivity": map[string]any{"flag_file": c.Connectivity.FlagFile},
		"dashboard":    map[string]any{"port": c.Dashboard.Port},
		"log": map[string]any{
			"file":        c.Log.File,
			"max_size_mb": c.Log.MaxSizeMB,
			"max_backups": c.Log.MaxBackups,
		},
	}
}
