// Package config resolves client settings. Environment variables override
// the TOML file and command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultAPIBase       = "http://localhost:8000/api/v1"
	DefaultUserID        = 1
	DefaultToastSeconds  = 5
	DefaultReconnectSecs = 3
	DefaultRatePerMinute = 60
	DefaultTimeoutSecs   = 120
)

// Config is the resolved client configuration.
type Config struct {
	APIBase           string `toml:"api_base"`
	WSBase            string `toml:"ws_base"`
	UserID            int    `toml:"user_id"`
	DataDir           string `toml:"data_dir"`
	ToastSeconds      int    `toml:"toast_seconds"`
	ReconnectSeconds  int    `toml:"reconnect_seconds"`
	ReconnectAttempts int    `toml:"reconnect_attempts"`
	RatePerMinute     int    `toml:"rate_per_minute"`
	TimeoutSeconds    int    `toml:"request_timeout_seconds"`
}

// DefaultPath returns $XDG_CONFIG_HOME/studzo/config.toml, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "studzo", "config.toml")
}

// Load reads path (a missing file is not an error), applies env overrides
// through getenv and fills defaults. An empty path means DefaultPath.
func Load(path string, getenv func(string) string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("STUDZO_API"); v != "" {
		c.APIBase = v
	}
	if v := getenv("STUDZO_WS"); v != "" {
		c.WSBase = v
	}
	if v := getenv("STUDZO_USER"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STUDZO_USER: %w", err)
		}
		c.UserID = id
	}
	if v := getenv("STUDZO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.WSBase == "" {
		c.WSBase = WSFromAPI(c.APIBase)
	}
	if c.UserID <= 0 {
		c.UserID = DefaultUserID
	}
	if c.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, ".local", "share", "studzo")
	}
	if c.ToastSeconds <= 0 {
		c.ToastSeconds = DefaultToastSeconds
	}
	if c.ReconnectSeconds <= 0 {
		c.ReconnectSeconds = DefaultReconnectSecs
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = 0
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = DefaultRatePerMinute
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSecs
	}
}

// WSFromAPI derives the websocket base from the HTTP API base by swapping
// the scheme.
func WSFromAPI(api string) string {
	switch {
	case strings.HasPrefix(api, "https://"):
		return "wss://" + strings.TrimPrefix(api, "https://")
	case strings.HasPrefix(api, "http://"):
		return "ws://" + strings.TrimPrefix(api, "http://")
	}
	return api
}

// ToastDuration returns the toast display time.
func (c Config) ToastDuration() time.Duration {
	return time.Duration(c.ToastSeconds) * time.Second
}

// ReconnectBackoff returns the delay between reconnect attempts.
func (c Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectSeconds) * time.Second
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// UserKey returns the user id as used in the notification URL.
func (c Config) UserKey() string {
	return strconv.Itoa(c.UserID)
}
