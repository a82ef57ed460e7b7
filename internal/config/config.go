// Package config loads inklet settings from the config file,
// environment, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved inklet configuration.
type Config struct {
	Server struct {
		// URL of the sync API, e.g. https://sync.example.com.
		URL string `mapstructure:"url"`
		// Token authenticates API and realtime requests.
		Token string `mapstructure:"token"`
		// RealtimeURL overrides the derived websocket endpoint.
		RealtimeURL string `mapstructure:"realtime_url"`
	} `mapstructure:"server"`

	Workspace struct {
		// Dir holds the markdown documents.
		Dir string `mapstructure:"dir"`
		// DataDir holds the local database and logs.
		DataDir string `mapstructure:"data_dir"`
	} `mapstructure:"workspace"`

	Sync struct {
		// Interval between automatic sync passes.
		Interval time.Duration `mapstructure:"interval"`
		// MaxRetries before a failing item is abandoned.
		MaxRetries int `mapstructure:"max_retries"`
	} `mapstructure:"sync"`

	Hub struct {
		// Addr of the local cross-process broadcast hub.
		Addr string `mapstructure:"addr"`
	} `mapstructure:"hub"`

	Log struct {
		// File to write daemon logs to; empty means stderr only.
		File string `mapstructure:"file"`
		// MaxSizeMB before the log file is rotated.
		MaxSizeMB int `mapstructure:"max_size_mb"`
		// MaxBackups of rotated log files to keep.
		MaxBackups int `mapstructure:"max_backups"`
	} `mapstructure:"log"`
}

// Load reads configuration from path (or the default locations when
// path is empty), applies INKLET_* environment overrides, and fills
// defaults. A missing config file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.url", "")
	v.SetDefault("server.token", "")
	v.SetDefault("server.realtime_url", "")
	v.SetDefault("workspace.dir", defaultWorkspaceDir())
	v.SetDefault("workspace.data_dir", defaultDataDir())
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("hub.addr", "127.0.0.1:7411")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("inklet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "inklet"))
		}
	}

	v.SetEnvPrefix("INKLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file means defaults plus env; an
		// explicitly named file must exist and parse.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// RealtimeEndpoint returns the websocket URL for the push channel,
// derived from the server URL unless explicitly configured.
func (c *Config) RealtimeEndpoint() string {
	if c.Server.RealtimeURL != "" {
		return c.Server.RealtimeURL
	}
	u := c.Server.URL
	if u == "" {
		return ""
	}
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/realtime"
}

// DatabasePath returns the local SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Workspace.DataDir, "inklet.db")
}

// Validate checks fields required for syncing.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required (set it in the config file or INKLET_SERVER_URL)")
	}
	if c.Workspace.Dir == "" {
		return fmt.Errorf("workspace.dir is required")
	}
	return nil
}

func defaultWorkspaceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "inklet")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inklet"
	}
	return filepath.Join(home, ".local", "share", "inklet")
}
