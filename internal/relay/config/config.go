// Package config loads the relay server configuration from an optional YAML
// file with environment variable overrides on top. Environment always wins,
// so a containerized deployment can run without any file at all.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dudu1111685/openclawMail/common/environment"
)

// Config is the full relay server configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP and websocket listener binds.
	ListenAddr string `yaml:"listen_addr"`
	// DatabasePath is the SQLite file backing all relay state.
	DatabasePath string `yaml:"database_path"`
	// EncryptionKey is the 64-hex-char master key for message content at
	// rest. Empty means the server generates an ephemeral key at startup
	// and previously stored ciphertext becomes unreadable.
	EncryptionKey string `yaml:"encryption_key"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects log verbosity and output shape.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var hexKey = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Load builds the configuration: defaults, then the YAML file (explicit path
// argument, else $MAILBOX_CONFIG, else no file), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:   ":8080",
		DatabasePath: "mailbox.db",
		Log:          LogConfig{Level: "info", Format: "json"},
	}

	if path == "" {
		path = os.Getenv("MAILBOX_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ListenAddr = environment.StringOr("MAILBOX_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabasePath = environment.StringOr("MAILBOX_DATABASE_PATH", cfg.DatabasePath)
	cfg.EncryptionKey = environment.StringOr("MAILBOX_ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.Log.Level = environment.StringOr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = environment.StringOr("LOG_FORMAT", cfg.Log.Format)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural correctness. It returns
// the first validation error encountered, or nil if the config is valid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if cfg.EncryptionKey != "" && !hexKey.MatchString(cfg.EncryptionKey) {
		return fmt.Errorf("encryption_key must be 64 hex characters")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text; got %q", cfg.Log.Format)
	}
	return nil
}
