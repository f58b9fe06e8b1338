// Package config loads the clawlink client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig describes how to reach and authenticate to the gateway.
type GatewayConfig struct {
	URL      string   `yaml:"url"`
	Token    string   `yaml:"token,omitempty"`    // static shared token
	Password string   `yaml:"password,omitempty"` // shared credential fallback
	ClientID string   `yaml:"client_id,omitempty"`
	Role     string   `yaml:"role,omitempty"`
	Scopes   []string `yaml:"scopes,omitempty"`
}

// IdentityConfig controls device key generation.
type IdentityConfig struct {
	// Seed, when set, makes keypair generation deterministic per user
	// scope so the identity survives a wiped state dir.
	Seed string `yaml:"seed,omitempty"`
	// Disabled turns off device-proof signing entirely (degraded
	// token/password-only handshake).
	Disabled bool `yaml:"disabled,omitempty"`
}

// StorageConfig selects the client-local state backend.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty"` // "file", "keyring", "memory"
	Dir     string `yaml:"dir,omitempty"`
}

// ChatConfig tunes the conversation view.
type ChatConfig struct {
	Agent      string `yaml:"agent,omitempty"`
	CoalesceMs int    `yaml:"coalesce_ms,omitempty"`
}

// Config is the full client configuration.
type Config struct {
	UserScope string         `yaml:"user_scope,omitempty"`
	Gateway   GatewayConfig  `yaml:"gateway"`
	Identity  IdentityConfig `yaml:"identity,omitempty"`
	Storage   StorageConfig  `yaml:"storage,omitempty"`
	Chat      ChatConfig     `yaml:"chat,omitempty"`
	LogLevel  string         `yaml:"log_level,omitempty"`
}

// DefaultPath returns ~/.clawlink/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".clawlink", "config.yaml")
}

// DefaultStateDir returns ~/.clawlink/state.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state"
	}
	return filepath.Join(home, ".clawlink", "state")
}

// Load reads the config file, applying defaults. A missing file yields
// the defaults rather than an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.UserScope == "" {
		c.UserScope = "default"
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = "ws://127.0.0.1:18789/ws"
	}
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = "clawlink"
	}
	if c.Gateway.Role == "" {
		c.Gateway.Role = "operator"
	}
	if len(c.Gateway.Scopes) == 0 {
		c.Gateway.Scopes = []string{"operator.read", "operator.write"}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultStateDir()
	}
	if c.Chat.Agent == "" {
		c.Chat.Agent = DefaultAgentID
	}
	if c.Chat.CoalesceMs == 0 {
		c.Chat.CoalesceMs = 16
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// CoalesceInterval returns the chat update coalescing window.
func (c *Config) CoalesceInterval() time.Duration {
	return time.Duration(c.Chat.CoalesceMs) * time.Millisecond
}
