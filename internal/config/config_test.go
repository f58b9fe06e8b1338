package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.URL != "ws://127.0.0.1:18789/ws" {
		t.Errorf("url = %q", cfg.Gateway.URL)
	}
	if cfg.UserScope != "default" || cfg.Gateway.Role != "operator" {
		t.Errorf("scope=%q role=%q", cfg.UserScope, cfg.Gateway.Role)
	}
	if len(cfg.Gateway.Scopes) != 2 {
		t.Errorf("scopes = %v", cfg.Gateway.Scopes)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.CoalesceInterval() != 16*time.Millisecond {
		t.Errorf("coalesce = %s", cfg.CoalesceInterval())
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
user_scope: alice
gateway:
  url: wss://gw.example.com/ws
  role: node
  token: tok-123
storage:
  backend: keyring
chat:
  agent: Research Helper
  coalesce_ms: 33
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.URL != "wss://gw.example.com/ws" || cfg.Gateway.Role != "node" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Gateway.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Gateway.Token)
	}
	if cfg.Storage.Backend != "keyring" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.CoalesceInterval() != 33*time.Millisecond {
		t.Errorf("coalesce = %s", cfg.CoalesceInterval())
	}
	// Unset fields still get defaults.
	if cfg.Gateway.ClientID != "clawlink" {
		t.Errorf("client id = %q", cfg.Gateway.ClientID)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestNormalizeAgentID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "default"},
		{"main", "main"},
		{"Research Helper", "research-helper"},
		{"  UPPER  ", "upper"},
		{"émoji!!", "moji"},
		{"---", "default"},
	}
	for _, c := range cases {
		if got := NormalizeAgentID(c.in); got != c.want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
