package bridge

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MAILBOX_API_KEY", "amb_testkey")
	t.Setenv("MAILBOX_SERVER_URL", "relay.example.com:8080")
	t.Setenv("TRUSTED_AGENTS", "Alice, bob")
	t.Setenv("AGENT_REPLY_TIMEOUT", "60")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "http://relay.example.com:8080" {
		t.Errorf("server url: got %q", cfg.ServerURL)
	}
	if cfg.WSURL() != "ws://relay.example.com:8080/ws" {
		t.Errorf("ws url: got %q", cfg.WSURL())
	}
	if cfg.ReplyTimeout != 60*time.Second {
		t.Errorf("reply timeout: got %v", cfg.ReplyTimeout)
	}
	if !cfg.IsTrusted("alice") || !cfg.IsTrusted("BOB") {
		t.Error("trusted list should match case-insensitively")
	}
	if cfg.IsTrusted("mallory") {
		t.Error("mallory should not be trusted")
	}
}

func TestLoadConfig_TLS(t *testing.T) {
	t.Setenv("MAILBOX_API_KEY", "amb_testkey")
	t.Setenv("MAILBOX_SERVER_URL", "relay.example.com")
	t.Setenv("MAILBOX_USE_TLS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "https://relay.example.com" {
		t.Errorf("server url: got %q", cfg.ServerURL)
	}
	if cfg.WSURL() != "wss://relay.example.com/ws" {
		t.Errorf("ws url: got %q", cfg.WSURL())
	}
}

func TestLoadConfig_ExplicitSchemeWins(t *testing.T) {
	t.Setenv("MAILBOX_API_KEY", "amb_testkey")
	t.Setenv("MAILBOX_SERVER_URL", "http://relay.local:9000/")
	t.Setenv("MAILBOX_USE_TLS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "http://relay.local:9000" {
		t.Errorf("explicit scheme should win: got %q", cfg.ServerURL)
	}
}

func TestLoadConfig_RequiresAPIKey(t *testing.T) {
	t.Setenv("MAILBOX_API_KEY", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without MAILBOX_API_KEY")
	}
}

func TestLoadConfig_RejectsBadTimeout(t *testing.T) {
	t.Setenv("MAILBOX_API_KEY", "amb_testkey")
	t.Setenv("AGENT_REPLY_TIMEOUT", "-5")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for negative AGENT_REPLY_TIMEOUT")
	}
}
