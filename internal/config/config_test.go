package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("addr default wrong: %s", cfg.Server.Addr)
	}
	if cfg.Postgres.Database != DefaultPGDatabase {
		t.Fatalf("database default wrong: %s", cfg.Postgres.Database)
	}
	if cfg.Twilio.APIBase != DefaultTwilioAPIBase {
		t.Fatalf("api base default wrong: %s", cfg.Twilio.APIBase)
	}
	if cfg.Maintenance.SweepSchedule != DefaultSweepSchedule {
		t.Fatalf("sweep schedule default wrong: %s", cfg.Maintenance.SweepSchedule)
	}
	if !cfg.Messaging.WarnSenderOnPolicyBlock {
		t.Fatal("policy warning should default on")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[server]
addr = ":9090"

[postgres]
host = "db.internal"
port = 5433
user = "relay"
database = "relay_prod"

[twilio]
account_sid = "AC123"
auth_token = "secret"
webhook_url = "https://relay.example.com/webhooks/twilio/inbound"

[messaging]
booking_link = "https://book.example.com/snout"
warn_sender_on_policy_block = false

[maintenance]
quarantine_cooldown_minutes = 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log config wrong: %+v", cfg.Log)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr wrong: %s", cfg.Server.Addr)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 5433 {
		t.Fatalf("postgres config wrong: %+v", cfg.Postgres)
	}
	if cfg.Twilio.WebhookURL != "https://relay.example.com/webhooks/twilio/inbound" {
		t.Fatalf("webhook url wrong: %s", cfg.Twilio.WebhookURL)
	}
	if cfg.Messaging.WarnSenderOnPolicyBlock {
		t.Fatal("policy warning should be disabled")
	}
	if cfg.Maintenance.QuarantineCooldownMinutes != 30 {
		t.Fatalf("cooldown wrong: %d", cfg.Maintenance.QuarantineCooldownMinutes)
	}
	// Unset sections keep their defaults.
	if cfg.Twilio.APIBase != DefaultTwilioAPIBase {
		t.Fatalf("api base should keep default, got %s", cfg.Twilio.APIBase)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[postgres]
host = "db.internal"
port = 99999
user = "relay"
database = "relay"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestLoadRejectsAuthTokenWithoutWebhookURL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[twilio]
account_sid = "AC123"
auth_token = "secret"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for auth token without webhook url")
	}
}
