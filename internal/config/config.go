package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultJWTExpiresIn  = "24h"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "relay"
	DefaultPGSSLMode     = "disable"
	DefaultSweepSchedule = "*/5 * * * *"
	DefaultTwilioAPIBase = "https://api.twilio.com"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Admin       AdminConfig       `toml:"admin"`
	Auth        AuthConfig        `toml:"auth"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Twilio      TwilioConfig      `toml:"twilio"`
	Messaging   MessagingConfig   `toml:"messaging"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Email    string `toml:"email" validate:"omitempty,email"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// TwilioConfig carries the provider credentials. An empty AuthToken means
// webhook signatures are not verified (development posture).
type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	// WebhookURL must match the URL configured in the provider console exactly;
	// signatures are computed over it.
	WebhookURL        string `toml:"webhook_url" validate:"omitempty,url"`
	StatusCallbackURL string `toml:"status_callback_url" validate:"omitempty,url"`
	APIBase           string `toml:"api_base" validate:"omitempty,url"`
}

type MessagingConfig struct {
	// PoolMismatchAutoResponse overrides the generated auto-response sent when
	// a pool number receives a message from an unmapped sender.
	PoolMismatchAutoResponse string `toml:"pool_mismatch_auto_response"`
	BookingLink              string `toml:"booking_link" validate:"omitempty,url"`
	// WarnSenderOnPolicyBlock controls whether blocked senders get the policy
	// warning auto-response.
	WarnSenderOnPolicyBlock bool `toml:"warn_sender_on_policy_block"`
}

type MaintenanceConfig struct {
	// SweepSchedule is a cron expression for the window/number sweeper.
	SweepSchedule string `toml:"sweep_schedule"`
	// QuarantineCooldownMinutes is how long a number stays quarantined before
	// the sweeper lifts it.
	QuarantineCooldownMinutes int `toml:"quarantine_cooldown_minutes" validate:"gte=0"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
			Email:    "you@example.com",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Twilio: TwilioConfig{
			APIBase: DefaultTwilioAPIBase,
		},
		Messaging: MessagingConfig{
			WarnSenderOnPolicyBlock: true,
		},
		Maintenance: MaintenanceConfig{
			SweepSchedule:             DefaultSweepSchedule,
			QuarantineCooldownMinutes: 60,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	// Signatures are computed over the webhook URL; a token without it would
	// verify every request against an empty URL and reject all traffic.
	if cfg.Twilio.AuthToken != "" && cfg.Twilio.WebhookURL == "" {
		return cfg, fmt.Errorf("invalid config: twilio.webhook_url is required when twilio.auth_token is set")
	}

	return cfg, nil
}
