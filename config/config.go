// Package config loads service configuration from a YAML file with
// environment-variable overrides. Secrets are only ever read from the
// environment, never from the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recapworks/recapd/pkg/db"
)

// Default configuration values.
const (
	DefaultListenAddr    = ":8080"
	DefaultRedisAddr     = "localhost:6379"
	DefaultSweepInterval = 5 * time.Minute
	DefaultSweepWindow   = 24 * time.Hour
	DefaultSMTPPort      = 587
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL, used to build the
	// worker callback URL and the OAuth redirect URL.
	PublicURL string `yaml:"public_url"`

	Log      LogConfig      `yaml:"log"`
	Database db.Config      `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Launcher LauncherConfig `yaml:"launcher"`
	Calendar CalendarConfig `yaml:"calendar"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// RedisConfig holds the notification queue's Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// WebhookConfig holds the shared secrets for inbound event authentication.
// Both values come from the environment only.
type WebhookConfig struct {
	// Secret signs platform webhook deliveries.
	Secret string `yaml:"-"`
	// CallbackSecret authenticates worker callbacks.
	CallbackSecret string `yaml:"-"`
}

// LauncherConfig holds the bot launch settings.
type LauncherConfig struct {
	// TaskRunnerEndpoint is the native provider's task-launch API.
	TaskRunnerEndpoint string `yaml:"task_runner_endpoint"`
	TaskRunnerToken    string `yaml:"-"`

	// Templates maps platform tags onto worker task template names.
	Templates map[string]string `yaml:"templates"`

	// CoordinatorEndpoint enables the managed provider when set.
	CoordinatorEndpoint string `yaml:"coordinator_endpoint"`
	CoordinatorSecret   string `yaml:"-"`

	// MaxAttempts bounds task-submission retries.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseBackoff is the first retry delay.
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// CalendarConfig holds the discovery sweep and OAuth client settings.
type CalendarConfig struct {
	// SweepInterval is how often serve runs the discovery sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// SweepWindow is the forward horizon of each sweep.
	SweepWindow time.Duration `yaml:"sweep_window"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"-"`

	// TokenPassphrase derives the key that encrypts OAuth tokens at rest.
	TokenPassphrase string `yaml:"-"`
}

// SMTPConfig holds the notification mail transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	From     string `yaml:"from"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Database: *db.DefaultConfig(),
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Launcher: LauncherConfig{
			MaxAttempts: 3,
			BaseBackoff: time.Second,
		},
		Calendar: CalendarConfig{
			SweepInterval: DefaultSweepInterval,
			SweepWindow:   DefaultSweepWindow,
		},
		SMTP: SMTPConfig{
			Port: DefaultSMTPPort,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "RECAPD_LISTEN_ADDR")
	setString(&c.PublicURL, "RECAPD_PUBLIC_URL")
	setString(&c.Log.Level, "RECAPD_LOG_LEVEL")
	setString(&c.Log.Format, "RECAPD_LOG_FORMAT")

	setString(&c.Database.Host, "RECAPD_DB_HOST")
	setInt(&c.Database.Port, "RECAPD_DB_PORT")
	setString(&c.Database.Database, "RECAPD_DB_NAME")
	setString(&c.Database.User, "RECAPD_DB_USER")
	setString(&c.Database.Password, "RECAPD_DB_PASSWORD")
	setString(&c.Database.SSLMode, "RECAPD_DB_SSLMODE")

	setString(&c.Redis.Addr, "RECAPD_REDIS_ADDR")
	setString(&c.Redis.Password, "RECAPD_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "RECAPD_REDIS_DB")

	setString(&c.Webhook.Secret, "RECAPD_WEBHOOK_SECRET")
	setString(&c.Webhook.CallbackSecret, "RECAPD_CALLBACK_SECRET")

	setString(&c.Launcher.TaskRunnerEndpoint, "RECAPD_TASK_RUNNER_ENDPOINT")
	setString(&c.Launcher.TaskRunnerToken, "RECAPD_TASK_RUNNER_TOKEN")
	setString(&c.Launcher.CoordinatorEndpoint, "RECAPD_COORDINATOR_ENDPOINT")
	setString(&c.Launcher.CoordinatorSecret, "RECAPD_COORDINATOR_SECRET")

	setDuration(&c.Calendar.SweepInterval, "RECAPD_SWEEP_INTERVAL")
	setDuration(&c.Calendar.SweepWindow, "RECAPD_SWEEP_WINDOW")
	setString(&c.Calendar.GoogleClientID, "RECAPD_GOOGLE_CLIENT_ID")
	setString(&c.Calendar.GoogleClientSecret, "RECAPD_GOOGLE_CLIENT_SECRET")
	setString(&c.Calendar.TokenPassphrase, "RECAPD_TOKEN_PASSPHRASE")

	setString(&c.SMTP.Host, "RECAPD_SMTP_HOST")
	setInt(&c.SMTP.Port, "RECAPD_SMTP_PORT")
	setString(&c.SMTP.Username, "RECAPD_SMTP_USER")
	setString(&c.SMTP.Password, "RECAPD_SMTP_PASSWORD")
	setString(&c.SMTP.From, "RECAPD_SMTP_FROM")
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("RECAPD_WEBHOOK_SECRET is required")
	}
	if c.Webhook.CallbackSecret == "" {
		return fmt.Errorf("RECAPD_CALLBACK_SECRET is required")
	}
	if c.Calendar.TokenPassphrase == "" {
		return fmt.Errorf("RECAPD_TOKEN_PASSPHRASE is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}

// CallbackURL is the worker callback target derived from the public URL.
func (c *Config) CallbackURL() string {
	return c.PublicURL + "/internal/bot-callback"
}

// OAuthRedirectURL is the Google OAuth callback derived from the public URL.
func (c *Config) OAuthRedirectURL() string {
	return c.PublicURL + "/calendar/oauth/callback"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
