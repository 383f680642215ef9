package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Dispatch modes
const (
	DispatchIntent     = "intent"
	DispatchConcurrent = "concurrent"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Polling  PollingConfig  `yaml:"polling"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite3 postgres"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// WebhooksConfig holds the four automation endpoints the core talks to
type WebhooksConfig struct {
	CampaignDispatch  string            `yaml:"campaign_dispatch" validate:"required,url"`
	CreateInstance    string            `yaml:"create_instance" validate:"required,url"`
	ConfirmConnection string            `yaml:"confirm_connection" validate:"required,url"`
	RefreshQRCode     string            `yaml:"refresh_qr_code" validate:"required,url"`
	Timeout           time.Duration     `yaml:"timeout" validate:"gte=0"`
	Headers           map[string]string `yaml:"headers"`
}

type PollingConfig struct {
	StatusInterval time.Duration `yaml:"status_interval" validate:"gt=0"`
	QRInterval     time.Duration `yaml:"qr_interval" validate:"gt=0"`
}

type DispatchConfig struct {
	Mode              string        `yaml:"mode" validate:"oneof=intent concurrent"`
	OutboxPath        string        `yaml:"outbox_path"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" validate:"gt=0"`
	ReconcileGrace    time.Duration `yaml:"reconcile_grace" validate:"gt=0"`
	OutboxRetention   time.Duration `yaml:"outbox_retention" validate:"gte=0"`
}

// EventsConfig enables publishing lifecycle notifications to an AMQP exchange
type EventsConfig struct {
	AMQPURL    string `yaml:"amqp_url" validate:"omitempty,url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json text"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Environment variables that override file values
const (
	EnvListenAddr        = "WACAMPAIGN_LISTEN_ADDR"
	EnvDatabaseDriver    = "WACAMPAIGN_DATABASE_DRIVER"
	EnvDatabaseDSN       = "WACAMPAIGN_DATABASE_DSN"
	EnvCampaignDispatch  = "WACAMPAIGN_WEBHOOK_CAMPAIGN_DISPATCH"
	EnvCreateInstance    = "WACAMPAIGN_WEBHOOK_CREATE_INSTANCE"
	EnvConfirmConnection = "WACAMPAIGN_WEBHOOK_CONFIRM_CONNECTION"
	EnvRefreshQRCode     = "WACAMPAIGN_WEBHOOK_REFRESH_QR_CODE"
	EnvAMQPURL           = "WACAMPAIGN_AMQP_URL"
	EnvLogLevel          = "WACAMPAIGN_LOG_LEVEL"
)

// Load reads the YAML file at path, applies a .env file from the working
// directory if present and the WACAMPAIGN_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes and the current environment
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvListenAddr, &cfg.Server.ListenAddr},
		{EnvDatabaseDriver, &cfg.Database.Driver},
		{EnvDatabaseDSN, &cfg.Database.DSN},
		{EnvCampaignDispatch, &cfg.Webhooks.CampaignDispatch},
		{EnvCreateInstance, &cfg.Webhooks.CreateInstance},
		{EnvConfirmConnection, &cfg.Webhooks.ConfirmConnection},
		{EnvRefreshQRCode, &cfg.Webhooks.RefreshQRCode},
		{EnvAMQPURL, &cfg.Events.AMQPURL},
		{EnvLogLevel, &cfg.Logging.Level},
	}

	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && strings.TrimSpace(v) != "" {
			*o.target = strings.TrimSpace(v)
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.Driver == "sqlite3" && cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/wacampaign/app.db"
	}
	if cfg.Polling.StatusInterval == 0 {
		cfg.Polling.StatusInterval = 30 * time.Second
	}
	if cfg.Polling.QRInterval == 0 {
		cfg.Polling.QRInterval = 20 * time.Second
	}
	if cfg.Dispatch.Mode == "" {
		cfg.Dispatch.Mode = DispatchIntent
	}
	if cfg.Dispatch.OutboxPath == "" {
		cfg.Dispatch.OutboxPath = "/var/lib/wacampaign/outbox.db"
	}
	if cfg.Dispatch.ReconcileInterval == 0 {
		cfg.Dispatch.ReconcileInterval = time.Minute
	}
	if cfg.Dispatch.ReconcileGrace == 0 {
		cfg.Dispatch.ReconcileGrace = 5 * time.Minute
	}
	if cfg.Dispatch.OutboxRetention == 0 {
		cfg.Dispatch.OutboxRetention = 7 * 24 * time.Hour
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "wacampaign.events"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 64
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 7
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 7
	}
}

var structValidator = validator.New()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q check", fieldPath(fe.Namespace()), fe.Tag())
		}
		return err
	}
	return nil
}

// fieldPath turns a validator namespace like Config.Webhooks.CreateInstance
// into the dotted YAML-ish path used in error messages.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}
