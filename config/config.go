package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	Hooks          HooksConfig          `mapstructure:"hooks"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Refunds        RefundsConfig        `mapstructure:"refunds"`
	Auth           AuthConfig           `mapstructure:"auth"`
	AES            AESConfig            `mapstructure:"aes"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"` // empty = redis disabled
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// GatewayConfig describes the external card/UPI processor.
type GatewayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	KeyID        string        `mapstructure:"key_id"`     // public key handed to checkout
	KeySecret    string        `mapstructure:"key_secret"` // also the checkout signature secret
	Currency     string        `mapstructure:"currency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CheckoutName string        `mapstructure:"checkout_name"`
	PageSize     int           `mapstructure:"page_size"` // settlement feed page size
}

// WebhookConfig holds the inbound webhook settings.
type WebhookConfig struct {
	Secret   string        `mapstructure:"secret"` // empty = verification skipped (non-production only)
	EventTTL time.Duration `mapstructure:"event_ttl"`
}

// HooksConfig configures outbound collaborator hooks.
type HooksConfig struct {
	FeeSettlementURL    string          `mapstructure:"fee_settlement_url"` // empty = log-only
	FeeSettlementSecret string          `mapstructure:"fee_settlement_secret"`
	Workers             int             `mapstructure:"workers"`
	QueueSize           int             `mapstructure:"queue_size"`
	RetryIntervals      []time.Duration `mapstructure:"retry_intervals"`
	Timeout             time.Duration   `mapstructure:"timeout"`
}

// ReconciliationConfig controls the nightly settlement diff.
type ReconciliationConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Schedule string  `mapstructure:"schedule"` // cron expression
	Timezone string  `mapstructure:"timezone"`
	Epsilon  float64 `mapstructure:"epsilon"`
}

// RefundsConfig controls recovery of abandoned REFUND_PENDING claims.
type RefundsConfig struct {
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"` // cron expression; empty disables the sweep
}

// AuthConfig validates staff tokens issued by the identity collaborator.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Issuer      string        `mapstructure:"issuer"`
	Expiry      time.Duration `mapstructure:"expiry"`
	RefundRoles []string      `mapstructure:"refund_roles"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: HPAY_.
// Nested keys use underscore: HPAY_DATABASE_HOST, HPAY_GATEWAY_KEY_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("HPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if c.Reconciliation.Epsilon < 0 {
		return fmt.Errorf("reconciliation.epsilon must not be negative")
	}
	if c.Refunds.ClaimTTL <= 0 {
		return fmt.Errorf("refunds.claim_ttl must be positive")
	}
	if c.Server.Mode == "release" && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required in release mode")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "hostel_payments")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("gateway.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("gateway.key_id", "")
	v.SetDefault("gateway.key_secret", "")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.checkout_name", "Hostel Administration")
	v.SetDefault("gateway.page_size", 100)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.event_ttl", "72h")
	v.SetDefault("hooks.fee_settlement_url", "")
	v.SetDefault("hooks.fee_settlement_secret", "")
	v.SetDefault("hooks.workers", 4)
	v.SetDefault("hooks.queue_size", 256)
	v.SetDefault("hooks.retry_intervals", []string{"15s", "1m", "5m"})
	v.SetDefault("hooks.timeout", "5s")
	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.schedule", "30 2 * * *")
	v.SetDefault("reconciliation.timezone", "Asia/Kolkata")
	v.SetDefault("reconciliation.epsilon", 0.01)
	v.SetDefault("refunds.claim_ttl", "5m")
	v.SetDefault("refunds.sweep_schedule", "@every 5m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "hostel-admin")
	v.SetDefault("auth.expiry", "8h")
	v.SetDefault("auth.refund_roles", []string{"admin", "warden", "accountant"})
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
