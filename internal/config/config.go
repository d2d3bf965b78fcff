// Package config loads application configuration from the environment, an
// optional .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	LedgerMySQL  = "mysql"
	LedgerSQLite = "sqlite"

	ChannelRedis  = "redis"
	ChannelMemory = "memory"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; a TOML file named by PARKING_CONFIG can supply
// values that the environment does not set.
type Config struct {
	Env  string `toml:"env"`  // APP_ENV
	Port string `toml:"port"` // APP_PORT

	LedgerDriver string `toml:"ledger_driver"` // LEDGER_DRIVER: mysql or sqlite
	DBUser       string `toml:"db_user"`       // DB_USER
	DBPass       string `toml:"db_pass"`       // DB_PASS (empty allowed)
	DBHost       string `toml:"db_host"`       // DB_HOST
	DBPort       string `toml:"db_port"`       // DB_PORT
	DBName       string `toml:"db_name"`       // DB_NAME
	SQLitePath   string `toml:"sqlite_path"`   // SQLITE_PATH

	SlotCount      int           `toml:"slot_count"`      // SLOT_COUNT
	PollInterval   time.Duration `toml:"poll_interval"`   // POLL_INTERVAL
	ChannelDriver  string        `toml:"channel_driver"`  // CHANNEL_DRIVER: redis or memory
	ChannelPrefix  string        `toml:"channel_prefix"`  // CHANNEL_KEY_PREFIX
	ChannelTimeout time.Duration `toml:"channel_timeout"` // CHANNEL_TIMEOUT

	RetryAttempts int           `toml:"retry_attempts"`  // PUBLISH_RETRY_ATTEMPTS
	RetryDelay    time.Duration `toml:"retry_delay"`     // PUBLISH_RETRY_DELAY
	RetryMaxDelay time.Duration `toml:"retry_max_delay"` // PUBLISH_RETRY_MAX_DELAY

	NotifyTimeout time.Duration `toml:"notify_timeout"` // NOTIFY_TIMEOUT
	RabbitMQURL   string        `toml:"rabbitmq_url"`   // RABBITMQ_URL (empty = log only)
	NotifyQueue   string        `toml:"notify_queue"`   // NOTIFY_QUEUE
	NATSURL       string        `toml:"nats_url"`       // NATS_URL (empty = no events)

	SMTPHost string `toml:"smtp_host"` // SMTP_HOST
	SMTPPort string `toml:"smtp_port"` // SMTP_PORT
	SMTPUser string `toml:"smtp_user"` // SMTP_USER
	SMTPPass string `toml:"smtp_pass"` // SMTP_PASS
	SMTPFrom string `toml:"smtp_from"` // SMTP_FROM

	ArchiveInterval   time.Duration `toml:"archive_interval"`    // ARCHIVE_INTERVAL (0 = disabled)
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // ARCHIVE_S3_BUCKET
	ArchiveS3Key      string        `toml:"archive_s3_key"`      // ARCHIVE_S3_KEY
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // ARCHIVE_S3_REGION
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // ARCHIVE_S3_ENDPOINT

	LogLevel  string `toml:"log_level"`  // LOG_LEVEL
	LogFormat string `toml:"log_format"` // LOG_FORMAT: console or json
}

// defaults are two slots, a one second poll and the parking.* feed names.
func defaults() Config {
	return Config{
		Env:             "dev",
		Port:            "8080",
		LedgerDriver:    LedgerSQLite,
		DBHost:          "localhost",
		DBPort:          "3306",
		DBName:          "parking",
		SQLitePath:      "parking_reservations.db",
		SlotCount:       2,
		PollInterval:    time.Second,
		ChannelDriver:   ChannelRedis,
		ChannelPrefix:   "parking.",
		ChannelTimeout:  2 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      200 * time.Millisecond,
		RetryMaxDelay:   2 * time.Second,
		NotifyTimeout:   10 * time.Second,
		NotifyQueue:     "parking.notifications",
		SMTPPort:        "587",
		ArchiveS3Key:    "parking/reservations.jsonl",
		ArchiveS3Region: "us-east-1",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads .env (if present), then the TOML file named by PARKING_CONFIG
// (if set), then the environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()
	if path := os.Getenv("PARKING_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	cfg.Env = envStr("APP_ENV", cfg.Env)
	cfg.Port = envStr("APP_PORT", cfg.Port)
	cfg.LedgerDriver = strings.ToLower(envStr("LEDGER_DRIVER", cfg.LedgerDriver))
	cfg.DBUser = envStr("DB_USER", cfg.DBUser)
	cfg.DBPass = envStr("DB_PASS", cfg.DBPass)
	cfg.DBHost = envStr("DB_HOST", cfg.DBHost)
	cfg.DBPort = envStr("DB_PORT", cfg.DBPort)
	cfg.DBName = envStr("DB_NAME", cfg.DBName)
	cfg.SQLitePath = envStr("SQLITE_PATH", cfg.SQLitePath)

	var err error
	if cfg.SlotCount, err = envIntStrict("SLOT_COUNT", cfg.SlotCount); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = envDurStrict("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	cfg.ChannelDriver = strings.ToLower(envStr("CHANNEL_DRIVER", cfg.ChannelDriver))
	cfg.ChannelPrefix = envStr("CHANNEL_KEY_PREFIX", cfg.ChannelPrefix)
	if cfg.ChannelTimeout, err = envDurStrict("CHANNEL_TIMEOUT", cfg.ChannelTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryAttempts, err = envIntStrict("PUBLISH_RETRY_ATTEMPTS", cfg.RetryAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RetryDelay, err = envDurStrict("PUBLISH_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxDelay, err = envDurStrict("PUBLISH_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = envDurStrict("NOTIFY_TIMEOUT", cfg.NotifyTimeout); err != nil {
		return Config{}, err
	}
	cfg.RabbitMQURL = envStr("RABBITMQ_URL", envStr("AMQP_URL", cfg.RabbitMQURL))
	cfg.NotifyQueue = envStr("NOTIFY_QUEUE", cfg.NotifyQueue)
	cfg.NATSURL = envStr("NATS_URL", cfg.NATSURL)

	cfg.SMTPHost = envStr("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = envStr("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUser = envStr("SMTP_USER", cfg.SMTPUser)
	cfg.SMTPPass = envStr("SMTP_PASS", cfg.SMTPPass)
	cfg.SMTPFrom = envStr("SMTP_FROM", cfg.SMTPFrom)

	if cfg.ArchiveInterval, err = envDurStrict("ARCHIVE_INTERVAL", cfg.ArchiveInterval); err != nil {
		return Config{}, err
	}
	cfg.ArchiveS3Bucket = envStr("ARCHIVE_S3_BUCKET", cfg.ArchiveS3Bucket)
	cfg.ArchiveS3Key = envStr("ARCHIVE_S3_KEY", cfg.ArchiveS3Key)
	cfg.ArchiveS3Region = envStr("ARCHIVE_S3_REGION", cfg.ArchiveS3Region)
	cfg.ArchiveS3Endpoint = envStr("ARCHIVE_S3_ENDPOINT", cfg.ArchiveS3Endpoint)

	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations Load cannot express per variable.
func (c Config) Validate() error {
	if c.SlotCount < 1 {
		return fmt.Errorf("SLOT_COUNT must be >= 1, got %d", c.SlotCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.ChannelTimeout <= 0 {
		return fmt.Errorf("CHANNEL_TIMEOUT must be positive, got %s", c.ChannelTimeout)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("PUBLISH_RETRY_ATTEMPTS must be >= 1, got %d", c.RetryAttempts)
	}
	switch c.LedgerDriver {
	case LedgerSQLite:
	case LedgerMySQL:
		if c.DBUser == "" {
			return errors.New("DB_USER is required for the mysql ledger")
		}
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	switch c.ChannelDriver {
	case ChannelRedis, ChannelMemory:
	default:
		return fmt.Errorf("unknown CHANNEL_DRIVER %q", c.ChannelDriver)
	}
	if c.ArchiveInterval > 0 && c.ArchiveS3Bucket == "" {
		return errors.New("ARCHIVE_S3_BUCKET is required when ARCHIVE_INTERVAL is set")
	}
	return nil
}

// envIntStrict is like envInt but reports malformed values instead of
// silently falling back.
func envIntStrict(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q", k, v)
	}
	return n, nil
}

func envDurStrict(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", k, v)
	}
	return dur, nil
}
