package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configEnvVars lists every variable Load reads so tests start from a clean slate.
var configEnvVars = []string{
	"PARKING_CONFIG", "APP_ENV", "APP_PORT", "LEDGER_DRIVER", "DB_USER", "DB_PASS",
	"DB_HOST", "DB_PORT", "DB_NAME", "SQLITE_PATH", "SLOT_COUNT", "POLL_INTERVAL",
	"CHANNEL_DRIVER", "CHANNEL_KEY_PREFIX", "CHANNEL_TIMEOUT", "PUBLISH_RETRY_ATTEMPTS",
	"PUBLISH_RETRY_DELAY", "PUBLISH_RETRY_MAX_DELAY", "NOTIFY_TIMEOUT", "RABBITMQ_URL",
	"AMQP_URL", "NOTIFY_QUEUE", "NATS_URL", "SMTP_HOST", "SMTP_PORT", "SMTP_USER",
	"SMTP_PASS", "SMTP_FROM", "ARCHIVE_INTERVAL", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_KEY",
	"ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT", "LOG_LEVEL", "LOG_FORMAT",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
	// godotenv reads .env from the working directory; run from an empty one.
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SlotCount)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, LedgerSQLite, cfg.LedgerDriver)
	assert.Equal(t, ChannelRedis, cfg.ChannelDriver)
	assert.Equal(t, "parking.", cfg.ChannelPrefix)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, "parking.notifications", cfg.NotifyQueue)
	assert.Zero(t, cfg.ArchiveInterval)
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "Overrides",
			env: map[string]string{
				"SLOT_COUNT":     "4",
				"POLL_INTERVAL":  "250ms",
				"CHANNEL_DRIVER": "MEMORY",
				"AMQP_URL":       "amqp://broker/",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 4, cfg.SlotCount)
				assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
				assert.Equal(t, ChannelMemory, cfg.ChannelDriver)
				assert.Equal(t, "amqp://broker/", cfg.RabbitMQURL)
			},
		},
		{name: "ZeroSlots", env: map[string]string{"SLOT_COUNT": "0"}, wantErr: true},
		{name: "BadSlotCount", env: map[string]string{"SLOT_COUNT": "two"}, wantErr: true},
		{name: "BadInterval", env: map[string]string{"POLL_INTERVAL": "soon"}, wantErr: true},
		{name: "UnknownLedger", env: map[string]string{"LEDGER_DRIVER": "postgres"}, wantErr: true},
		{name: "MySQLWithoutUser", env: map[string]string{"LEDGER_DRIVER": "mysql"}, wantErr: true},
		{name: "UnknownChannel", env: map[string]string{"CHANNEL_DRIVER": "adafruit"}, wantErr: true},
		{name: "ArchiveWithoutBucket", env: map[string]string{"ARCHIVE_INTERVAL": "1h"}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadTOMLOverlay(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "parking.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
slot_count = 6
channel_prefix = "lot7."
poll_interval = "2s"
`), 0o644))
	t.Setenv("PARKING_CONFIG", path)
	t.Setenv("SLOT_COUNT", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SlotCount, "environment wins over the file")
	assert.Equal(t, "lot7.", cfg.ChannelPrefix)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoadRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}
