package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Clearenv()
	t.Setenv("DB_DSN", "postgres://localhost/resilience")
	t.Setenv("KAFKA_BROKER", "localhost:9092")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "kri_measurements", cfg.Kafka.Topic)
	assert.Equal(t, "resilience-notifier", cfg.Kafka.GroupID)
	assert.Equal(t, "https://api.twilio.com", cfg.SMS.APIBaseURL)
	assert.Equal(t, 25, cfg.Telegram.RatePerSecond)
	assert.Equal(t, ":8080", cfg.API.Port)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, time.Second, cfg.Dispatcher.TickInterval)
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Dispatcher.SendTimeout)
	assert.Equal(t, 3, cfg.Dispatcher.DefaultMaxRetries)
	assert.Equal(t, "logs", cfg.Logging.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_TOPIC", "measurements-test")
	t.Setenv("DISPATCH_TICK_INTERVAL", "250ms")
	t.Setenv("DISPATCH_BATCH_SIZE", "10")
	t.Setenv("DISPATCH_SEND_TIMEOUT", "5s")
	t.Setenv("DISPATCH_MAX_RETRIES", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "measurements-test", cfg.Kafka.Topic)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.TickInterval)
	assert.Equal(t, 10, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.SendTimeout)
	assert.Equal(t, 5, cfg.Dispatcher.DefaultMaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Clearenv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
	assert.Contains(t, err.Error(), "KAFKA_BROKER")
}
