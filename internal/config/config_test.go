package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("MAIL_SYSTEM_MAILBOXES", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, []string{"sales@example.com", "support@example.com"}, cfg.Mail.Mailboxes)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Queue.EscalationInterval)
	assert.Equal(t, 5*time.Minute, cfg.Queue.SLAInterval)
	assert.Equal(t, 3, cfg.Mail.MaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAIL_SYSTEM_MAILBOXES", " sales@shop.com , support@shop.com,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUTOMATION_SLA_INTERVAL", "90s")
	t.Setenv("POSTGRES_MAX_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"sales@shop.com", "support@shop.com"}, cfg.Mail.Mailboxes)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Queue.SLAInterval)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()
	assert.Error(t, err)
}

func TestMailRequestTimeoutFallback(t *testing.T) {
	assert.Equal(t, 15*time.Second, MailConfig{}.RequestTimeout())
	assert.Equal(t, 3*time.Second, MailConfig{RequestTimeoutSec: 3}.RequestTimeout())
}
