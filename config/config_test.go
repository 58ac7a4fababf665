package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "trendengine", cfg.Redis.ConsumerGroup)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SnapshotTTL)
	assert.Equal(t, "10:3", cfg.Engine.Specs)
	assert.Equal(t, 30*time.Second, cfg.Engine.SnapshotInterval)
	assert.Equal(t, []int{60, 120, 180, 300}, cfg.ParseTFs())
	assert.Nil(t, cfg.TokenKeys())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("ENABLED_TFS", "60, x, -5,900")
	t.Setenv("SUBSCRIBE_TOKENS", "1:26000,2:43210,9:1,bad")
	t.Setenv("SUPERTREND_SPECS", "7:2.5:EMA")
	t.Setenv("SNAPSHOT_INTERVAL", "5s")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []int{60, 900}, cfg.ParseTFs())
	assert.Equal(t, []string{"NSE:26000", "NFO:43210", "NSE:1"}, cfg.TokenKeys())
	assert.Equal(t, "7:2.5:EMA", cfg.Engine.Specs)
	assert.Equal(t, 5*time.Second, cfg.Engine.SnapshotInterval)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("ENABLED_TFS", "abc")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ENABLED_TFS", "60")
	t.Setenv("SNAPSHOT_INTERVAL", "soon")
	_, err = Load()
	assert.Error(t, err)
}
