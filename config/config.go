package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config holds all application configuration loaded from environment variables.
// A .env file in the working directory is loaded first if present.
type Config struct {
	App      AppConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	Engine   EngineConfig
	HTTP     HTTPConfig
	Notify   NotifyConfig
	Telegram TelegramConfig
}

type AppConfig struct {
	Service  string `envconfig:"SERVICE_NAME" default:"trendengine"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type RedisConfig struct {
	Addr          string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password      string        `envconfig:"REDIS_PASSWORD"`
	DB            int           `envconfig:"REDIS_DB" default:"0"`
	ConsumerGroup string        `envconfig:"CONSUMER_GROUP" default:"trendengine"`
	ConsumerName  string        `envconfig:"CONSUMER_NAME" default:"worker-1"`
	SnapshotKey   string        `envconfig:"SNAPSHOT_KEY" default:"trend:snapshot:engine"`
	SnapshotTTL   time.Duration `envconfig:"SNAPSHOT_TTL" default:"24h"`
	PELInterval   time.Duration `envconfig:"PEL_RECLAIM_INTERVAL" default:"30s"`
	PELMinIdle    time.Duration `envconfig:"PEL_MIN_IDLE" default:"60s"`
	StreamMaxLen  int64         `envconfig:"TREND_STREAM_MAXLEN" default:"10000"`
}

type SQLiteConfig struct {
	Path string `envconfig:"SQLITE_PATH" default:"data/candles.db"`
}

type EngineConfig struct {
	// Dynamic Timeframes (comma-separated seconds, e.g. "60,300,900")
	EnabledTFs string `envconfig:"ENABLED_TFS" default:"60,120,180,300"`

	// Subscription, "exchangeType:token,..." (1=NSE, 2=NFO, 3=BSE)
	SubscribeTokens string `envconfig:"SUBSCRIBE_TOKENS"`

	// Supertrend set, "period:multiplier[:smoother],..."
	Specs string `envconfig:"SUPERTREND_SPECS" default:"10:3"`

	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"30s"`
	WarmupBars       int           `envconfig:"WARMUP_BARS" default:"0"`
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":9095"`
}

type NotifyConfig struct {
	WebhookURL string `envconfig:"WEBHOOK_URL"`
	LogFlips   bool   `envconfig:"LOG_FLIPS" default:"true"`
}

type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if len(cfg.ParseTFs()) == 0 {
		return nil, errors.Errorf("ENABLED_TFS %q has no valid timeframe", cfg.Engine.EnabledTFs)
	}
	return &cfg, nil
}

// ParseTFs parses the EnabledTFs string into a slice of timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.Engine.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// TokenKeys parses SubscribeTokens ("exchangeType:token,...") into
// "exchange:token" keys. Unknown exchange types map to NSE.
func (c *Config) TokenKeys() []string {
	if c.Engine.SubscribeTokens == "" {
		return nil
	}
	var keys []string
	for _, pair := range strings.Split(c.Engine.SubscribeTokens, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		keys = append(keys, ExchangeName(parts[0])+":"+parts[1])
	}
	return keys
}

// ExchangeName maps an exchange type code to its name.
func ExchangeName(exchangeType string) string {
	switch exchangeType {
	case "2", "NFO":
		return "NFO"
	case "3", "BSE":
		return "BSE"
	default:
		return "NSE"
	}
}
