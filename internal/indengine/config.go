package indengine

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"trendengine/config"
	"trendengine/internal/indicator"
)

// Config is the resolved configuration of the trend engine service.
type Config struct {
	Redis  redisSettings
	SQLite string

	EnabledTFs       []int
	TokenKeys        []string // "exchange:token"
	Specs            []indicator.IndicatorConfig
	IndicatorConfigs []indicator.TFIndicatorConfig

	SnapshotKey      string
	SnapshotTTL      time.Duration
	SnapshotInterval time.Duration
	WarmupBars       int
	PELInterval      time.Duration
	PELMinIdle       time.Duration

	HTTPAddr string
}

type redisSettings struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
	StreamMaxLen  int64
}

// FromAppConfig resolves and validates the service configuration.
func FromAppConfig(cfg *config.Config) (Config, error) {
	specs, err := indicator.ParseSpecs(cfg.Engine.Specs)
	if err != nil {
		return Config{}, errors.Wrap(err, "SUPERTREND_SPECS")
	}
	tfs := cfg.ParseTFs()
	indConfigs := indicator.ForTimeframes(tfs, specs)
	if err := indicator.ValidateConfigs(indConfigs); err != nil {
		return Config{}, errors.Wrap(err, "ENABLED_TFS")
	}

	interval := cfg.Engine.SnapshotInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pelInterval := cfg.Redis.PELInterval
	if pelInterval <= 0 {
		pelInterval = 30 * time.Second
	}

	log.Printf("[trendengine] supertrend set %s on TFs %v", indicator.FormatSpecs(specs), tfs)

	return Config{
		Redis: redisSettings{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ConsumerGroup: cfg.Redis.ConsumerGroup,
			ConsumerName:  cfg.Redis.ConsumerName,
			StreamMaxLen:  cfg.Redis.StreamMaxLen,
		},
		SQLite:           cfg.SQLite.Path,
		EnabledTFs:       tfs,
		TokenKeys:        cfg.TokenKeys(),
		Specs:            specs,
		IndicatorConfigs: indConfigs,
		SnapshotKey:      cfg.Redis.SnapshotKey,
		SnapshotTTL:      cfg.Redis.SnapshotTTL,
		SnapshotInterval: interval,
		WarmupBars:       cfg.Engine.WarmupBars,
		PELInterval:      pelInterval,
		PELMinIdle:       cfg.Redis.PELMinIdle,
		HTTPAddr:         cfg.HTTP.Addr,
	}, nil
}
