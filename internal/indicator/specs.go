package indicator

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DefaultSpecs is the Supertrend set used when none is configured.
const DefaultSpecs = "10:3"

// ParseSpecs parses a comma-separated list of "period:multiplier[:smoother]"
// entries, e.g. "10:3,7:2.5:EMA". Duplicates (by Name) are dropped, keeping
// the first. Every entry is validated.
func ParseSpecs(s string) ([]IndicatorConfig, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultSpecs
	}

	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, errors.Errorf("supertrend spec %q: want period:multiplier[:smoother]", part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "supertrend spec %q: period", part)
		}
		mult, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "supertrend spec %q: multiplier", part)
		}
		cfg := IndicatorConfig{Period: period, Multiplier: mult, Smoother: SmootherSMA}
		if len(fields) == 3 {
			cfg.Smoother = normalizeSmoother(fields[2])
		}
		if _, err := cfg.Build(); err != nil {
			return nil, errors.Wrapf(err, "supertrend spec %q", part)
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		return nil, errors.Wrap(ErrInvalidParameter, "no supertrend specs")
	}

	return lo.UniqBy(configs, IndicatorConfig.Name), nil
}

// FormatSpecs is the inverse of ParseSpecs.
func FormatSpecs(configs []IndicatorConfig) string {
	return strings.Join(lo.Map(configs, func(c IndicatorConfig, _ int) string {
		s := strconv.Itoa(c.Period) + ":" + strconv.FormatFloat(c.Multiplier, 'f', -1, 64)
		if kind := normalizeSmoother(c.Smoother); kind != SmootherSMA {
			s += ":" + kind
		}
		return s
	}), ",")
}

// ForTimeframes applies the same indicator set to every TF.
func ForTimeframes(tfs []int, indicators []IndicatorConfig) []TFIndicatorConfig {
	return lo.Map(tfs, func(tf int, _ int) TFIndicatorConfig {
		return TFIndicatorConfig{TF: tf, Indicators: indicators}
	})
}

// MaxPeriod returns the largest period across all configs.
func MaxPeriod(configs []TFIndicatorConfig) int {
	return lo.Max(lo.FlatMap(configs, func(cfg TFIndicatorConfig, _ int) []int {
		return lo.Map(cfg.Indicators, func(ind IndicatorConfig, _ int) int { return ind.Period })
	}))
}
