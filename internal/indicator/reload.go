package indicator

import (
	"log"

	"github.com/pkg/errors"
)

// ReloadConfigs updates the indicator engine with new configurations.
// It preserves state for Supertrends that already exist (matched by config
// Name) and only creates new instances for genuinely new configs. This
// prevents losing accumulated warm-up history when adding an indicator.
// Returns the number of preserved token states and new (cold) TFs or configs.
// Invalid configs are rejected and the engine is left unchanged.
func (e *Engine) ReloadConfigs(newConfigs []TFIndicatorConfig) (preserved, created int, err error) {
	if err := ValidateConfigs(newConfigs); err != nil {
		return 0, 0, errors.Wrap(err, "reload")
	}

	oldCfgByTF := make(map[int]TFIndicatorConfig, len(e.configs))
	oldStateByTF := make(map[int]map[string]*tokenIndicators, len(e.configs))
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*tokenIndicators, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			// Brand-new TF: cold-start
			newState[i] = make(map[string]*tokenIndicators, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", newCfg.TF)
			continue
		}

		// TF exists: check if indicators are identical (fast path)
		if indicatorSetsEqual(oldCfg.Indicators, newCfg.Indicators) {
			newState[i] = oldTFState
			preserved += len(oldTFState)
			log.Printf("[reload] TF=%d: unchanged, preserved %d token states", newCfg.TF, len(oldTFState))
			continue
		}

		// Indicator set changed: migrate per-token state
		migrated := make(map[string]*tokenIndicators, len(oldTFState))
		for tokenKey, oldTI := range oldTFState {
			migrated[tokenKey] = migrateTokenIndicators(oldTI, newCfg.Indicators)
			preserved++
		}
		newState[i] = migrated
		created++ // mark that new indicators need backfill
		log.Printf("[reload] TF=%d: migrated %d token states", newCfg.TF, len(migrated))
	}

	e.setConfigs(newConfigs, newState)

	log.Printf("[reload] config reloaded: %d TFs, %d preserved, %d new",
		len(newConfigs), preserved, created)

	return preserved, created, nil
}

// migrateTokenIndicators creates a new tokenIndicators for the new config,
// reusing existing Supertrends that match by Name.
func migrateTokenIndicators(oldTI *tokenIndicators, newConfigs []IndicatorConfig) *tokenIndicators {
	oldByName := make(map[string]*Supertrend, len(oldTI.indicators))
	for i, cfg := range oldTI.configs {
		oldByName[cfg.Name()] = oldTI.indicators[i]
	}

	inds := make([]*Supertrend, len(newConfigs))
	for i, cfg := range newConfigs {
		if existing, ok := oldByName[cfg.Name()]; ok {
			inds[i] = existing // preserve accumulated state
			continue
		}
		st, err := cfg.Build()
		if err != nil {
			panic(err) // validated by ReloadConfigs
		}
		inds[i] = st
	}

	return &tokenIndicators{
		indicators: inds,
		configs:    newConfigs,
	}
}

// indicatorSetsEqual checks if two indicator config slices have the exact same
// set of indicators (order-independent).
func indicatorSetsEqual(a, b []IndicatorConfig) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, ic := range a {
		setA[ic.Name()] = true
	}
	for _, ic := range b {
		if !setA[ic.Name()] {
			return false
		}
	}
	return true
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors.
func ValidateConfigs(configs []TFIndicatorConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return errors.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return errors.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		names := make(map[string]bool, len(cfg.Indicators))
		for _, ind := range cfg.Indicators {
			if _, err := ind.Build(); err != nil {
				return errors.Wrapf(err, "TF=%d", cfg.TF)
			}
			if names[ind.Name()] {
				return errors.Errorf("duplicate indicator %s on TF=%d", ind.Name(), cfg.TF)
			}
			names[ind.Name()] = true
		}
	}
	return nil
}
