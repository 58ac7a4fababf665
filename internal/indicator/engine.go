package indicator

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"trendengine/internal/model"
)

// IndicatorConfig specifies a single Supertrend to compute.
type IndicatorConfig struct {
	Period     int     `json:"period"`
	Multiplier float64 `json:"multiplier"`
	Smoother   string  `json:"smoother,omitempty"` // "SMA" (default), "EMA", "SMMA"
}

// Name identifies the config in results, stream keys and snapshots,
// e.g. "ST_10_3" or "ST_7_2.5_EMA".
func (c IndicatorConfig) Name() string {
	name := "ST_" + model.Itoa(c.Period) + "_" + strconv.FormatFloat(c.Multiplier, 'f', -1, 64)
	if kind := normalizeSmoother(c.Smoother); kind != SmootherSMA {
		name += "_" + kind
	}
	return name
}

// Build creates a fresh Supertrend for the config.
func (c IndicatorConfig) Build() (*Supertrend, error) {
	vol, err := NewSmoother(c.Smoother, c.Period)
	if err != nil {
		return nil, errors.Wrap(err, c.Name())
	}
	st, err := NewSupertrendWith(NewTrueRange(), vol, c.Multiplier)
	if err != nil {
		return nil, errors.Wrap(err, c.Name())
	}
	return st, nil
}

// TFIndicatorConfig groups indicator configs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         int // timeframe in seconds
	Indicators []IndicatorConfig
}

// tokenIndicators holds live indicator instances for one token within a TF.
type tokenIndicators struct {
	indicators []*Supertrend
	configs    []IndicatorConfig
}

// Engine computes multiple Supertrends across multiple TFs for multiple tokens.
// Designed for single-goroutine usage: no locks needed.
type Engine struct {
	configs []TFIndicatorConfig
	tfIndex map[int]int // TF → index into configs/state

	// state[tfIdx][tokenKey] → *tokenIndicators
	state []map[string]*tokenIndicators

	// OnReject is called for candles whose prices cannot form a valid bar.
	OnReject func(tfc model.TFCandle)
}

// NewEngine creates an indicator engine with the given per-TF indicator configs.
func NewEngine(configs []TFIndicatorConfig) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	e := &Engine{}
	e.setConfigs(configs, make([]map[string]*tokenIndicators, len(configs)))
	for i := range e.state {
		e.state[i] = make(map[string]*tokenIndicators, 64)
	}
	return e, nil
}

func (e *Engine) setConfigs(configs []TFIndicatorConfig, state []map[string]*tokenIndicators) {
	e.configs = configs
	e.state = state
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
	}
}

// Configs returns the active per-TF configs.
func (e *Engine) Configs() []TFIndicatorConfig { return e.configs }

// Tokens returns the number of token series tracked for tf.
func (e *Engine) Tokens(tf int) int {
	idx, ok := e.tfIndex[tf]
	if !ok {
		return 0
	}
	return len(e.state[idx])
}

// Process takes a finalized TF candle and advances every Supertrend for that TF + token.
// Returns one result per configured indicator, nil if the TF is not configured
// or the candle was rejected.
func (e *Engine) Process(tfc model.TFCandle) []model.TrendResult {
	tfIdx, ok := e.tfIndex[tfc.TF]
	if !ok {
		return nil // TF not configured for indicators
	}

	bar := tfc.Bar()
	if !bar.Valid() {
		if e.OnReject != nil {
			e.OnReject(tfc)
		}
		return nil
	}

	key := tfc.Key()
	ti, exists := e.state[tfIdx][key]
	if !exists {
		// First candle for this token + TF: create indicator instances
		ti = e.createTokenIndicators(tfIdx)
		e.state[tfIdx][key] = ti
	}

	results := make([]model.TrendResult, 0, len(ti.indicators))
	for i, st := range ti.indicators {
		before := st.Trend()
		out := st.Next(bar)
		r := newResult(tfc, ti.configs[i], st, out)
		r.Flipped = before != TrendNone && before != out.Trend
		r.Step = st.Step()
		results = append(results, r)
	}

	return results
}

// ProcessPeek computes live Supertrend values for a forming TF candle using Peek().
// Does NOT mutate indicator state: safe for streaming updates every second.
// Returns nil if token hasn't been seen before (need at least one Process first).
func (e *Engine) ProcessPeek(tfc model.TFCandle) []model.TrendResult {
	tfIdx, ok := e.tfIndex[tfc.TF]
	if !ok {
		return nil
	}
	bar := tfc.Bar()
	if !bar.Valid() {
		return nil
	}

	ti, exists := e.state[tfIdx][tfc.Key()]
	if !exists {
		// Token hasn't been seeded by a completed candle yet: skip peek.
		return nil
	}

	results := make([]model.TrendResult, 0, len(ti.indicators))
	for i, st := range ti.indicators {
		out := st.Peek(bar)
		r := newResult(tfc, ti.configs[i], st, out)
		r.Flipped = st.Trend() != TrendNone && st.Trend() != out.Trend
		r.Step = st.Step() + 1
		r.Live = true
		results = append(results, r)
	}
	return results
}

func newResult(tfc model.TFCandle, cfg IndicatorConfig, st *Supertrend, out Output) model.TrendResult {
	return model.TrendResult{
		Name:     cfg.Name(),
		Token:    tfc.Token,
		Exchange: tfc.Exchange,
		TF:       tfc.TF,
		TS:       tfc.TS,
		Up:       out.Up,
		Down:     out.Down,
		Trend:    int(out.Trend),
		Stop:     out.Stop(),
		Close:    model.PaiseToRupees(tfc.Close),
		Ready:    st.Ready(),
	}
}

// Run consumes TF candles and emits results. Blocks until ctx done.
func (e *Engine) Run(ctx context.Context, tfCandleCh <-chan model.TFCandle, resultCh chan<- model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-tfCandleCh:
			if !ok {
				return
			}
			if tfc.Forming {
				continue // skip forming candles
			}
			for _, r := range e.Process(tfc) {
				select {
				case resultCh <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// createTokenIndicators creates fresh indicator instances for a TF config.
// Configs were validated by NewEngine / ReloadConfigs, so Build cannot fail here.
func (e *Engine) createTokenIndicators(tfIdx int) *tokenIndicators {
	cfg := e.configs[tfIdx]
	inds := make([]*Supertrend, len(cfg.Indicators))
	for i, ic := range cfg.Indicators {
		st, err := ic.Build()
		if err != nil {
			panic(err)
		}
		inds[i] = st
	}
	return &tokenIndicators{
		indicators: inds,
		configs:    cfg.Indicators,
	}
}
