package indicator

import (
	"strings"

	"github.com/pkg/errors"
)

// Smoother kinds accepted by NewSmoother and IndicatorConfig.
const (
	SmootherSMA  = "SMA"
	SmootherEMA  = "EMA"
	SmootherSMMA = "SMMA"
)

// NewSmoother builds a volatility smoother by kind. An empty kind means SMA.
func NewSmoother(kind string, period int) (Smoother, error) {
	switch normalizeSmoother(kind) {
	case SmootherSMA:
		return NewSMA(period)
	case SmootherEMA:
		return NewEMA(period)
	case SmootherSMMA:
		return NewSMMA(period)
	default:
		return nil, errors.Wrapf(ErrInvalidParameter, "unknown smoother %q", kind)
	}
}

func normalizeSmoother(kind string) string {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		return SmootherSMA
	}
	return kind
}

// snapshotSmoother is implemented by smoothers whose state can be checkpointed.
type snapshotSmoother interface {
	Smoother
	Snapshot() SmootherSnapshot
	RestoreFromSnapshot(snap SmootherSnapshot) error
}

func (snap SmootherSnapshot) check(kind string, period int) error {
	if snap.Kind != kind {
		return errors.Errorf("snapshot smoother %q does not match %s", snap.Kind, kind)
	}
	if snap.Period != period {
		return errors.Errorf("snapshot period %d does not match %s period %d", snap.Period, kind, period)
	}
	if snap.Count < 0 {
		return errors.Errorf("snapshot count %d is negative", snap.Count)
	}
	return nil
}
