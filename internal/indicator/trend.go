package indicator

// Trend is the direction reported by Supertrend.
// TrendNone only exists before the first bar.
type Trend int8

const (
	TrendNone Trend = 0
	TrendUp   Trend = 1
	TrendDown Trend = -1
)

// Int returns +1 for an uptrend and -1 for a downtrend (0 before the first bar).
func (t Trend) Int() int64 { return int64(t) }

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "none"
	}
}

// live reports whether t is one of the two trend states a bar can produce.
func (t Trend) live() bool {
	return t == TrendUp || t == TrendDown
}
