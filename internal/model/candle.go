package model

import "math"

// PriceBar is a bar in rupees, the unit the trend indicators compute in.
// It satisfies indicator.Bar.
type PriceBar struct {
	H float64 `json:"high"`
	L float64 `json:"low"`
	C float64 `json:"close"`
}

// NewPriceBar builds a bar from high, low and close.
func NewPriceBar(high, low, close float64) PriceBar {
	return PriceBar{H: high, L: low, C: close}
}

func (b PriceBar) High() float64  { return b.H }
func (b PriceBar) Low() float64   { return b.L }
func (b PriceBar) Close() float64 { return b.C }

// Valid reports whether all prices are finite and high >= low.
// Bars failing this are dropped before they reach an indicator.
func (b PriceBar) Valid() bool {
	for _, v := range [...]float64{b.H, b.L, b.C} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.H >= b.L
}
