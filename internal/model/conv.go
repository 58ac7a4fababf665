package model

import "github.com/shopspring/decimal"

// Itoa is a minimal int-to-string converter for hot-path usage.
// Avoids importing strconv to eliminate unnecessary overhead.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PaiseToRupees converts an integer paise amount to rupees.
// decimal keeps 10005 -> 100.05 exact instead of 100.04999...
func PaiseToRupees(paise int64) float64 {
	return decimal.New(paise, -2).InexactFloat64()
}

// RupeesToPaise rounds a rupee price to the nearest paisa.
func RupeesToPaise(rupees float64) int64 {
	return decimal.NewFromFloat(rupees).Shift(2).Round(0).IntPart()
}
