package currency

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToDecimals rounds half away from zero to the given number of fractional
// digits. Every intermediate sum, difference, and rate conversion in pricing
// and settlement passes through here; repeated float accumulation without it
// drifts by pennies across multi-currency transactions.
//
// Non-finite values pass through unchanged; infinite buyer capacity flows
// through settlement arithmetic.
func RoundToDecimals(v float64, decimals int) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	if decimals < 0 {
		decimals = 0
	}
	out, _ := decimal.NewFromFloat(v).Round(int32(decimals)).Float64()
	return out
}
