package pricefeed

import (
	"math/big"
)

// fixedPointRange is the modulus of the signed fixed-point encoding used by
// the redemption views (1e27).
var fixedPointRange = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

var halfRange = new(big.Int).Rsh(fixedPointRange, 1)

// DecodeSigned interprets raw as a value offset by 1e27: readings above half
// the range are negative. The subtraction is exact; only the result is
// rounded to float64.
func DecodeSigned(raw *big.Int) float64 {
	v := raw
	if raw.Cmp(halfRange) > 0 {
		v = new(big.Int).Sub(raw, fixedPointRange)
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
