// Package wad provides fixed-point conversion between an asset's native
// decimal precision and the 18-decimal internal unit used by every ledger in
// the engine, plus the big-integer ratio helpers the ledgers share. All
// accounting math is integer math; floats never touch a balance.
package wad

import "math/big"

const (
	// Decimals is the precision of the internal unit.
	Decimals = 18
)

var (
	// One is 10^18, one whole internal unit.
	One = pow10(18)

	// Ray is 10^27, the extended precision used when a ratio must be
	// computed without introducing truncation bias toward the ledger.
	Ray = pow10(27)

	// BpsDenom is the basis-point denominator for fee and ratio math.
	BpsDenom = big.NewInt(10_000)
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// ToWad scales a native amount with the given decimal precision into the
// 18-decimal internal unit. Scaling up is exact; scaling down (decimals > 18)
// floors, dropping digits beyond the internal precision.
func ToWad(native *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == Decimals:
		return new(big.Int).Set(native)
	case decimals < Decimals:
		return new(big.Int).Mul(native, pow10(int64(Decimals-decimals)))
	default:
		return new(big.Int).Quo(native, pow10(int64(decimals-Decimals)))
	}
}

// FromWad scales an internal amount back to the asset's native precision.
// The inverse of ToWad; floors when native precision is below 18.
func FromWad(amount *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == Decimals:
		return new(big.Int).Set(amount)
	case decimals < Decimals:
		return new(big.Int).Quo(amount, pow10(int64(Decimals-decimals)))
	default:
		return new(big.Int).Mul(amount, pow10(int64(decimals-Decimals)))
	}
}

// MulDiv returns floor(a * b / denom).
func MulDiv(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// MulDivCeil returns ceil(a * b / denom).
func MulDivCeil(a, b, denom *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, denom, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
