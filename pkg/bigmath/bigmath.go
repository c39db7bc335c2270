// Package bigmath provides arbitrary-precision helpers for on-chain amounts.
//
// Every balance, profit, and gas cost in this module is a wide integer in the
// base unit of its asset. Floating point is reserved for ratios, scores, and
// probabilities and must never flow through this package.
package bigmath

import (
	"fmt"
	"math"
	"math/big"
)

// SignedInt pairs a magnitude with a sign so profit-and-loss deltas that can
// go negative never have to borrow float64 semantics.
type SignedInt struct {
	Negative bool
	Mag      *big.Int
}

// Zero returns the additive identity.
func Zero() SignedInt {
	return SignedInt{Mag: big.NewInt(0)}
}

// FromInt64 builds a SignedInt from a plain int64.
func FromInt64(v int64) SignedInt {
	if v < 0 {
		return SignedInt{Negative: true, Mag: big.NewInt(-v)}
	}
	return SignedInt{Mag: big.NewInt(v)}
}

// FromUnsigned builds a nonnegative SignedInt from a wide unsigned amount.
func FromUnsigned(v *big.Int) SignedInt {
	return SignedInt{Mag: new(big.Int).Abs(v)}
}

// Add returns s + other.
func (s SignedInt) Add(other SignedInt) SignedInt {
	if s.Negative == other.Negative {
		return SignedInt{Negative: s.Negative, Mag: new(big.Int).Add(s.Mag, other.Mag)}
	}
	// Opposite signs: subtract the smaller magnitude from the larger.
	switch s.Mag.Cmp(other.Mag) {
	case 0:
		return Zero()
	case 1:
		return SignedInt{Negative: s.Negative, Mag: new(big.Int).Sub(s.Mag, other.Mag)}
	default:
		return SignedInt{Negative: other.Negative, Mag: new(big.Int).Sub(other.Mag, s.Mag)}
	}
}

// Sub returns s - other.
func (s SignedInt) Sub(other SignedInt) SignedInt {
	return s.Add(SignedInt{Negative: !other.Negative, Mag: new(big.Int).Set(other.Mag)})
}

// Cmp returns -1, 0, 1 as s is less than, equal to, or greater than other.
func (s SignedInt) Cmp(other SignedInt) int {
	diff := s.Sub(other)
	if diff.Mag.Sign() == 0 {
		return 0
	}
	if diff.Negative {
		return -1
	}
	return 1
}

// IsNegative reports whether s is strictly below zero.
func (s SignedInt) IsNegative() bool {
	return s.Negative && s.Mag.Sign() != 0
}

// Unsigned returns the magnitude as an unsigned wide integer, clamped to zero
// if the value is negative. Callers that need to preserve sign should use Mag
// and Negative directly.
func (s SignedInt) Unsigned() *big.Int {
	if s.IsNegative() {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.Mag)
}

func (s SignedInt) String() string {
	if s.Negative && s.Mag.Sign() != 0 {
		return fmt.Sprintf("-%s", s.Mag.String())
	}
	return s.Mag.String()
}

// Ratio divides two wide unsigned integers and returns a float64 ratio. This
// is the one sanctioned crossing from wide integers into floating point,
// used only for scores, margins, and confidence inputs that are inherently
// approximate.
func Ratio(numerator, denominator *big.Int) float64 {
	if denominator == nil || denominator.Sign() == 0 {
		return 0
	}
	num := new(big.Float).SetInt(numerator)
	den := new(big.Float).SetInt(denominator)
	ratio, _ := new(big.Float).Quo(num, den).Float64()
	return ratio
}

// BpsOf returns numerator/denominator expressed in basis points (1/10000),
// rounded to the nearest integer. Used for profit-margin and slippage math
// where the spec speaks in bps rather than raw ratios.
func BpsOf(numerator, denominator *big.Int) int64 {
	return int64(math.Round(Ratio(numerator, denominator) * 10_000))
}

// MulRatio scales a wide unsigned integer amount by a float64 ratio,
// returning a wide integer result. Used where a percentage (e.g. a capital
// exposure cap) must be applied to an on-chain amount.
func MulRatio(amount *big.Int, ratio float64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	f := new(big.Float).SetInt(amount)
	f.Mul(f, big.NewFloat(ratio))
	out, _ := f.Int(nil)
	return out
}

// Min returns the smaller of two wide unsigned integers.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two wide unsigned integers.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
