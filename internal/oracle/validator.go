// Package oracle implements the Oracle Validator (C10): comparing a DEX
// quote's implied price against an out-of-band reference price to catch
// manipulated pools. Grounded on the teacher's internal/defi/price_providers.go
// PriceProvider shape and its decimal.Decimal price representation (human
// prices, unlike the wei amounts used elsewhere, are exactly what
// shopspring/decimal is for), and on sandwich_detector.go /
// frontrun_detector.go for the manipulation-score convention.
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Recommendation is the Oracle Validator's verdict for one trade.
type Recommendation string

const (
	RecommendationAccept  Recommendation = "accept"
	RecommendationCaution Recommendation = "caution"
	RecommendationReject  Recommendation = "reject"
)

// ReferencePriceFunc fetches an out-of-band reference price (quote per unit
// of base) for a token pair. A zero price or a non-nil error means "no data".
type ReferencePriceFunc func(ctx context.Context, tokenA, tokenB string) (decimal.Decimal, error)

// Result is the full validator output for one trade.
type Result struct {
	IsValid           bool
	Recommendation    Recommendation
	ManipulationScore float64
	Warnings          []string
}

const (
	defaultMaxDeviation     = 0.02 // 2%
	manipulationRejectScore = 0.7
)

// Validator compares DEX-implied prices against a reference source.
type Validator struct {
	fetch        ReferencePriceFunc
	maxDeviation float64
}

// New builds a Validator around fetch, using the default 2% deviation gate.
func New(fetch ReferencePriceFunc) *Validator {
	return &Validator{fetch: fetch, maxDeviation: defaultMaxDeviation}
}

// WithMaxDeviation overrides the default deviation threshold.
func (v *Validator) WithMaxDeviation(d float64) *Validator {
	v.maxDeviation = d
	return v
}

// Validate compares dexPrice (quote per unit of base, as implied by the
// pool's reserves or quoted amounts) against the reference price for the
// pair, and factors in a pre-computed manipulationScore (e.g. from a
// sandwich/frontrun detector) in [0,1]. With no reference data every trade,
// large or not, gets caution (reject at a high manipulation score).
// isLargeTrade downgrades an accept to caution when the deviation exceeds
// half the deviation threshold.
func (v *Validator) Validate(ctx context.Context, tokenA, tokenB string, dexPrice decimal.Decimal, manipulationScore float64, isLargeTrade bool) Result {
	warnings := make([]string, 0, 2)

	if manipulationScore < 0 {
		manipulationScore = 0
	}
	if manipulationScore > 1 {
		manipulationScore = 1
	}

	refPrice, err := v.fetch(ctx, tokenA, tokenB)
	if err != nil || refPrice.IsZero() {
		warnings = append(warnings, "reference price unavailable")
		rec := RecommendationCaution
		if manipulationScore >= manipulationRejectScore {
			rec = RecommendationReject
		}
		return Result{IsValid: rec != RecommendationReject, Recommendation: rec, ManipulationScore: manipulationScore, Warnings: warnings}
	}

	deviation := dexPrice.Sub(refPrice).Abs().Div(refPrice)
	deviationF, _ := deviation.Float64()

	if manipulationScore >= manipulationRejectScore {
		warnings = append(warnings, fmt.Sprintf("manipulation score %.2f at or above reject threshold", manipulationScore))
		return Result{IsValid: false, Recommendation: RecommendationReject, ManipulationScore: manipulationScore, Warnings: warnings}
	}

	if deviationF > v.maxDeviation {
		warnings = append(warnings, fmt.Sprintf("dex/reference deviation %.4f exceeds %.4f", deviationF, v.maxDeviation))
		return Result{IsValid: false, Recommendation: RecommendationReject, ManipulationScore: manipulationScore, Warnings: warnings}
	}

	if isLargeTrade && deviationF > v.maxDeviation/2 {
		warnings = append(warnings, "large trade with elevated deviation")
		return Result{IsValid: true, Recommendation: RecommendationCaution, ManipulationScore: manipulationScore, Warnings: warnings}
	}

	return Result{IsValid: true, Recommendation: RecommendationAccept, ManipulationScore: manipulationScore, Warnings: warnings}
}
