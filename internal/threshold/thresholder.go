// Package threshold implements the Profit Thresholder (C9): a capital-scaled,
// regime-adjusted minimum-profit gate. Grounded on the teacher's
// internal/defi price-provider reasoning-trail convention, re-expressed over
// wide integers for the money terms per SPEC_FULL's arbitrary-precision
// mandate.
package threshold

import (
	"fmt"
	"math/big"

	"github.com/l2arb/engine/pkg/bigmath"
)

// Regime is the market condition used to scale the profit floor.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
)

// Recommendation is the Profit Thresholder's output for one trade.
type Recommendation struct {
	MinProfitWei   *big.Int
	ThresholdBps   int64
	Recommendation string // conservative | balanced | aggressive
	Reasoning      []string
}

const (
	conservativeThreshold = "conservative"
	balancedThreshold     = "balanced"
	aggressiveThreshold   = "aggressive"

	capitalFloorNative = 0.01 // native-token units, 18 decimals
	gasCoverageRatio    = 1.5
)

func regimeFactor(regime Regime, highVolatility bool) float64 {
	factor := 1.0
	switch regime {
	case RegimeBull:
		factor = 0.85
	case RegimeBear:
		factor = 1.3
	default:
		factor = 1.0
	}
	if highVolatility {
		factor *= 1.2
	}
	return factor
}

// Thresholder computes minimum-profit gates.
type Thresholder struct{}

// New builds a Thresholder.
func New() *Thresholder { return &Thresholder{} }

// Recommend returns the minimum profit (in wei of the native token, 18
// decimals) and threshold bps for a trade, given capital (native wei), the
// current market regime, volatility classification, expected gross profit,
// and the estimated gas cost for the trade.
func (t *Thresholder) Recommend(capitalWei *big.Int, regime Regime, highVolatility bool, expectedProfit, gasCost *big.Int) Recommendation {
	reasoning := make([]string, 0, 4)

	floorEth := new(big.Float).SetFloat64(capitalFloorNative)
	floorWei, _ := floorEth.Mul(floorEth, big.NewFloat(1e18)).Int(nil)
	reasoning = append(reasoning, fmt.Sprintf("capital floor %.4f native", capitalFloorNative))

	factor := regimeFactor(regime, highVolatility)
	scaledFloor := bigmath.MulRatio(floorWei, factor)
	reasoning = append(reasoning, fmt.Sprintf("regime=%s highVolatility=%v scales floor by %.2fx", regime, highVolatility, factor))

	if gasCost != nil && gasCost.Sign() > 0 {
		minForGasCoverage := bigmath.MulRatio(gasCost, gasCoverageRatio)
		if minForGasCoverage.Cmp(scaledFloor) > 0 {
			scaledFloor = minForGasCoverage
			reasoning = append(reasoning, fmt.Sprintf("raised to cover %.1fx gas cost", gasCoverageRatio))
		}
	}

	thresholdBps := bigmath.BpsOf(scaledFloor, capitalWei)

	recommendation := balancedThreshold
	switch {
	case regime == RegimeBull && !highVolatility:
		recommendation = aggressiveThreshold
	case regime == RegimeBear || highVolatility:
		recommendation = conservativeThreshold
	}
	reasoning = append(reasoning, fmt.Sprintf("recommendation=%s", recommendation))

	if expectedProfit != nil && expectedProfit.Cmp(scaledFloor) < 0 {
		reasoning = append(reasoning, fmt.Sprintf("expected profit %s below adaptive floor %s", expectedProfit.String(), scaledFloor.String()))
	}

	if expectedProfit != nil && gasCost != nil && gasCost.Sign() > 0 {
		ratio := bigmath.Ratio(expectedProfit, gasCost)
		if ratio < gasCoverageRatio {
			reasoning = append(reasoning, fmt.Sprintf("expected profit/gas ratio %.2f below required %.1f", ratio, gasCoverageRatio))
		}
	}

	return Recommendation{
		MinProfitWei:   scaledFloor,
		ThresholdBps:   thresholdBps,
		Recommendation: recommendation,
		Reasoning:      reasoning,
	}
}

// Passes reports whether expectedProfit clears the recommended floor and
// maintains the required gas-coverage ratio.
func (r Recommendation) Passes(expectedProfit, gasCost *big.Int) bool {
	if expectedProfit == nil || expectedProfit.Cmp(r.MinProfitWei) < 0 {
		return false
	}
	if gasCost != nil && gasCost.Sign() > 0 {
		if bigmath.Ratio(expectedProfit, gasCost) < gasCoverageRatio {
			return false
		}
	}
	return true
}
