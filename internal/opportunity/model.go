// Package opportunity implements the Opportunity Model (C6): an immutable,
// normalized arbitrage candidate record. Grounded on the shape of the
// teacher's internal/defi/models.go arbitrage records, re-expressed with wide
// integers for money per SPEC_FULL's arbitrary-precision mandate.
package opportunity

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/l2arb/engine/internal/pathfinder"
	"github.com/l2arb/engine/pkg/bigmath"
	"github.com/l2arb/engine/pkg/config"
)

// Complexity classifies how intricate an opportunity's execution risk is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityComplex  Complexity = "complex"
	ComplexityAdvanced Complexity = "advanced"
)

// Opportunity is the immutable, fully-priced arbitrage candidate.
type Opportunity struct {
	ID             string
	ChainID        config.ChainID
	InputToken     string
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	GrossProfit    *big.Int
	NetProfit      bigmath.SignedInt
	Path           pathfinder.Path
	Confidence     float64
	Complexity     Complexity
	Timestamp      time.Time
	IsTriangular   bool
	IsCrossChain   bool
}

// DeriveComplexity classifies an opportunity from price impact, volatility,
// and spread, per §4.6's thresholds.
func DeriveComplexity(priceImpact, volatility, spread float64) Complexity {
	if priceImpact < 0.001 && volatility < 0.2 && spread > 0.002 {
		return ComplexitySimple
	}
	if priceImpact >= 0.005 || volatility >= 0.5 {
		return ComplexityAdvanced
	}
	return ComplexityComplex
}

// complexityScore maps a Complexity to an integer score. The Pathfinder's
// scoring, confidence and time-window formulas do not call it; they use the
// path's edge count.
func complexityScore(c Complexity) int {
	switch c {
	case ComplexitySimple:
		return 1
	case ComplexityAdvanced:
		return 3
	default:
		return 2
	}
}

// New builds an Opportunity from a scored Path and gas cost, computing gross
// and net profit in wide integers. grossProfit and gasCost are both in the
// input token's base unit numeraire already converted by the caller.
func New(chainID config.ChainID, inputToken string, inputAmount, expectedOutput, grossProfit, gasCost *big.Int, path pathfinder.Path, priceImpact, volatility, spread float64) Opportunity {
	net := bigmath.FromUnsigned(grossProfit).Sub(bigmath.FromUnsigned(gasCost))
	complexity := DeriveComplexity(priceImpact, volatility, spread)

	return Opportunity{
		ID:             uuid.NewString(),
		ChainID:        chainID,
		InputToken:     inputToken,
		InputAmount:    inputAmount,
		ExpectedOutput: expectedOutput,
		GrossProfit:    grossProfit,
		NetProfit:      net,
		Path:           path,
		Confidence:     path.Confidence,
		Complexity:     complexity,
		Timestamp:      time.Now(),
		IsTriangular:   path.IsTriangular(),
		IsCrossChain:   false,
	}
}

// LegacyOpportunity is the flattened, backward-compatible representation
// exposed to downstream components written against the teacher's older
// scanner format (internal/defi/models.go's ArbitrageOpportunity shape).
type LegacyOpportunity struct {
	ID          string  `json:"id"`
	TokenSymbol string  `json:"token_symbol"`
	ChainID     int64   `json:"chain_id"`
	ProfitWei   string  `json:"profit_wei"`
	Confidence  float64 `json:"confidence"`
	Complexity  string  `json:"complexity"`
	Triangular  bool    `json:"triangular"`
}

// Fingerprint returns the stable key the Worker's opportunity cache uses to
// deduplicate across scans (§3 Ownership: "bounded map (fingerprint ->
// opportunity, TTL approx one scan interval) owned by the Worker").
func (o Opportunity) Fingerprint() string {
	return o.Path.Fingerprint()
}

// ToLegacy converts o to the legacy scanner format.
func (o Opportunity) ToLegacy() LegacyOpportunity {
	return LegacyOpportunity{
		ID:          o.ID,
		TokenSymbol: o.InputToken,
		ChainID:     int64(o.ChainID),
		ProfitWei:   o.NetProfit.String(),
		Confidence:  o.Confidence,
		Complexity:  string(o.Complexity),
		Triangular:  o.IsTriangular,
	}
}
