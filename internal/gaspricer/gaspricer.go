// Package gaspricer implements the Gas Pricer (C7): EIP-1559 fee
// computation, urgency/congestion multipliers, and per-L2 L1-data-cost
// models. Grounded on the teacher's internal/blockchain/gas/optimizer.go
// component shape (NetworkMetrics, congestion classification, Reasoning
// lists) but with real arithmetic replacing that file's mock constants, and
// with wide integers standing in for its decimal.Decimal fields per
// SPEC_FULL's arbitrary-precision mandate.
package gaspricer

import (
	"math/big"

	"github.com/l2arb/engine/internal/chain"
	"github.com/l2arb/engine/pkg/bigmath"
)

// Urgency is the qualitative priority input to gas pricing.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Congestion is a 0..3 classification of network load.
type Congestion int

const (
	CongestionLow     Congestion = 0
	CongestionMedium  Congestion = 1
	CongestionHigh    Congestion = 2
	CongestionExtreme Congestion = 3
)

// multiplierTable mirrors §4.7's urgency x congestion table. "urgent" uses
// the "high" row scaled by a further 1.25x, since the spec table only
// tabulates low/medium/high explicitly.
var multiplierTable = map[Urgency][4]float64{
	UrgencyLow:    {1.0, 1.1, 1.2, 1.3},
	UrgencyMedium: {1.2, 1.35, 1.5, 1.65},
	UrgencyHigh:   {1.5, 1.75, 2.0, 2.25},
}

func multiplier(urgency Urgency, congestion Congestion) float64 {
	row, ok := multiplierTable[urgency]
	if !ok {
		row = multiplierTable[UrgencyHigh]
		for i := range row {
			row[i] *= 1.25
		}
	}
	idx := int(congestion)
	if idx < 0 {
		idx = 0
	}
	if idx > 3 {
		idx = 3
	}
	return row[idx]
}

// GasSettings is the EIP-1559 fee plan for one transaction.
type GasSettings struct {
	BaseFee    *big.Int
	PriorityFee *big.Int
	MaxFee     *big.Int
	GasLimit   uint64
	Urgency    Urgency
	Congestion Congestion
}

// Rollup identifies which L1-data-cost model to apply.
type Rollup int

const (
	RollupArbitrumStyle Rollup = iota // compressed-calldata model
	RollupOptimismStyle                // overhead+scalar model
)

const (
	floorMainnetWei = 1_000_000_000   // 1 gwei
	floorRollupWei  = 100_000_000     // 0.1 gwei
	l1GasPerByte    = 16
	compressionRatio = 3.0
	opOverheadUnits  = 188
	opScalar         = 684_000 // parts per 1e6, matches Optimism's ~0.684 scalar
)

// Pricer computes gas settings and L1 data costs for the engine's two L2s.
type Pricer struct{}

// New builds a Pricer.
func New() *Pricer { return &Pricer{} }

// Congestion maps block utilization (gas used / gas limit) onto the 0..3
// classification used by the multiplier table. Only utilization is used; no
// pending-transaction estimate enters the classification.
func (p *Pricer) Congestion(fd *chain.FeeData) Congestion {
	if fd == nil || fd.BlockGasLimit == 0 {
		return CongestionMedium
	}
	utilization := float64(fd.BlockGasUsed) / float64(fd.BlockGasLimit)
	switch {
	case utilization >= 0.95:
		return CongestionExtreme
	case utilization >= 0.8:
		return CongestionHigh
	case utilization >= 0.5:
		return CongestionMedium
	default:
		return CongestionLow
	}
}

// Price computes the EIP-1559 settings for a transaction with gasLimit at
// the given urgency. If fd is nil (fee data unavailable), returns the
// conservative rollup floor per §4.7's fallback.
func (p *Pricer) Price(fd *chain.FeeData, urgency Urgency, gasLimit uint64) GasSettings {
	if fd == nil || fd.BaseFee == nil {
		floor := big.NewInt(floorRollupWei)
		return GasSettings{BaseFee: floor, PriorityFee: floor, MaxFee: new(big.Int).Mul(floor, big.NewInt(3)), GasLimit: gasLimit, Urgency: urgency, Congestion: CongestionMedium}
	}

	congestion := p.Congestion(fd)
	mult := multiplier(urgency, congestion)

	adjustedBase := bigmath.MulRatio(fd.BaseFee, mult)
	tip := fd.TipCap
	if tip == nil {
		tip = big.NewInt(floorRollupWei)
	}
	adjustedTip := bigmath.MulRatio(tip, mult)
	maxFee := new(big.Int).Add(adjustedBase, new(big.Int).Mul(adjustedTip, big.NewInt(2)))

	return GasSettings{
		BaseFee:     adjustedBase,
		PriorityFee: adjustedTip,
		MaxFee:      maxFee,
		GasLimit:    gasLimit,
		Urgency:     urgency,
		Congestion:  congestion,
	}
}

// L1DataCost computes the calldata-posting cost for a rollup transaction of
// txDataBytes, against l1BaseFeeWei, per the two models in §4.7.
func (p *Pricer) L1DataCost(rollup Rollup, txDataBytes int, l1BaseFeeWei *big.Int) *big.Int {
	if l1BaseFeeWei == nil {
		return big.NewInt(0)
	}
	switch rollup {
	case RollupArbitrumStyle:
		compressedBytes := float64(txDataBytes) / compressionRatio
		gas := compressedBytes * l1GasPerByte
		return bigmath.MulRatio(l1BaseFeeWei, gas)
	default: // RollupOptimismStyle
		units := float64(opOverheadUnits + 16*txDataBytes)
		scaled := units * (float64(opScalar) / 1_000_000.0)
		return bigmath.MulRatio(l1BaseFeeWei, scaled)
	}
}

// ShouldExecute implements §4.7's should-execute decision: net profit must
// be positive and the profit margin (net/gross in bps) must meet the
// congestion-dependent floor.
func (p *Pricer) ShouldExecute(netProfit bigmath.SignedInt, grossProfit *big.Int, congestion Congestion) (bool, string) {
	if netProfit.IsNegative() || netProfit.Mag.Sign() == 0 {
		return false, "net profit not positive"
	}
	marginBps := bigmath.BpsOf(netProfit.Mag, grossProfit)
	floor := marginFloorBps(congestion)
	if marginBps < floor {
		return false, "profit margin below congestion floor"
	}
	return true, ""
}

func marginFloorBps(congestion Congestion) int64 {
	switch congestion {
	case CongestionExtreme:
		return 3500
	case CongestionHigh:
		return 2500
	case CongestionMedium:
		return 2000
	default:
		return 1500
	}
}
