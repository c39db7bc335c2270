package gaspricer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/l2arb/engine/internal/chain"
	"github.com/l2arb/engine/pkg/bigmath"
)

func TestPrice_FallsBackToFloorWhenFeeDataUnavailable(t *testing.T) {
	p := New()
	settings := p.Price(nil, UrgencyHigh, 250000)
	assert.Equal(t, big.NewInt(floorRollupWei), settings.BaseFee)
	assert.Equal(t, CongestionMedium, settings.Congestion)
}

func TestPrice_MaxFeeCoversBaseAndDoubleTip(t *testing.T) {
	p := New()
	fd := &chain.FeeData{BaseFee: big.NewInt(100_000_000), TipCap: big.NewInt(2_000_000), BlockGasUsed: 29_000_000, BlockGasLimit: 30_000_000}
	settings := p.Price(fd, UrgencyHigh, 250000)

	assert.Equal(t, CongestionExtreme, settings.Congestion)
	want := new(big.Int).Add(settings.BaseFee, new(big.Int).Mul(settings.PriorityFee, big.NewInt(2)))
	assert.Equal(t, want, settings.MaxFee)
	// high urgency at extreme congestion uses the 2.25x row
	assert.Equal(t, int64(225_000_000), settings.BaseFee.Int64())
}

func TestCongestion_ClassifiesByUtilization(t *testing.T) {
	p := New()
	assert.Equal(t, CongestionLow, p.Congestion(&chain.FeeData{BlockGasUsed: 1_000_000, BlockGasLimit: 30_000_000}))
	assert.Equal(t, CongestionMedium, p.Congestion(&chain.FeeData{BlockGasUsed: 18_000_000, BlockGasLimit: 30_000_000}))
	assert.Equal(t, CongestionHigh, p.Congestion(&chain.FeeData{BlockGasUsed: 26_000_000, BlockGasLimit: 30_000_000}))
	assert.Equal(t, CongestionExtreme, p.Congestion(&chain.FeeData{BlockGasUsed: 29_000_000, BlockGasLimit: 30_000_000}))
}

func TestL1DataCost_ArbitrumVsOptimismModelsDiffer(t *testing.T) {
	p := New()
	l1Base := big.NewInt(20_000_000_000) // 20 gwei
	arb := p.L1DataCost(RollupArbitrumStyle, 500, l1Base)
	op := p.L1DataCost(RollupOptimismStyle, 500, l1Base)
	assert.NotEqual(t, 0, arb.Sign())
	assert.NotEqual(t, 0, op.Sign())
	assert.NotEqual(t, arb.String(), op.String())
}

func TestL1DataCost_ZeroWhenBaseFeeMissing(t *testing.T) {
	p := New()
	assert.Equal(t, int64(0), p.L1DataCost(RollupArbitrumStyle, 500, nil).Int64())
}

func TestShouldExecute_RejectsNegativeOrBelowFloor(t *testing.T) {
	p := New()
	gross := big.NewInt(1_000_000)

	neg := bigmath.FromInt64(-1)
	ok, reason := p.ShouldExecute(neg, gross, CongestionLow)
	assert.False(t, ok)
	assert.Contains(t, reason, "positive")

	thin := bigmath.FromInt64(1000) // 0.1% of gross, below the 15% floor
	ok, reason = p.ShouldExecute(thin, gross, CongestionLow)
	assert.False(t, ok)
	assert.Contains(t, reason, "floor")

	healthy := bigmath.FromInt64(200_000) // 20% of gross, above the 15% floor
	ok, _ = p.ShouldExecute(healthy, gross, CongestionLow)
	assert.True(t, ok)
}

func TestShouldExecute_HigherCongestionNeedsFatterMargin(t *testing.T) {
	p := New()
	gross := big.NewInt(1_000_000)
	margin := bigmath.FromInt64(300_000) // 30%

	okLow, _ := p.ShouldExecute(margin, gross, CongestionLow)
	okExtreme, _ := p.ShouldExecute(margin, gross, CongestionExtreme)
	assert.True(t, okLow)
	assert.False(t, okExtreme)
}
