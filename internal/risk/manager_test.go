package risk

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/pkg/bigmath"
	"github.com/l2arb/engine/pkg/logger"
)

func capital(eth int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(eth), big.NewInt(1e18))
}

func TestAssessTradeRisk_RejectsOversizedTrade(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	d := m.AssessTradeRisk(42161, "WETH", capital(20), big.NewInt(1e15), big.NewInt(1e16))
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons, "trade size exceeds capital cap")
}

func TestAssessTradeRisk_ApprovesSmallTradeWithLowRisk(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	d := m.AssessTradeRisk(42161, "WETH", capital(1), big.NewInt(1e15), big.NewInt(1e17))
	assert.True(t, d.Approved)
	assert.Equal(t, LevelLow, d.RiskLevel)
	assert.NotNil(t, d.MaxPositionSizeWei)
}

func TestUpdateAndCheck_TripsAfterFiveConsecutiveFailures(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	for i := 0; i < 5; i++ {
		m.UpdateAndCheck(TradeOutcome{Timestamp: time.Now(), ChainID: 42161, Token: "WETH", GasCostWei: big.NewInt(1e15), Success: false}, capital(1))
	}
	assert.Equal(t, StateTripped, m.State())

	d := m.AssessTradeRisk(42161, "WETH", capital(1), big.NewInt(1e15), big.NewInt(1e16))
	assert.False(t, d.Approved)
	assert.Equal(t, LevelCritical, d.RiskLevel)
	assert.Equal(t, "Trading paused", d.Message)
	assert.Contains(t, d.Reasons, "Too many consecutive failures: 5")
}

func TestAssessTradeRisk_RejectsGasRatioAboveCap(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	d := m.AssessTradeRisk(42161, "WETH", capital(1), big.NewInt(7e15), big.NewInt(2e16))
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons, "Gas ratio too high: 35% > 25%")
}

func TestUpdateAndCheck_DrawdownUsesPeakMinusCurrentOverPeak(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	// One large loss brings capital from 100 to 90: drawdown should be 10%.
	m.UpdateAndCheck(TradeOutcome{Timestamp: time.Now(), ChainID: 42161, Token: "WETH", GasCostWei: capital(10), Success: false}, capital(1))
	metrics := m.computeMetrics()
	assert.InDelta(t, 0.10, metrics.Drawdown, 0.01)
}

func TestManager_CannotOverrideWhenTrippedOnDrawdown(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	m.UpdateAndCheck(TradeOutcome{Timestamp: time.Now(), ChainID: 42161, Token: "WETH", GasCostWei: capital(10), Success: false}, capital(1))
	require.Equal(t, StateTripped, m.State())
	ok := m.Override()
	assert.False(t, ok)
}

func TestManager_ResumesAfterCooldownWhenHealthy(t *testing.T) {
	m := New(logger.New("test"), capital(100))
	for i := 0; i < 5; i++ {
		m.UpdateAndCheck(TradeOutcome{Timestamp: time.Now(), ChainID: 42161, Token: "WETH", GasCostWei: big.NewInt(1e15), Success: false}, capital(1))
	}
	require.Equal(t, StateTripped, m.State())

	m.mu.Lock()
	m.trippedAt = time.Now().Add(-2 * m.cooldown)
	m.history = append(m.history, TradeOutcome{Timestamp: time.Now(), ChainID: 42161, Token: "WETH", ProfitWei: bigmath.FromInt64(1e15), GasCostWei: big.NewInt(1e14), Success: true})
	m.mu.Unlock()

	assert.Equal(t, StateArmed, m.State())
}
