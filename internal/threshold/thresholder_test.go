package threshold

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommend_BearMarketIsConservative(t *testing.T) {
	th := New()
	capital := big.NewInt(1e18)
	rec := th.Recommend(capital, RegimeBear, false, big.NewInt(0), nil)
	assert.Equal(t, conservativeThreshold, rec.Recommendation)
}

func TestRecommend_BullLowVolatilityIsAggressive(t *testing.T) {
	th := New()
	capital := big.NewInt(1e18)
	rec := th.Recommend(capital, RegimeBull, false, big.NewInt(0), nil)
	assert.Equal(t, aggressiveThreshold, rec.Recommendation)
}

func TestRecommend_RaisesFloorToCoverGasAtRequiredRatio(t *testing.T) {
	th := New()
	capital := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	gasCost := big.NewInt(1e18) // enormous relative to the 0.01-native default floor
	rec := th.Recommend(capital, RegimeSideways, false, big.NewInt(0), gasCost)

	want := new(big.Int).Mul(gasCost, big.NewInt(3))
	want.Div(want, big.NewInt(2)) // 1.5x
	assert.Equal(t, 0, rec.MinProfitWei.Cmp(want))
}

func TestRecommend_FlagsExpectedProfitBelowAdaptiveFloor(t *testing.T) {
	th := New()
	capital := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	expectedProfit := new(big.Int).Mul(big.NewInt(9), big.NewInt(1e15)) // 0.009 native
	rec := th.Recommend(capital, RegimeSideways, false, expectedProfit, nil)

	found := false
	for _, r := range rec.Reasoning {
		if strings.Contains(r, "below adaptive floor") {
			found = true
		}
	}
	assert.True(t, found, "expected reasoning to flag the shortfall, got %v", rec.Reasoning)
}

func TestPasses_RejectsBelowFloorOrThinGasRatio(t *testing.T) {
	th := New()
	capital := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	rec := th.Recommend(capital, RegimeSideways, false, big.NewInt(0), nil)

	assert.False(t, rec.Passes(big.NewInt(1), nil))

	gasCost := big.NewInt(1e15)
	assert.False(t, rec.Passes(gasCost, gasCost)) // profit == gas, ratio 1.0 < 1.5
}
