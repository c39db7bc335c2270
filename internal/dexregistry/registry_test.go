package dexregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/pkg/config"
)

func TestAll_SortedByLiquidityDescending(t *testing.T) {
	reg := New()
	routers := reg.All(config.ChainArbitrum)
	require.NotEmpty(t, routers)
	for i := 1; i < len(routers); i++ {
		assert.GreaterOrEqual(t, routers[i-1].LiquidityScore, routers[i].LiquidityScore)
	}
}

func TestByKind_FiltersKindAndScore(t *testing.T) {
	reg := New()
	routers := reg.ByKind(config.ChainArbitrum, []RouterKind{KindV3AMM}, 5)
	for _, r := range routers {
		assert.Equal(t, KindV3AMM, r.Kind)
		assert.GreaterOrEqual(t, r.LiquidityScore, 5.0)
	}
}

func TestArbitragePairs_NeverMutatesRegistry(t *testing.T) {
	reg := New()
	before := len(reg.All(config.ChainOptimism))
	pairs := reg.ArbitragePairs(config.ChainOptimism)
	assert.NotEmpty(t, pairs)
	after := len(reg.All(config.ChainOptimism))
	assert.Equal(t, before, after)
}

func TestCoverageStats(t *testing.T) {
	reg := New()
	stats := reg.CoverageStats(config.ChainArbitrum)
	assert.Equal(t, 4, stats.TotalRouters)
	assert.Greater(t, stats.AverageLiquidity, 0.0)
}
