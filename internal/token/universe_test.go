package token

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/l2arb/engine/pkg/config"
)

func TestReplace_SwapsSnapshotAtomically(t *testing.T) {
	u := New()
	before := u.All(config.ChainArbitrum)
	assert.NotEmpty(t, before)

	u.Replace(config.ChainArbitrum, []Token{{Symbol: "ONLY", ChainID: config.ChainArbitrum}})
	after := u.All(config.ChainArbitrum)
	assert.Len(t, after, 1)
	assert.Equal(t, "ONLY", after[0].Symbol)
}

func TestHighVolatilityPairs_IncludesOnlyVolatileSides(t *testing.T) {
	u := New()
	u.Replace(config.ChainArbitrum, []Token{
		{Symbol: "STABLE", Volatility: 0.1},
		{Symbol: "WILD", Volatility: 0.8},
	})
	pairs := u.HighVolatilityPairs(config.ChainArbitrum)
	assert.NotEmpty(t, pairs)
	for _, p := range pairs {
		assert.True(t, p[0].Volatility >= 0.5 || p[1].Volatility >= 0.5)
	}
}
