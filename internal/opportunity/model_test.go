package opportunity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/pathfinder"
	"github.com/l2arb/engine/pkg/config"
)

func TestDeriveComplexity_Thresholds(t *testing.T) {
	assert.Equal(t, ComplexitySimple, DeriveComplexity(0.0005, 0.1, 0.003))
	assert.Equal(t, ComplexityAdvanced, DeriveComplexity(0.006, 0.1, 0.003))
	assert.Equal(t, ComplexityAdvanced, DeriveComplexity(0.0005, 0.6, 0.003))
	assert.Equal(t, ComplexityComplex, DeriveComplexity(0.002, 0.3, 0.001))
}

func triangularPath() pathfinder.Path {
	r1 := dexregistry.Router{Name: "R1"}
	r2 := dexregistry.Router{Name: "R2"}
	edges := []pathfinder.Edge{
		{From: "W", To: "U", Router: r1},
		{From: "U", To: "D", Router: r2},
		{From: "D", To: "W", Router: r1},
	}
	return pathfinder.Path{
		Tokens:     []string{"W", "U", "D", "W"},
		Routers:    []dexregistry.Router{r1, r2, r1},
		Edges:      edges,
		Confidence: 0.7,
	}
}

func TestNew_ComputesNetProfitAndDerivesFromPath(t *testing.T) {
	path := triangularPath()
	o := New(config.ChainArbitrum, "W", big.NewInt(1e18), big.NewInt(1e18+8e14),
		big.NewInt(8e14), big.NewInt(3e14), path, 0.0005, 0.1, 0.003)

	assert.Equal(t, ComplexitySimple, o.Complexity)
	assert.True(t, o.IsTriangular)
	assert.False(t, o.IsCrossChain)
	assert.Equal(t, 0.7, o.Confidence)
	assert.Equal(t, "500000000000000", o.NetProfit.String())
	assert.NotEmpty(t, o.ID)
}

func TestNew_NetProfitCanBeNegative(t *testing.T) {
	path := triangularPath()
	o := New(config.ChainArbitrum, "W", big.NewInt(1e18), big.NewInt(1e18),
		big.NewInt(1e14), big.NewInt(5e14), path, 0.0005, 0.1, 0.003)

	assert.True(t, o.NetProfit.IsNegative())
}

func TestFingerprint_MatchesUnderlyingPath(t *testing.T) {
	path := triangularPath()
	o := New(config.ChainArbitrum, "W", big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(0), path, 0, 0, 0)
	assert.Equal(t, path.Fingerprint(), o.Fingerprint())
}

func TestToLegacy_Roundtrip(t *testing.T) {
	path := triangularPath()
	o := New(config.ChainOptimism, "W", big.NewInt(1), big.NewInt(1), big.NewInt(2e14), big.NewInt(1e14), path, 0.0005, 0.1, 0.003)
	legacy := o.ToLegacy()

	assert.Equal(t, o.ID, legacy.ID)
	assert.Equal(t, "W", legacy.TokenSymbol)
	assert.Equal(t, int64(config.ChainOptimism), legacy.ChainID)
	assert.Equal(t, o.NetProfit.String(), legacy.ProfitWei)
	assert.Equal(t, string(ComplexitySimple), legacy.Complexity)
	assert.True(t, legacy.Triangular)
}
