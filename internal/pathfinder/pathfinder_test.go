package pathfinder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/internal/dexregistry"
)

func router(name string, kind dexregistry.RouterKind, liquidity float64) dexregistry.Router {
	return dexregistry.Router{Name: name, Kind: kind, LiquidityScore: liquidity, GasEstimate: 100000}
}

func mkEdge(from, to string, r dexregistry.Router, rate, fee float64) Edge {
	return Edge{From: from, To: to, Router: r, Rate: rate, Fee: fee, Gas: r.GasEstimate, Liquidity: r.LiquidityScore,
		Weight: -math.Log(rate * (1 - fee))}
}

// TestDirectDualRouterCycle_EmitsProfitableCrossRouterLoop mirrors scenario 1
// (happy dual-router): buying on the router with the better outbound rate and
// selling back on the router with the better inbound rate nets a positive
// margin once the graph has both legs available.
func TestDirectDualRouterCycle_EmitsProfitableCrossRouterLoop(t *testing.T) {
	r1 := router("r1", dexregistry.KindV2AMM, 7)
	r2 := router("r2", dexregistry.KindV3AMM, 8)

	graph := newGraph([]string{"W", "U"})
	graph.addEdge(mkEdge("W", "U", r2, 2001.0, 0.001))
	graph.addEdge(mkEdge("U", "W", r1, 1.0/1990.0, 0.001))
	graph.addEdge(mkEdge("W", "U", r1, 2000.0, 0.001))
	graph.addEdge(mkEdge("U", "W", r2, 1.0/1998.0, 0.001))

	pairs := []dexregistry.RouterPair{{A: r1, B: r2}}
	var found []Path
	for _, b := range graph.Tokens {
		if b == "W" {
			continue
		}
		for _, pair := range pairs {
			if cyc, ok := buildDualCycle(graph, "W", b, pair.A, pair.B); ok {
				found = append(found, cyc)
			}
			if cyc, ok := buildDualCycle(graph, "W", b, pair.B, pair.A); ok {
				found = append(found, cyc)
			}
		}
	}
	require.NotEmpty(t, found)

	scored := score(found[0])
	assert.Equal(t, []string{"W", "U", "W"}, scored.Tokens)
	assert.Greater(t, scored.ProfitMargin, 0.0)
	assert.False(t, scored.IsTriangular())
}

// TestTriangularCycle_DetectsNegativeCycle mirrors scenario 2: tokens
// {W,U,D} with (W→U: R1, 2000), (U→D: R2, 0.9995), (D→W: R1, 1/1997), whose
// product exceeds 1, forming a profitable negative-weight cycle.
func TestTriangularCycle_DetectsNegativeCycle(t *testing.T) {
	r1 := router("r1", dexregistry.KindV2AMM, 7)
	r2 := router("r2", dexregistry.KindV3AMM, 8)

	graph := newGraph([]string{"W", "U", "D"})
	graph.addEdge(mkEdge("W", "U", r1, 2000.0, 0))
	graph.addEdge(mkEdge("U", "D", r2, 0.9995, 0))
	graph.addEdge(mkEdge("D", "W", r1, 1.0/1997.0, 0))

	cycles := bellmanFordCycles(graph, "W")
	require.NotEmpty(t, cycles)

	scored := score(cycles[0])
	assert.True(t, scored.IsTriangular())
	assert.Equal(t, 3, scored.Complexity)
	assert.Less(t, scored.Confidence, 0.95)
	assert.Greater(t, scored.ProfitMargin, 0.0)
}

func TestLineGraphMultiHop_RespectsMaxHopsAndNeverPanics(t *testing.T) {
	r1 := router("r1", dexregistry.KindV2AMM, 7)
	graph := newGraph([]string{"A", "B", "C", "D"})
	graph.addEdge(mkEdge("A", "B", r1, 1.1, 0.001))
	graph.addEdge(mkEdge("B", "C", r1, 1.1, 0.001))
	graph.addEdge(mkEdge("C", "D", r1, 1.1, 0.001))
	graph.addEdge(mkEdge("D", "A", r1, 1.1, 0.001))

	pf := &Pathfinder{maxHops: 4}
	paths := pf.lineGraphMultiHop(graph, "A", "A")
	for _, p := range paths {
		assert.LessOrEqual(t, len(p.Edges), pf.maxHops)
		assert.True(t, p.IsCycle())
	}
}

func TestFindOpportunities_NoPanicOnEmptyGraph(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("FindOpportunities panicked: %v", r)
		}
	}()
	empty := newGraph(nil)
	pf := &Pathfinder{maxHops: 4, registry: dexregistry.New()}
	assert.Empty(t, pf.directDualRouterCycles(0, empty, "W"))
	assert.Empty(t, pf.triangularCycles(empty, "W"))
}

func TestDedupe_RemovesSameMultisetOfTokenRouter(t *testing.T) {
	r1 := router("r1", dexregistry.KindV2AMM, 7)
	e := mkEdge("A", "B", r1, 1.2, 0.001)
	p1 := Path{Tokens: []string{"A", "B"}, Edges: []Edge{e}}
	p2 := Path{Tokens: []string{"A", "B"}, Edges: []Edge{e}}
	out := dedupe([]Path{p1, p2})
	assert.Len(t, out, 1)
}
