package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/opportunity"
	"github.com/l2arb/engine/internal/pathfinder"
)

// oppOnRoute builds a minimal Opportunity whose Path visits the given
// routers in order, enough to exercise Fingerprint()'s (token, router)
// multiset without a full Pathfinder scan.
func oppOnRoute(routerNames ...string) opportunity.Opportunity {
	edges := make([]pathfinder.Edge, len(routerNames))
	for i, name := range routerNames {
		edges[i] = pathfinder.Edge{From: "WETH", To: "USDC", Router: dexregistry.Router{Name: name}}
	}
	return opportunity.Opportunity{
		ID:   "ignored-for-fingerprint",
		Path: pathfinder.Path{Edges: edges},
	}
}

func TestOpportunityCache_DropsDuplicateFingerprintWithinTTL(t *testing.T) {
	c := newOpportunityCache(time.Minute)
	a := oppOnRoute("r1", "r2")

	first := c.filterFresh([]opportunity.Opportunity{a})
	second := c.filterFresh([]opportunity.Opportunity{a})

	assert.Len(t, first, 1)
	assert.Len(t, second, 0)
}

func TestOpportunityCache_ReadmitsAfterTTLExpires(t *testing.T) {
	c := newOpportunityCache(10 * time.Millisecond)
	a := oppOnRoute("r1", "r2")

	first := c.filterFresh([]opportunity.Opportunity{a})
	assert.Len(t, first, 1)

	time.Sleep(20 * time.Millisecond)
	second := c.filterFresh([]opportunity.Opportunity{a})
	assert.Len(t, second, 1)
}

func TestOpportunityCache_DistinctPathsBothAdmitted(t *testing.T) {
	c := newOpportunityCache(time.Minute)
	a := oppOnRoute("r1", "r2")
	b := oppOnRoute("r1", "r3")

	fresh := c.filterFresh([]opportunity.Opportunity{a, b})
	assert.Len(t, fresh, 2)
}
