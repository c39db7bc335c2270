// Package pathfinder implements the Pathfinder (C4), the hardest component:
// directed weighted token graph construction, direct dual-router arbitrage,
// a modified Bellman-Ford negative-cycle search for triangular arbitrage,
// and bounded line-graph multi-hop enumeration, per spec §4.4.
//
// This package has no direct teacher analog; its style is grounded on the
// teacher's internal/defi/aggregators/routing_engine.go (small pure
// functions over slices, table-driven scoring, sort-based selection) and on
// internal/blockchain/mempool/analyzer.go's "build a derived graph, bound
// the search, never panic" posture.
package pathfinder

import (
	"context"
	"math"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/token"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
)

const (
	maxCandidatesPerPair = 20
	defaultMaxTokens     = 200
)

// QuoteFunc returns the output-per-input rate for a reference amount quoted
// through router, or ok=false if the quote failed (no pool, timeout, revert).
// Failed quotes are omitted from the graph, never inserted as zero, per
// §4.4's failure model.
type QuoteFunc func(ctx context.Context, router dexregistry.Router, tokenIn, tokenOut string) (rate float64, fee float64, ok bool)

// Pathfinder searches one chain's token graph for arbitrage opportunities.
type Pathfinder struct {
	logger      *logger.Logger
	registry    *dexregistry.Registry
	universe    *token.Universe
	maxHops     int
	maxTokens   int
}

// New builds a Pathfinder bound to registry and universe.
func New(log *logger.Logger, registry *dexregistry.Registry, universe *token.Universe) *Pathfinder {
	return &Pathfinder{
		logger:    log.Named("pathfinder"),
		registry:  registry,
		universe:  universe,
		maxHops:   4,
		maxTokens: defaultMaxTokens,
	}
}

// WithMaxHops overrides the line-graph hop cap.
func (p *Pathfinder) WithMaxHops(n int) *Pathfinder {
	p.maxHops = n
	return p
}

// buildGraph constructs the directed weighted token graph for chain. Quote
// failures are swallowed and logged, never inserted as zero-weight edges.
func (p *Pathfinder) buildGraph(ctx context.Context, chain config.ChainID, quote QuoteFunc) *Graph {
	tokens := p.universe.ExpandedUniverse(chain)
	if len(tokens) > p.maxTokens {
		tokens = tokens[:p.maxTokens]
	}
	addrs := make([]string, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Address
	}
	graph := newGraph(addrs)
	routers := p.registry.All(chain)

	for _, a := range addrs {
		for _, b := range addrs {
			if a == b {
				continue
			}
			for _, router := range routers {
				rate, fee, ok := quote(ctx, router, a, b)
				if !ok || rate <= 0 {
					continue
				}
				effective := rate * (1 - fee)
				if effective <= 0 {
					continue
				}
				graph.addEdge(Edge{
					From: a, To: b, Router: router, Rate: rate, Fee: fee,
					Gas: router.GasEstimate, Liquidity: router.LiquidityScore,
					Weight: -math.Log(effective),
				})
			}
		}
	}
	return graph
}

// FindOpportunities runs every search strategy for chain from inputToken and
// returns the scored, deduplicated candidate Paths. It never panics: a
// failure in any stage yields an empty list for that stage and logging,
// never propagation, per §4.4's failure model.
func (p *Pathfinder) FindOpportunities(ctx context.Context, chain config.ChainID, quote QuoteFunc, inputToken string) []Path {
	graph := p.buildGraph(ctx, chain, quote)
	if len(graph.Tokens) == 0 {
		p.logger.Warn("empty token graph, skipping scan", zap.Int64("chain_id", int64(chain)))
		return nil
	}

	var candidates []Path
	candidates = append(candidates, p.directDualRouterCycles(chain, graph, inputToken)...)
	candidates = append(candidates, p.triangularCycles(graph, inputToken)...)
	candidates = append(candidates, p.lineGraphMultiHop(graph, inputToken, inputToken)...)

	candidates = dedupe(candidates)
	scored := make([]Path, 0, len(candidates))
	for _, c := range candidates {
		path := score(c)
		if path.ProfitMargin > 0 {
			scored = append(scored, path)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si := scored[i].ProfitMargin - float64(scored[i].Complexity)*0.001
		sj := scored[j].ProfitMargin - float64(scored[j].Complexity)*0.001
		if si != sj {
			return si > sj
		}
		if scored[i].Complexity != scored[j].Complexity {
			return scored[i].Complexity < scored[j].Complexity
		}
		return scored[i].MinLiquidity > scored[j].MinLiquidity
	})
	return scored
}

// directDualRouterCycles evaluates, for every unordered router pair and
// every intermediate token B, both (A→R1→B→R2→A) and (A→R2→B→R1→A), per
// §4.4's "direct dual-router arbitrage".
func (p *Pathfinder) directDualRouterCycles(chain config.ChainID, graph *Graph, a string) []Path {
	var out []Path
	pairs := p.registry.ArbitragePairs(chain)
	for _, b := range graph.Tokens {
		if b == a {
			continue
		}
		for _, pair := range pairs {
			if cyc, ok := buildDualCycle(graph, a, b, pair.A, pair.B); ok {
				out = append(out, cyc)
			}
			if cyc, ok := buildDualCycle(graph, a, b, pair.B, pair.A); ok {
				out = append(out, cyc)
			}
		}
	}
	return out
}

func buildDualCycle(graph *Graph, a, b string, r1, r2 dexregistry.Router) (Path, bool) {
	e1, ok := findEdge(graph, a, b, r1)
	if !ok {
		return Path{}, false
	}
	e2, ok := findEdge(graph, b, a, r2)
	if !ok {
		return Path{}, false
	}
	aggregateRate := e1.Rate * e2.Rate
	aggregateFees := e1.Fee + e2.Fee
	if aggregateRate <= 1+aggregateFees {
		return Path{}, false
	}
	return Path{
		Tokens:  []string{a, b, a},
		Routers: []dexregistry.Router{e1.Router, e2.Router},
		Edges:   []Edge{e1, e2},
	}, true
}

func findEdge(graph *Graph, from, to string, router dexregistry.Router) (Edge, bool) {
	for _, e := range graph.edgesFrom(from) {
		if e.To == to && e.Router.Name == router.Name {
			return e, true
		}
	}
	return Edge{}, false
}

// triangularCycles runs a modified Bellman-Ford from several source tokens
// and reconstructs any negative cycle found, per §4.4's triangular search.
func (p *Pathfinder) triangularCycles(graph *Graph, preferredSource string) []Path {
	sources := sourceTokens(graph, preferredSource)
	var out []Path
	for _, source := range sources {
		out = append(out, bellmanFordCycles(graph, source)...)
	}
	return dedupe(out)
}

func sourceTokens(graph *Graph, preferred string) []string {
	sources := []string{preferred}
	for _, t := range graph.Tokens {
		if t == preferred {
			continue
		}
		sources = append(sources, t)
		if len(sources) >= 5 {
			break
		}
	}
	return sources
}

func bellmanFordCycles(graph *Graph, source string) []Path {
	dist := make(map[string]float64, len(graph.Tokens))
	pred := make(map[string]Edge, len(graph.Tokens))
	for _, t := range graph.Tokens {
		dist[t] = math.Inf(1)
	}
	dist[source] = 0

	n := len(graph.Tokens)
	for i := 0; i < n-1; i++ {
		relaxed := false
		for _, edges := range graph.adj {
			for _, e := range edges {
				if dist[e.From]+e.Weight < dist[e.To] {
					dist[e.To] = dist[e.From] + e.Weight
					pred[e.To] = e
					relaxed = true
				}
			}
		}
		if !relaxed {
			break
		}
	}

	var cycles []Path
	for _, edges := range graph.adj {
		for _, e := range edges {
			if dist[e.From]+e.Weight < dist[e.To]-1e-12 {
				if cyc, ok := reconstructCycle(pred, e, n); ok {
					cycles = append(cycles, cyc)
				}
			}
		}
	}
	return cycles
}

// reconstructCycle walks predecessor pointers n times from a still-relaxable
// edge to guarantee landing inside the negative cycle, then walks again from
// that node until it repeats, reconstructing the closed loop (length >= 3).
func reconstructCycle(pred map[string]Edge, start Edge, n int) (Path, bool) {
	// Apply the still-relaxable edge first, so start.To always has a
	// predecessor even when no earlier pass relaxed into it.
	pred[start.To] = start
	cur := start.To
	for i := 0; i < n; i++ {
		e, ok := pred[cur]
		if !ok {
			return Path{}, false
		}
		cur = e.From
	}

	cycleStart := cur
	var edges []Edge
	node := cycleStart
	closed := false
	for i := 0; i <= n; i++ {
		e, ok := pred[node]
		if !ok {
			return Path{}, false
		}
		edges = append(edges, e)
		node = e.From
		if node == cycleStart {
			closed = true
			break
		}
	}
	if !closed || len(edges) < 3 {
		return Path{}, false
	}
	return cycleFromEdges(reverseEdges(edges)), true
}

func reverseEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[len(edges)-1-i] = e
	}
	return out
}

func cycleFromEdges(edges []Edge) Path {
	tokens := []string{edges[0].From}
	var routers []dexregistry.Router
	for _, e := range edges {
		tokens = append(tokens, e.To)
		routers = append(routers, e.Router)
	}
	return Path{Tokens: tokens, Routers: routers, Edges: edges}
}

// lineGraphMultiHop builds the line graph of edges and breadth-first
// enumerates paths of length <= maxHops from source to target, capped at
// maxCandidatesPerPair candidates, per §4.4.
func (p *Pathfinder) lineGraphMultiHop(graph *Graph, source, target string) []Path {
	type frontier struct {
		edges []Edge
	}
	var queue []frontier
	for _, e := range graph.edgesFrom(source) {
		queue = append(queue, frontier{edges: []Edge{e}})
	}

	var found []Path
	for len(queue) > 0 && len(found) < maxCandidatesPerPair {
		cur := queue[0]
		queue = queue[1:]
		last := cur.edges[len(cur.edges)-1]

		if last.To == target && len(cur.edges) >= 3 {
			found = append(found, cycleFromEdges(cur.edges))
			continue
		}
		if len(cur.edges) >= p.maxHops {
			continue
		}
		for _, next := range graph.edgesFrom(last.To) {
			if containsToken(cur.edges, next.To) && next.To != target {
				continue // avoid revisiting tokens other than closing the cycle
			}
			extended := append(append([]Edge{}, cur.edges...), next)
			queue = append(queue, frontier{edges: extended})
		}
	}
	return found
}

func containsToken(edges []Edge, token string) bool {
	if edges[0].From == token {
		return true
	}
	for _, e := range edges {
		if e.To == token {
			return true
		}
	}
	return false
}

// score computes the aggregate rate/fees/gas, profit margin, complexity,
// confidence, and time window for a candidate Path, per §4.4's scoring
// formulas.
func score(c Path) Path {
	rate := 1.0
	var fees float64
	var gas uint64
	minLiquidity := math.Inf(1)
	var liquiditySum float64
	for _, e := range c.Edges {
		rate *= e.Rate
		fees += e.Fee
		gas += e.Gas
		if e.Liquidity < minLiquidity {
			minLiquidity = e.Liquidity
		}
		liquiditySum += e.Liquidity
	}
	if math.IsInf(minLiquidity, 1) {
		minLiquidity = 0
	}
	avgLiquidity := 0.0
	if len(c.Edges) > 0 {
		avgLiquidity = liquiditySum / float64(len(c.Edges))
	}

	complexity := len(c.Edges)
	margin := rate - 1 - fees

	confidence := 0.8 - 0.05*float64(complexity) + 0.02*(avgLiquidity-5) - 2*fees
	confidence = clamp(confidence, 0.1, 0.95)

	window := 15 - 2*float64(complexity) + 2*(avgLiquidity-5)
	window = clamp(window, 5, 30)

	c.AggregateRate = rate
	c.AggregateFees = fees
	c.AggregateGas = gas
	c.ProfitMargin = margin
	c.Complexity = complexity
	c.Confidence = confidence
	c.TimeWindowSec = window
	c.MinLiquidity = minLiquidity
	c.AvgLiquidity = avgLiquidity
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dedupe removes candidates that share the same multiset of (token, router)
// tuples, per §4.4's "duplicates are deduplicated" rule.
func dedupe(paths []Path) []Path {
	seen := make(map[string]bool, len(paths))
	out := make([]Path, 0, len(paths))
	for _, p := range paths {
		key := fingerprint(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func fingerprint(p Path) string {
	return p.Fingerprint()
}

// RefAmountBaseUnits returns a nominal 1-unit reference amount scaled by
// decimals, used when quoting edges for the graph.
func RefAmountBaseUnits(decimals uint8) *big.Int {
	out := big.NewInt(1)
	for i := uint8(0); i < decimals; i++ {
		out.Mul(out, big.NewInt(10))
	}
	return out
}
