package pathfinder

import (
	"sort"

	"github.com/l2arb/engine/internal/dexregistry"
)

// Edge is a directed, priced connection between two tokens via one router.
// Edges are rebuilt every scan and discarded at the end (§3 Ownership); Paths
// copy whatever they need so they outlive the graph.
type Edge struct {
	From      string
	To        string
	Router    dexregistry.Router
	Rate      float64 // output units per input unit, for the reference amount
	Fee       float64 // fraction, e.g. 0.003 for 30 bps
	Gas       uint64
	Liquidity float64 // the router's liquidity score, 0..10
	Weight    float64 // -ln(rate * (1 - fee)), used by Bellman-Ford
}

// Graph is the directed weighted token graph for one chain, owned
// exclusively by the Pathfinder during a single scan.
type Graph struct {
	Tokens []string
	adj    map[string][]Edge
}

func newGraph(tokens []string) *Graph {
	return &Graph{Tokens: tokens, adj: make(map[string][]Edge)}
}

func (g *Graph) addEdge(e Edge) {
	g.adj[e.From] = append(g.adj[e.From], e)
}

func (g *Graph) edgesFrom(token string) []Edge {
	return g.adj[token]
}

// allEdges returns every edge in the graph.
func (g *Graph) allEdges() []Edge {
	var out []Edge
	for _, edges := range g.adj {
		out = append(out, edges...)
	}
	return out
}

// Path is the scored output of the Pathfinder: an ordered hop sequence that
// survives independently of the Graph that produced it.
type Path struct {
	Tokens       []string
	Routers      []dexregistry.Router
	Edges        []Edge
	AggregateRate float64
	AggregateFees float64
	AggregateGas  uint64
	ProfitMargin  float64
	Complexity    int
	Confidence    float64
	TimeWindowSec float64
	MinLiquidity  float64
	AvgLiquidity  float64
}

// IsTriangular reports whether the path is a 3-hop cycle back to its origin,
// as distinct from a 2-hop direct dual-router cycle.
func (p Path) IsTriangular() bool {
	return p.IsCycle() && len(p.Edges) == 3
}

// IsCycle reports whether the path returns to its starting token, regardless
// of length.
func (p Path) IsCycle() bool {
	return len(p.Tokens) >= 2 && p.Tokens[0] == p.Tokens[len(p.Tokens)-1]
}

// Fingerprint returns a stable key over the path's multiset of (token,
// router) tuples, used both for pathfinder-internal deduplication and, via
// Opportunity, for the Worker's cross-scan opportunity cache (§3 Ownership).
func (p Path) Fingerprint() string {
	parts := make([]string, 0, len(p.Edges))
	for _, e := range p.Edges {
		parts = append(parts, e.From+"@"+e.Router.Name)
	}
	sort.Strings(parts)
	key := ""
	for _, s := range parts {
		key += s + "|"
	}
	return key
}
