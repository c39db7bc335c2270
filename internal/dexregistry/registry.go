// Package dexregistry implements the DEX Registry (C2): a compile-time
// catalog of routers per chain. Grounded in style on the teacher's
// internal/defi/aggregators client set (one struct per integration kind) but
// holds static data rather than live clients — per Design Note in SPEC_FULL,
// RouterKind is a tagged variant rather than a shared interface because the
// kinds genuinely differ in call signature.
package dexregistry

import (
	"sort"

	"github.com/l2arb/engine/pkg/config"
)

// RouterKind tags which family of AMM a Router belongs to.
type RouterKind string

const (
	KindV2AMM        RouterKind = "v2_amm"
	KindV3AMM        RouterKind = "v3_amm"
	KindStableCurve  RouterKind = "stable_curve"
	KindWeightedPool RouterKind = "weighted_pool"
	KindPerpSpot     RouterKind = "perp_spot"
)

// Router is a static record describing one DEX router deployment.
type Router struct {
	Name          string
	Address       string
	ChainID       config.ChainID
	Kind          RouterKind
	GasEstimate   uint64
	FeeSchedule   string
	LiquidityScore float64 // 0..10
}

// RouterPair is an unordered pair of routers considered for direct
// dual-router arbitrage.
type RouterPair struct {
	A, B Router
}

// Registry is the static, immutable router catalog. It never mutates after
// construction.
type Registry struct {
	byChain map[config.ChainID][]Router
}

// New builds the compile-time registry for the chains this engine supports.
func New() *Registry {
	return &Registry{
		byChain: map[config.ChainID][]Router{
			config.ChainArbitrum: {
				{Name: "uniswap_v3", Address: "0x1F98431c8aD98523631AE4a59f267346ea31F984", ChainID: config.ChainArbitrum, Kind: KindV3AMM, GasEstimate: 150000, FeeSchedule: "0.05/0.3/1.0", LiquidityScore: 9.5},
				{Name: "sushiswap_v2", Address: "0xc35DADB65012eC5796536bD9864eD8773aBc74C4", ChainID: config.ChainArbitrum, Kind: KindV2AMM, GasEstimate: 120000, FeeSchedule: "0.3", LiquidityScore: 7.0},
				{Name: "curve", Address: "0x7544Fe3a4E655A68B9A4d7b9bcF14E4C0b2EF2d3", ChainID: config.ChainArbitrum, Kind: KindStableCurve, GasEstimate: 180000, FeeSchedule: "0.04", LiquidityScore: 8.0},
				{Name: "balancer", Address: "0xBA12222222228d8Ba445958a75a0704d566BF2C8", ChainID: config.ChainArbitrum, Kind: KindWeightedPool, GasEstimate: 200000, FeeSchedule: "variable", LiquidityScore: 6.5},
			},
			config.ChainOptimism: {
				{Name: "uniswap_v3", Address: "0x1F98431c8aD98523631AE4a59f267346ea31F984", ChainID: config.ChainOptimism, Kind: KindV3AMM, GasEstimate: 150000, FeeSchedule: "0.05/0.3/1.0", LiquidityScore: 9.0},
				{Name: "velodrome", Address: "0x9c12939390052919aF3155f41Bf4160Fd3666A6e", ChainID: config.ChainOptimism, Kind: KindV2AMM, GasEstimate: 130000, FeeSchedule: "0.2", LiquidityScore: 8.5},
				{Name: "curve", Address: "0x2db0E83599a91b508Ac268a6197b8B14F5e72840", ChainID: config.ChainOptimism, Kind: KindStableCurve, GasEstimate: 180000, FeeSchedule: "0.04", LiquidityScore: 7.5},
				{Name: "balancer", Address: "0xBA12222222228d8Ba445958a75a0704d566BF2C8", ChainID: config.ChainOptimism, Kind: KindWeightedPool, GasEstimate: 200000, FeeSchedule: "variable", LiquidityScore: 6.0},
			},
		},
	}
}

// All returns every router on chain, sorted by liquidity score descending.
func (r *Registry) All(chain config.ChainID) []Router {
	routers := append([]Router(nil), r.byChain[chain]...)
	sort.Slice(routers, func(i, j int) bool {
		return routers[i].LiquidityScore > routers[j].LiquidityScore
	})
	return routers
}

// ByKind returns routers on chain matching one of kinds with liquidity score
// at least minScore.
func (r *Registry) ByKind(chain config.ChainID, kinds []RouterKind, minScore float64) []Router {
	wanted := make(map[RouterKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	var out []Router
	for _, router := range r.All(chain) {
		if wanted[router.Kind] && router.LiquidityScore >= minScore {
			out = append(out, router)
		}
	}
	return out
}

// ArbitragePairs returns all unordered router pairs on chain, prioritizing
// pairs with different fee schedules or both with high liquidity (score >=
// 7), per §4.2.
func (r *Registry) ArbitragePairs(chain config.ChainID) []RouterPair {
	routers := r.All(chain)
	var pairs []RouterPair
	for i := 0; i < len(routers); i++ {
		for j := i + 1; j < len(routers); j++ {
			pairs = append(pairs, RouterPair{A: routers[i], B: routers[j]})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairPriority(pairs[i]) > pairPriority(pairs[j])
	})
	return pairs
}

func pairPriority(p RouterPair) float64 {
	score := 0.0
	if p.A.FeeSchedule != p.B.FeeSchedule {
		score += 1
	}
	if p.A.LiquidityScore >= 7 && p.B.LiquidityScore >= 7 {
		score += 1
	}
	return score
}

// CoverageStats summarizes the registry for a chain.
type CoverageStats struct {
	TotalRouters   int
	ByKind         map[RouterKind]int
	AverageLiquidity float64
}

// CoverageStats returns aggregate statistics for chain's router set.
func (r *Registry) CoverageStats(chain config.ChainID) CoverageStats {
	routers := r.byChain[chain]
	stats := CoverageStats{TotalRouters: len(routers), ByKind: make(map[RouterKind]int)}
	var sum float64
	for _, router := range routers {
		stats.ByKind[router.Kind]++
		sum += router.LiquidityScore
	}
	if len(routers) > 0 {
		stats.AverageLiquidity = sum / float64(len(routers))
	}
	return stats
}
