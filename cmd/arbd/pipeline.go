package main

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/bundle"
	"github.com/l2arb/engine/internal/chain"
	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/errs"
	"github.com/l2arb/engine/internal/gaspricer"
	"github.com/l2arb/engine/internal/metrics"
	"github.com/l2arb/engine/internal/opportunity"
	"github.com/l2arb/engine/internal/oracle"
	"github.com/l2arb/engine/internal/pathfinder"
	"github.com/l2arb/engine/internal/quote"
	"github.com/l2arb/engine/internal/risk"
	"github.com/l2arb/engine/internal/scheduler"
	"github.com/l2arb/engine/internal/slippage"
	"github.com/l2arb/engine/internal/threshold"
	"github.com/l2arb/engine/internal/token"
	"github.com/l2arb/engine/pkg/bigmath"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
)

// chainRuntime bundles the per-chain collaborators a scan or execute needs.
// Each Gateway is exclusively owned by its chain's runtime, per §3 Ownership.
type chainRuntime struct {
	chainID config.ChainID
	gateway *chain.Gateway
	factory string // canonical v2-style factory address used for pair discovery
}

// quoteFuncFor adapts the Quote Engine to the Pathfinder's QuoteFunc shape,
// quoting a fixed reference amount so rates are comparable across routers.
func quoteFuncFor(qe *quote.Engine, rt *chainRuntime, refAmount *big.Int) pathfinder.QuoteFunc {
	return func(ctx context.Context, router dexregistry.Router, tokenIn, tokenOut string) (float64, float64, bool) {
		q, err := qe.Quote(ctx, rt.gateway, router, rt.factory, tokenIn, tokenOut, refAmount)
		if err != nil || q == nil || q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
			return 0, 0, false
		}
		rate := new(big.Float).Quo(new(big.Float).SetInt(q.AmountOut), new(big.Float).SetInt(refAmount))
		r, _ := rate.Float64()
		return r, feeFraction(router), true
	}
}

func feeFraction(router dexregistry.Router) float64 {
	switch router.Kind {
	case dexregistry.KindV3AMM:
		return 0.003
	case dexregistry.KindStableCurve:
		return 0.0004
	default:
		return 0.003
	}
}

// pipeline wires every domain component into the Scheduler's ScanFunc and
// ExecuteFunc closures, per the cyclic Scheduler<->Worker edge in §4.13.
type pipeline struct {
	log         *logger.Logger
	cfg         *config.Config
	metrics     *metrics.Metrics
	runtimes    map[config.ChainID]*chainRuntime
	pathfinder  *pathfinder.Pathfinder
	quoteEngine *quote.Engine
	gasPricer   *gaspricer.Pricer
	slippage    *slippage.Advisor
	threshold   *threshold.Thresholder
	oracle      *oracle.Validator
	risk        *risk.Manager
	bundle      *bundle.Builder
	universe    *token.Universe
	operator    string  // address the executor transactions are sent from
	capitalWei  *big.Int
}

const refTradeUnits = 1_000_000_000_000_000_000 // 1 token in 18-decimal base units

// scanFunc runs one Pathfinder scan per configured chain and returns the
// opportunities surviving the Profit Thresholder's gate.
func (p *pipeline) scanFunc(ctx context.Context, payload scheduler.ScanPayload) ([]opportunity.Opportunity, error) {
	var found []opportunity.Opportunity
	for _, chainID := range payload.Chains {
		rt, ok := p.runtimes[config.ChainID(chainID)]
		if !ok {
			continue
		}
		start := time.Now()
		opps := p.scanChain(ctx, rt)
		p.metrics.ObserveScan(chainID, time.Since(start))
		found = append(found, opps...)
	}
	if p.cfg.Features.CrossChainMonitoring {
		p.reportCrossChainSpreads(ctx)
	}
	return found, nil
}

func (p *pipeline) scanChain(ctx context.Context, rt *chainRuntime) []opportunity.Opportunity {
	tokens := p.universe.All(rt.chainID)
	if len(tokens) == 0 {
		return nil
	}
	refAmount := big.NewInt(refTradeUnits)
	quoteFn := quoteFuncFor(p.quoteEngine, rt, refAmount)

	fd, err := rt.gateway.FeeData(ctx)
	if err != nil {
		p.log.Warn("fee data unavailable, pricing at rollup floor", zap.Int64("chain_id", int64(rt.chainID)), zap.Error(err))
	}
	congestion := p.gasPricer.Congestion(fd)

	var out []opportunity.Opportunity
	for _, input := range tokens {
		paths := p.pathfinder.FindOpportunities(ctx, rt.chainID, quoteFn, input.Address)
		for _, path := range paths {
			if path.IsTriangular() && !p.cfg.Features.TriangularArbitrage {
				continue
			}
			o, gasCost := p.buildOpportunity(rt, input, path, refAmount, fd)

			rec := p.threshold.Recommend(p.capitalWei, threshold.RegimeSideways, input.Volatility >= 0.5, o.GrossProfit, gasCost)
			if o.GrossProfit.Cmp(rec.MinProfitWei) < 0 {
				p.metrics.ObserveBelowThreshold(int64(rt.chainID))
				continue
			}

			ok, _ := p.gasPricer.ShouldExecute(o.NetProfit, o.GrossProfit, congestion)
			if !ok {
				p.metrics.ObserveBelowThreshold(int64(rt.chainID))
				continue
			}
			p.metrics.ObserveOpportunity(int64(rt.chainID), string(o.Complexity))
			out = append(out, o)
		}
	}
	return out
}

// buildOpportunity prices one scored Path into a fully-formed Opportunity
// and returns the gas cost it priced the opportunity against, so callers
// never have to reverse-derive it (lossily, since NetProfit.Unsigned()
// clamps a negative net profit to zero) from the returned fields.
// priceImpact and spread are approximated from the path's aggregate fee and
// profit margin, since the engine has no standalone price-impact model
// (§4.6's thresholds only require relative magnitudes, not an exact curve).
func (p *pipeline) buildOpportunity(rt *chainRuntime, input token.Token, path pathfinder.Path, inputAmount *big.Int, fd *chain.FeeData) (opportunity.Opportunity, *big.Int) {
	expectedOutput := mulRate(inputAmount, path.AggregateRate)
	grossProfit := new(big.Int).Sub(expectedOutput, inputAmount)
	if grossProfit.Sign() < 0 {
		grossProfit = big.NewInt(0)
	}

	gasSettings := p.gasPricer.Price(fd, gaspricer.UrgencyHigh, path.AggregateGas)
	gasCost := new(big.Int).Mul(gasSettings.MaxFee, new(big.Int).SetUint64(path.AggregateGas))

	netProfit := signedSub(grossProfit, gasCost)
	complexity := opportunity.DeriveComplexity(path.AggregateFees, input.Volatility, path.ProfitMargin)

	return opportunity.Opportunity{
		ID:             uuid.NewString(),
		ChainID:        rt.chainID,
		InputToken:     input.Address,
		InputAmount:    inputAmount,
		ExpectedOutput: expectedOutput,
		GrossProfit:    grossProfit,
		NetProfit:      netProfit,
		Path:           path,
		Confidence:     path.Confidence,
		Complexity:     complexity,
		Timestamp:      time.Now(),
		IsTriangular:   path.IsTriangular(),
		IsCrossChain:   false,
	}, gasCost
}

// reportCrossChainSpreads logs, but never trades on, a spread between the
// same reference pair quoted on both configured chains, per the non-goal
// that cross-chain mode only reports price spreads.
func (p *pipeline) reportCrossChainSpreads(ctx context.Context) {
	arb, arbOK := p.runtimes[config.ChainArbitrum]
	opt, optOK := p.runtimes[config.ChainOptimism]
	if !arbOK || !optOK {
		return
	}
	refAmount := big.NewInt(refTradeUnits)
	arbTokens := p.universe.All(config.ChainArbitrum)
	optTokens := p.universe.All(config.ChainOptimism)
	if len(arbTokens) == 0 || len(optTokens) == 0 {
		return
	}
	weth := arbTokens[0].Address
	routersArb := quoteFuncFor(p.quoteEngine, arb, refAmount)
	routersOpt := quoteFuncFor(p.quoteEngine, opt, refAmount)
	if len(optTokens) < 2 {
		return
	}
	rateArb, _, okArb := routersArb(ctx, dexregistry.Router{Kind: dexregistry.KindV2AMM}, weth, arbTokens[1].Address)
	rateOpt, _, okOpt := routersOpt(ctx, dexregistry.Router{Kind: dexregistry.KindV2AMM}, optTokens[0].Address, optTokens[1].Address)
	if !okArb || !okOpt {
		return
	}
	spread := rateArb - rateOpt
	if spread < 0 {
		spread = -spread
	}
	p.log.Info("cross-chain price spread", zap.Float64("spread", spread))
}

// executeFunc runs the full per-trade decision chain (oracle validation,
// risk gate, slippage, bundle submission) for one opportunity.
func (p *pipeline) executeFunc(ctx context.Context, o opportunity.Opportunity) scheduler.ExecutionResult {
	start := time.Now()
	rt, ok := p.runtimes[o.ChainID]
	if !ok {
		return scheduler.ExecutionResult{OpportunityID: o.ID, Success: false, Err: errs.New(errs.ConfigInvalid, "no runtime for chain")}
	}

	oracleResult := p.oracle.Validate(ctx, o.InputToken, o.Path.Tokens[len(o.Path.Tokens)/2], decimal.NewFromFloat(o.Path.AggregateRate), 0, isLargeTrade(o.InputAmount))
	if oracleResult.Recommendation == oracle.RecommendationReject {
		return p.fail(o, errs.New(errs.PriceRejected, "oracle validation rejected trade"))
	}

	fd, _ := rt.gateway.FeeData(ctx)
	gasSettings := p.gasPricer.Price(fd, gaspricer.UrgencyHigh, o.Path.AggregateGas)
	gasCost := new(big.Int).Mul(gasSettings.MaxFee, new(big.Int).SetUint64(o.Path.AggregateGas))

	decision := p.risk.AssessTradeRisk(int64(o.ChainID), o.InputToken, o.InputAmount, gasCost, o.GrossProfit)
	if !decision.Approved {
		if decision.RiskLevel == risk.LevelCritical {
			return p.fail(o, errs.WithReasons(errs.CircuitBreakerTripped, decision.Message, decision.Reasons))
		}
		return p.fail(o, errs.WithReasons(errs.RiskRejected, decision.Message, decision.Reasons))
	}

	tradeSizeFloat, _ := new(big.Float).SetInt(o.InputAmount).Float64()
	slipRec := p.slippage.Advise(p.volatilityOf(o.ChainID, o.InputToken), o.Path.MinLiquidity, tradeSizeFloat, int(p.gasPricer.Congestion(fd)))
	p.log.Debug("slippage recommendation", zap.String("opportunity_id", o.ID), zap.Float64("bps", slipRec.Bps))

	nonce, err := rt.gateway.NextNonce(ctx, p.operator)
	if err != nil {
		return p.fail(o, err)
	}

	data, err := encodeExecuteCall(o)
	if err != nil {
		return p.fail(o, err)
	}

	tmpl := p.bundle.BuildTemplate(o.ChainID, p.cfg.Chains[o.ChainID].BotContractAddress, data, nonce, gasSettings, o.NetProfit.Unsigned())

	if p.cfg.Features.SimulationMode {
		p.log.Info("simulated execution", zap.String("opportunity_id", o.ID), zap.String("net_profit", o.NetProfit.String()))
		p.risk.UpdateAndCheck(risk.TradeOutcome{Timestamp: time.Now(), ChainID: int64(o.ChainID), Token: o.InputToken, ProfitWei: o.NetProfit, GasCostWei: gasCost, Success: true}, o.InputAmount)
		return scheduler.ExecutionResult{OpportunityID: o.ID, Success: true}
	}

	targetBlock, err := rt.gateway.BlockNumber(ctx)
	if err != nil {
		return p.fail(o, err)
	}

	result := p.bundle.Submit(ctx, o, []bundle.TxTemplate{tmpl}, targetBlock+1, noopCompetitor{}, decision.RiskLevel == risk.LevelHigh || decision.RiskLevel == risk.LevelCritical)
	success := result.Outcome == bundle.OutcomeIncluded && result.Err == nil

	p.risk.UpdateAndCheck(risk.TradeOutcome{
		Timestamp:  time.Now(),
		ChainID:    int64(o.ChainID),
		Token:      o.InputToken,
		ProfitWei:  o.NetProfit,
		GasCostWei: gasCost,
		Success:    success,
	}, o.InputAmount)

	p.metrics.ObserveTrade(int64(o.ChainID), success, signedIntToFloat(o.NetProfit), time.Since(start))
	p.metrics.ObserveBundleOutcome(int64(o.ChainID), string(result.Outcome))
	p.metrics.SetBreakerState(int64(o.ChainID), string(p.risk.State()))

	return scheduler.ExecutionResult{OpportunityID: o.ID, Success: success, Err: result.Err}
}

// volatilityOf looks up a token's cached volatility from the Token Universe,
// defaulting to a conservative mid-range estimate if the token has fallen
// out of the tracked set between scan and execute.
func (p *pipeline) volatilityOf(chainID config.ChainID, address string) float64 {
	for _, t := range p.universe.All(chainID) {
		if t.Address == address {
			return t.Volatility
		}
	}
	return 0.3
}

func (p *pipeline) fail(o opportunity.Opportunity, err error) scheduler.ExecutionResult {
	p.log.Warn("trade rejected", zap.String("opportunity_id", o.ID), zap.Error(err))
	return scheduler.ExecutionResult{OpportunityID: o.ID, Success: false, Err: err}
}

// noopCompetitor reports no observed competing bundles; a real mempool
// competitor feed is out of this engine's scope.
type noopCompetitor struct{}

func (noopCompetitor) SimilarBundleCount(config.ChainID) int { return 0 }

func encodeExecuteCall(o opportunity.Opportunity) ([]byte, error) {
	if o.IsTriangular {
		return encodeExecuteTriangularArb(o.InputToken, o.InputAmount, o.Path.Tokens, o.NetProfit.Unsigned())
	}
	return encodeExecuteArb(o.InputToken, o.InputAmount, o.Path.Tokens, true, o.NetProfit.Unsigned())
}

func isLargeTrade(amount *big.Int) bool {
	threshold := new(big.Int).Mul(big.NewInt(10), big.NewInt(refTradeUnits))
	return amount.Cmp(threshold) >= 0
}

func mulRate(amount *big.Int, rate float64) *big.Int {
	f := new(big.Float).SetInt(amount)
	f.Mul(f, big.NewFloat(rate))
	out, _ := f.Int(nil)
	return out
}

func signedSub(gross, gas *big.Int) bigmath.SignedInt {
	return bigmath.FromUnsigned(gross).Sub(bigmath.FromUnsigned(gas))
}

// signedIntToFloat converts a SignedInt wei amount to a float64 for metrics
// observation, where exact precision is no longer required.
func signedIntToFloat(s bigmath.SignedInt) float64 {
	f, _ := new(big.Float).SetInt(s.Mag).Float64()
	if s.Negative {
		return -f
	}
	return f
}
