// Package quote implements the Quote Engine (C5): router-kind-aware view
// calls returning an output amount for a reference input. Grounded on the
// teacher's internal/defi/aggregators per-kind client shape (one small
// struct per integration instead of a shared router interface) and on
// internal/defi/price_providers.go's "never fabricate a price" discipline.
package quote

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/errs"
	"github.com/l2arb/engine/pkg/logger"
)

// Caller is the subset of the Chain Gateway the Quote Engine depends on.
type Caller interface {
	CallView(ctx context.Context, to string, data []byte) ([]byte, error)
}

// Quote is the result of a successful view call.
type Quote struct {
	AmountOut   *big.Int
	GasEstimate uint64
	Router      dexregistry.Router
}

const refQuoteTimeout = 5 * time.Second

var (
	v2RouterABI  abi.ABI
	v2FactoryABI abi.ABI
	v3QuoterABI  abi.ABI
)

func init() {
	v2RouterABI = mustParseABI(`[{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}]`)
	v2FactoryABI = mustParseABI(`[{"name":"getPair","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}]`)
	v3QuoterABI = mustParseABI(`[{"name":"quoteExactInputSingle","type":"function","stateMutability":"view","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"outputs":[{"name":"amountOut","type":"uint256"}]}]`)
}

func mustParseABI(spec string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(spec))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Engine quotes candidate edges across all supported router kinds.
type Engine struct {
	logger *logger.Logger
}

// New builds a Quote Engine.
func New(log *logger.Logger) *Engine {
	return &Engine{logger: log.Named("quote-engine")}
}

// Quote returns the output amount for amountIn of tokenIn swapped to
// tokenOut via router. Errors are classified per §4.5: NoPool, Timeout,
// RevertOther. The engine never fabricates a price when a real integration
// is unavailable (Balancer) — it returns NoPool instead.
func (e *Engine) Quote(ctx context.Context, caller Caller, router dexregistry.Router, factory, tokenIn, tokenOut string, amountIn *big.Int) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, refQuoteTimeout)
	defer cancel()

	switch router.Kind {
	case dexregistry.KindV3AMM:
		return e.quoteV3(ctx, caller, router, tokenIn, tokenOut, amountIn)
	case dexregistry.KindV2AMM, dexregistry.KindStableCurve:
		return e.quoteV2Style(ctx, caller, router, factory, tokenIn, tokenOut, amountIn)
	case dexregistry.KindWeightedPool:
		// Balancer quoting has no real integration here; treat as
		// unavailable rather than guess a price, per Design Note.
		return nil, errs.New(errs.NoPool, "balancer quoting unavailable")
	default:
		return nil, errs.New(errs.NoPool, "unsupported router kind: "+string(router.Kind))
	}
}

func (e *Engine) quoteV2Style(ctx context.Context, caller Caller, router dexregistry.Router, factory, tokenIn, tokenOut string, amountIn *big.Int) (*Quote, error) {
	if factory == "" {
		return nil, errs.New(errs.NoPool, "no factory configured for pair discovery")
	}
	pairData, err := v2FactoryABI.Pack("getPair", common.HexToAddress(tokenIn), common.HexToAddress(tokenOut))
	if err != nil {
		return nil, errs.Wrap(errs.RevertOther, "encode getPair", err)
	}
	raw, err := caller.CallView(ctx, factory, pairData)
	if err != nil {
		return nil, classifyCallErr(err)
	}
	outs, err := v2FactoryABI.Unpack("getPair", raw)
	if err != nil || len(outs) == 0 {
		return nil, errs.New(errs.InvalidResponse, "malformed getPair response")
	}
	pairAddr, ok := outs[0].(common.Address)
	if !ok || pairAddr == (common.Address{}) {
		return nil, errs.New(errs.NoPool, "no pair for token pair")
	}

	path := []common.Address{common.HexToAddress(tokenIn), common.HexToAddress(tokenOut)}
	callData, err := v2RouterABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, errs.Wrap(errs.RevertOther, "encode getAmountsOut", err)
	}
	raw, err = caller.CallView(ctx, router.Address, callData)
	if err != nil {
		return nil, classifyCallErr(err)
	}
	outs, err = v2RouterABI.Unpack("getAmountsOut", raw)
	if err != nil || len(outs) == 0 {
		return nil, errs.New(errs.InvalidResponse, "malformed getAmountsOut response")
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, errs.New(errs.InvalidResponse, "malformed getAmountsOut amounts")
	}
	return &Quote{AmountOut: amounts[len(amounts)-1], GasEstimate: router.GasEstimate, Router: router}, nil
}

func (e *Engine) quoteV3(ctx context.Context, caller Caller, router dexregistry.Router, tokenIn, tokenOut string, amountIn *big.Int) (*Quote, error) {
	for _, fee := range []uint32{3000, 500} { // 0.3% first, fall back to 0.05%
		data, err := v3QuoterABI.Pack("quoteExactInputSingle", common.HexToAddress(tokenIn), common.HexToAddress(tokenOut), fee, amountIn, big.NewInt(0))
		if err != nil {
			return nil, errs.Wrap(errs.RevertOther, "encode quoteExactInputSingle", err)
		}
		raw, err := caller.CallView(ctx, router.Address, data)
		if err != nil {
			e.logger.Debug("v3 fee tier reverted, trying next", zap.Uint32("fee", fee), zap.Error(err))
			continue
		}
		outs, err := v3QuoterABI.Unpack("quoteExactInputSingle", raw)
		if err != nil || len(outs) == 0 {
			continue
		}
		amountOut, ok := outs[0].(*big.Int)
		if !ok {
			continue
		}
		return &Quote{AmountOut: amountOut, GasEstimate: router.GasEstimate, Router: router}, nil
	}
	return nil, errs.New(errs.NoPool, "no v3 fee tier quoted")
}

func classifyCallErr(err error) error {
	if e, ok := err.(*errs.Error); ok {
		switch e.Kind {
		case errs.Timeout, errs.NetworkUnavailable:
			return errs.Wrap(errs.Timeout, "quote call timed out", err)
		}
	}
	return errs.Wrap(errs.RevertOther, "quote call reverted", err)
}
