package quote

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/errs"
	"github.com/l2arb/engine/pkg/logger"
)

type fakeCaller struct {
	responses map[string][]byte // keyed by 4-byte selector hex
	err       error
}

func (f *fakeCaller) CallView(ctx context.Context, to string, data []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	sel := common.Bytes2Hex(data[:4])
	resp, ok := f.responses[sel]
	if !ok {
		return nil, errs.New(errs.RevertOther, "no stub for selector "+sel)
	}
	return resp, nil
}

func selectorHex(a abi.ABI, method string) string {
	return common.Bytes2Hex(a.Methods[method].ID)
}

func TestQuoteV2Style_NoPool_WhenFactoryReturnsZeroAddress(t *testing.T) {
	zero, _ := v2FactoryABI.Pack("getPair")
	_ = zero
	outData, err := v2FactoryABI.Methods["getPair"].Outputs.Pack(common.Address{})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{
		selectorHex(v2FactoryABI, "getPair"): outData,
	}}

	e := New(logger.New("test"))
	router := dexregistry.Router{Kind: dexregistry.KindV2AMM, Address: "0x1111111111111111111111111111111111111111"}
	_, err = e.Quote(context.Background(), caller, router, "0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333", "0x4444444444444444444444444444444444444444", big.NewInt(1000))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NoPool))
}

func TestQuoteV2Style_ReturnsAmountOut(t *testing.T) {
	pairOut, err := v2FactoryABI.Methods["getPair"].Outputs.Pack(common.HexToAddress("0x5555555555555555555555555555555555555555"[:42]))
	require.NoError(t, err)
	amountsOut, err := v2RouterABI.Methods["getAmountsOut"].Outputs.Pack([]*big.Int{big.NewInt(1000), big.NewInt(1998)})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{
		selectorHex(v2FactoryABI, "getPair"):      pairOut,
		selectorHex(v2RouterABI, "getAmountsOut"): amountsOut,
	}}

	e := New(logger.New("test"))
	router := dexregistry.Router{Kind: dexregistry.KindV2AMM, Address: "0x1111111111111111111111111111111111111111", GasEstimate: 120000}
	q, err := e.Quote(context.Background(), caller, router, "0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333", "0x4444444444444444444444444444444444444444", big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1998), q.AmountOut)
}

func TestQuoteWeightedPool_AlwaysUnavailable(t *testing.T) {
	e := New(logger.New("test"))
	router := dexregistry.Router{Kind: dexregistry.KindWeightedPool, Address: "0x1111111111111111111111111111111111111111"}
	_, err := e.Quote(context.Background(), &fakeCaller{}, router, "", "0xa", "0xb", big.NewInt(1))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NoPool))
}

func TestQuoteV3_FallsBackToLowerFeeTier(t *testing.T) {
	amountOut, err := v3QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(big.NewInt(2001))
	require.NoError(t, err)

	calls := 0
	caller := &callRecorder{amountOut: amountOut, failFirst: true, calls: &calls}

	e := New(logger.New("test"))
	router := dexregistry.Router{Kind: dexregistry.KindV3AMM, Address: "0x1111111111111111111111111111111111111111"}
	q, err := e.Quote(context.Background(), caller, router, "", "0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333", big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2001), q.AmountOut)
	assert.Equal(t, 2, calls)
}

type callRecorder struct {
	amountOut []byte
	failFirst bool
	calls     *int
}

func (c *callRecorder) CallView(ctx context.Context, to string, data []byte) ([]byte, error) {
	*c.calls++
	if c.failFirst && *c.calls == 1 {
		return nil, errs.New(errs.RevertOther, "fee tier unavailable")
	}
	return c.amountOut, nil
}
