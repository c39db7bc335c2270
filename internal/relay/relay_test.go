package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/internal/bundle"
	"github.com/l2arb/engine/internal/gaspricer"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeGateway struct {
	chainID config.ChainID
	sent    []*types.Transaction
}

func (f *fakeGateway) ChainID() config.ChainID { return f.chainID }
func (f *fakeGateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func testTemplate() bundle.TxTemplate {
	return bundle.TxTemplate{
		ChainID: config.ChainArbitrum,
		To:      "0x912CE59144191C1204E64559FE8253a0e49E6548",
		Data:    []byte{0x01, 0x02},
		Nonce:   1,
		Gas: gaspricer.GasSettings{
			PriorityFee: bigIntFromUint64(2_000_000_000),
			MaxFee:      bigIntFromUint64(4_000_000_000),
			GasLimit:    200000,
		},
	}
}

func TestClient_SimulateReportsRevertFromRelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Flashbots-Signature"))
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_callBundle", req.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"results":[{"error":"execution reverted"}]}`)})
	}))
	defer server.Close()

	c, err := New(logger.New("test"), server.URL, testKey, testKey, nil)
	require.NoError(t, err)

	result, err := c.Simulate(context.Background(), config.ChainArbitrum, []bundle.TxTemplate{testTemplate()}, 100)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "execution reverted", result.RevertReason)
}

func TestClient_SendBundleReturnsBundleHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"bundleHash":"0xabc123"}`)})
	}))
	defer server.Close()

	c, err := New(logger.New("test"), server.URL, testKey, testKey, nil)
	require.NoError(t, err)

	id, err := c.SendBundle(context.Background(), config.ChainArbitrum, []bundle.TxTemplate{testTemplate()}, 100)
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", id)
}

func TestClient_SendPublicSignsAndForwardsThroughGateway(t *testing.T) {
	gw := &fakeGateway{chainID: config.ChainArbitrum}
	c, err := New(logger.New("test"), "http://unused", testKey, testKey, map[config.ChainID]Gateway{config.ChainArbitrum: gw})
	require.NoError(t, err)

	hash, err := c.SendPublic(context.Background(), config.ChainArbitrum, testTemplate())
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	require.Len(t, gw.sent, 1)
}

func TestClient_SendPublicFailsForUnconfiguredChain(t *testing.T) {
	c, err := New(logger.New("test"), "http://unused", testKey, testKey, map[config.ChainID]Gateway{})
	require.NoError(t, err)

	_, err = c.SendPublic(context.Background(), config.ChainOptimism, testTemplate())
	assert.Error(t, err)
}

func bigIntFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
