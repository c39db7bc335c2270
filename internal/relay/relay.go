// Package relay implements the concrete Relay collaborator the Bundle
// Builder (C12) submits through: a private-relay JSON-RPC client in the
// Flashbots style, falling back to public-mempool submission via the Chain
// Gateway. Grounded on the teacher's internal/defi/flashbots_client.go and
// private_mempool_client.go (relay JSON-RPC shape, X-Flashbots-Signature
// auth header, bundle hash tracking) and rebuilt around bundle.Relay so the
// builder itself stays relay-agnostic and test-substitutable.
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/bundle"
	"github.com/l2arb/engine/internal/chain"
	"github.com/l2arb/engine/internal/errs"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
)

// Gateway is the subset of *chain.Gateway the relay needs for public-mempool
// fallback: the chain id and raw transaction submission.
type Gateway interface {
	ChainID() config.ChainID
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client is a Flashbots-style private relay with public-mempool fallback,
// implementing bundle.Relay.
type Client struct {
	log          *logger.Logger
	http         *http.Client
	flashbotsURL string
	signingKey   *ecdsa.PrivateKey
	txKey        *ecdsa.PrivateKey
	gateways     map[config.ChainID]Gateway

	mu      sync.Mutex
	pending map[string]pendingBundle
}

type pendingBundle struct {
	chainID     config.ChainID
	targetBlock uint64
	submittedAt time.Time
}

// New builds a Client. authKeyHex signs relay requests (Flashbots reputation
// key); txKeyHex signs the transactions themselves. Both are hex-encoded
// secp256k1 private keys, typically the same key in single-operator setups.
func New(log *logger.Logger, flashbotsURL, authKeyHex, txKeyHex string, gateways map[config.ChainID]Gateway) (*Client, error) {
	authKey, err := crypto.HexToECDSA(trimHexPrefix(authKeyHex))
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "parse flashbots auth key", err)
	}
	txKey, err := crypto.HexToECDSA(trimHexPrefix(txKeyHex))
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "parse transaction signing key", err)
	}
	return &Client{
		log:          log.Named("relay"),
		http:         &http.Client{Timeout: 10 * time.Second},
		flashbotsURL: flashbotsURL,
		signingKey:   authKey,
		txKey:        txKey,
		gateways:     gateways,
		pending:      make(map[string]pendingBundle),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call sends a Flashbots-authenticated JSON-RPC request and decodes result
// into out (ignored if nil).
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return errs.Wrap(errs.InvalidResponse, "encode relay request", err)
	}

	sig, err := c.signBody(body)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, "sign relay request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.flashbotsURL, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.NetworkUnavailable, "build relay request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.NetworkUnavailable, "relay request failed", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return errs.Wrap(errs.InvalidResponse, "decode relay response", err)
	}
	if decoded.Error != nil {
		return errs.New(errs.RevertOther, "relay error: "+decoded.Error.Message)
	}
	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return errs.Wrap(errs.InvalidResponse, "unmarshal relay result", err)
		}
	}
	return nil
}

// signBody produces the "address:signature" header Flashbots relays require,
// signing the EIP-191 personal-message hash of the raw request body.
func (c *Client) signBody(body []byte) (string, error) {
	hash := accounts.TextHash(body)
	sig, err := crypto.Sign(hash, c.signingKey)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(c.signingKey.PublicKey)
	return addr.Hex() + ":" + hexutil.Encode(sig), nil
}

// signedRawTxs builds and signs one dynamic-fee transaction per template,
// returning each as a 0x-prefixed RLP hex string for bundle submission.
func (c *Client) signedRawTxs(chainID config.ChainID, txs []bundle.TxTemplate) ([]string, []*types.Transaction, error) {
	raw := make([]string, 0, len(txs))
	signed := make([]*types.Transaction, 0, len(txs))
	for _, tmpl := range txs {
		tx, err := c.signTemplate(chainID, tmpl)
		if err != nil {
			return nil, nil, err
		}
		encoded, err := tx.MarshalBinary()
		if err != nil {
			return nil, nil, errs.Wrap(errs.InvalidResponse, "encode signed tx", err)
		}
		raw = append(raw, hexutil.Encode(encoded))
		signed = append(signed, tx)
	}
	return raw, signed, nil
}

func (c *Client) signTemplate(chainID config.ChainID, tmpl bundle.TxTemplate) (*types.Transaction, error) {
	to := common.HexToAddress(tmpl.To)
	txdata := &types.DynamicFeeTx{
		ChainID:   big.NewInt(int64(chainID)),
		Nonce:     tmpl.Nonce,
		GasTipCap: tmpl.Gas.PriorityFee,
		GasFeeCap: tmpl.Gas.MaxFee,
		Gas:       tmpl.Gas.GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      tmpl.Data,
	}
	signer := types.LatestSignerForChainID(txdata.ChainID)
	tx, err := types.SignNewTx(c.txKey, signer, txdata)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, "sign transaction", err)
	}
	return tx, nil
}

// Simulate calls eth_callBundle against the private relay and reports
// whether every transaction in the bundle would succeed.
func (c *Client) Simulate(ctx context.Context, chainID config.ChainID, txs []bundle.TxTemplate, targetBlock uint64) (bundle.SimulationResult, error) {
	raw, _, err := c.signedRawTxs(chainID, txs)
	if err != nil {
		return bundle.SimulationResult{}, err
	}

	params := []interface{}{map[string]interface{}{
		"txs":              raw,
		"blockNumber":      hexutil.EncodeUint64(targetBlock),
		"stateBlockNumber": "latest",
	}}

	var result struct {
		Results []struct {
			Error string `json:"error"`
			Revert string `json:"revert"`
		} `json:"results"`
	}
	if err := c.call(ctx, "eth_callBundle", params, &result); err != nil {
		return bundle.SimulationResult{}, err
	}
	for _, r := range result.Results {
		if r.Error != "" || r.Revert != "" {
			reason := r.Error
			if reason == "" {
				reason = r.Revert
			}
			return bundle.SimulationResult{Success: false, RevertReason: reason}, nil
		}
	}
	return bundle.SimulationResult{Success: true}, nil
}

// SendBundle submits the signed bundle to the private relay via
// eth_sendBundle and records the target block for later Wait polling.
func (c *Client) SendBundle(ctx context.Context, chainID config.ChainID, txs []bundle.TxTemplate, targetBlock uint64) (string, error) {
	raw, _, err := c.signedRawTxs(chainID, txs)
	if err != nil {
		return "", err
	}

	params := []interface{}{map[string]interface{}{
		"txs":         raw,
		"blockNumber": hexutil.EncodeUint64(targetBlock),
	}}

	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := c.call(ctx, "eth_sendBundle", params, &result); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.pending[result.BundleHash] = pendingBundle{chainID: chainID, targetBlock: targetBlock, submittedAt: time.Now()}
	c.mu.Unlock()
	return result.BundleHash, nil
}

const (
	bundlePollInterval = 2 * time.Second
	bundleWaitTimeout  = 30 * time.Second
)

// Wait polls flashbots_getBundleStatsV2 until the target block has a
// terminal outcome or bundleWaitTimeout elapses.
func (c *Client) Wait(ctx context.Context, bundleID string) (bundle.Outcome, error) {
	c.mu.Lock()
	pb, ok := c.pending[bundleID]
	c.mu.Unlock()
	if !ok {
		return bundle.OutcomeNotIncluded, errs.New(errs.InvalidResponse, "unknown bundle id")
	}

	ctx, cancel := context.WithTimeout(ctx, bundleWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(bundlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return bundle.OutcomeTimedOut, nil
		case <-ticker.C:
			params := []interface{}{map[string]interface{}{
				"bundleHash":  bundleID,
				"blockNumber": hexutil.EncodeUint64(pb.targetBlock),
			}}
			var stats struct {
				IsSimulated bool `json:"isSimulated"`
				IsSentToMiners bool `json:"isSentToMiners"`
				IsHighPriority bool `json:"isHighPriority"`
			}
			if err := c.call(ctx, "flashbots_getBundleStatsV2", params, &stats); err != nil {
				c.log.Warn("bundle stats poll failed", zap.String("bundle_id", bundleID), zap.Error(err))
				continue
			}
			if stats.IsSimulated && stats.IsSentToMiners {
				return bundle.OutcomeIncluded, nil
			}
		}
	}
}

// SendPublic signs tmpl and submits it directly to the public mempool
// through the Chain Gateway, returning the transaction hash.
func (c *Client) SendPublic(ctx context.Context, chainID config.ChainID, tmpl bundle.TxTemplate) (string, error) {
	gw, ok := c.gateways[chainID]
	if !ok {
		return "", errs.New(errs.ConfigInvalid, fmt.Sprintf("no gateway configured for chain %d", chainID))
	}
	tx, err := c.signTemplate(chainID, tmpl)
	if err != nil {
		return "", err
	}
	if err := gw.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}
