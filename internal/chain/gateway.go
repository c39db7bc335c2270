// Package chain implements the Chain Gateway (C1): a typed wrapper over one
// L2's JSON-RPC endpoint pool with retry, failover, and checksum validation.
// Grounded on the teacher's internal/blockchain/rpc/client.go retry loop and
// internal/blockchain/rpc/node_manager.go per-node health tracking, narrowed
// from a multi-chain pool manager to one Gateway per chain. cmd/arbd dials one
// Gateway per chain and every worker shares it; workers hold no Gateways of
// their own.
package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/l2arb/engine/internal/errs"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
)

// Dialer abstracts ethclient.DialContext so tests can substitute a fake.
type Dialer func(ctx context.Context, url string) (EthClient, error)

// EthClient is the subset of *ethclient.Client the gateway depends on. It is
// an interface so unit tests can supply a stub without a live RPC endpoint.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

func defaultDialer(ctx context.Context, url string) (EthClient, error) {
	return ethclient.DialContext(ctx, url)
}

// node is one pooled endpoint with its own health bookkeeping, mirroring the
// teacher's RPCNode shape.
type node struct {
	url     string
	client  EthClient
	healthy bool

	mu              sync.Mutex
	totalRequests   int64
	failedRequests  int64
	averageLatency  time.Duration
}

// FeeData is the network fee snapshot the gateway returns from fee_data().
type FeeData struct {
	BaseFee   *big.Int
	TipCap    *big.Int
	GasPrice  *big.Int
	BlockGasUsed  uint64
	BlockGasLimit uint64
}

// Gateway is the Chain Gateway for a single L2 chain.
type Gateway struct {
	logger     *logger.Logger
	chainID    config.ChainID
	maxRetries int
	timeout    time.Duration
	limiter    *rate.Limiter

	mu    sync.RWMutex
	nodes []*node

	nonceMu sync.Mutex
	nonces  map[common.Address]uint64
}

// Dial builds a Gateway for cc, connecting to the primary URL and any
// fallbacks. Endpoints reporting the wrong chain id are dropped from the pool
// and logged, per §4.1's ChainMismatch handling; dialing continues with the
// remaining endpoints. Dial fails only if no endpoint is usable.
func Dial(ctx context.Context, log *logger.Logger, cc config.ChainConfig) (*Gateway, error) {
	return dialWith(ctx, log, cc, defaultDialer)
}

func dialWith(ctx context.Context, log *logger.Logger, cc config.ChainConfig, dial Dialer) (*Gateway, error) {
	gw := &Gateway{
		logger:     log.Named("chain-gateway").With(zap.Int64("chain_id", int64(cc.ChainID))),
		chainID:    cc.ChainID,
		maxRetries: cc.MaxRetries,
		timeout:    cc.CallTimeout,
		limiter:    rate.NewLimiter(rate.Limit(25), 50),
		nonces:     make(map[common.Address]uint64),
	}
	if gw.maxRetries <= 0 {
		gw.maxRetries = 3
	}
	if gw.timeout <= 0 {
		gw.timeout = 5 * time.Second
	}

	urls := append([]string{cc.RPCURL}, cc.RPCFallbacks...)
	for _, url := range urls {
		if url == "" {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, gw.timeout)
		client, err := dial(dialCtx, url)
		cancel()
		if err != nil {
			gw.logger.Warn("dial failed", zap.String("url", url), zap.Error(err))
			continue
		}
		idCtx, cancel2 := context.WithTimeout(ctx, gw.timeout)
		reportedID, err := client.ChainID(idCtx)
		cancel2()
		if err != nil {
			gw.logger.Warn("chain id check failed", zap.String("url", url), zap.Error(err))
			client.Close()
			continue
		}
		if reportedID.Int64() != int64(cc.ChainID) {
			gw.logger.Error("endpoint chain id mismatch, dropping from pool",
				zap.String("url", url), zap.Int64("expected", int64(cc.ChainID)), zap.Int64("got", reportedID.Int64()))
			client.Close()
			continue
		}
		gw.nodes = append(gw.nodes, &node{url: url, client: client, healthy: true})
	}

	if len(gw.nodes) == 0 {
		return nil, errs.New(errs.ChainMismatch, "no usable endpoint for chain")
	}
	return gw, nil
}

// Close releases every pooled client connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.client.Close()
	}
}

// healthyNodes returns the currently healthy pool, under the read lock.
func (g *Gateway) healthyNodes() []*node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.healthy {
			out = append(out, n)
		}
	}
	return out
}

func (n *node) record(start time.Time, failed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.totalRequests++
	if failed {
		n.failedRequests++
	}
	latency := time.Since(start)
	if n.averageLatency == 0 {
		n.averageLatency = latency
	} else {
		n.averageLatency = (n.averageLatency + latency) / 2
	}
}

// executeWithRetry runs fn against the healthy pool, retrying with backoff on
// transient failures and rotating between endpoints, per the teacher's
// rpc/client.go executeWithRetry loop.
func (g *Gateway) executeWithRetry(ctx context.Context, op string, fn func(ctx context.Context, c EthClient) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.Timeout, op, err)
	}

	nodes := g.healthyNodes()
	if len(nodes) == 0 {
		return errs.New(errs.NetworkUnavailable, op+": no healthy endpoints")
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		n := nodes[attempt%len(nodes)]
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		start := time.Now()
		err := fn(callCtx, n.client)
		cancel()
		n.record(start, err != nil)

		if err == nil {
			return nil
		}
		lastErr = err
		g.logger.Warn("rpc call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))

		if ctx.Err() != nil {
			return errs.Wrap(errs.Timeout, op, ctx.Err())
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errs.Wrap(errs.Timeout, op, ctx.Err())
		}
		backoff *= 2
	}
	return errs.Wrap(errs.NetworkUnavailable, op+": retries exhausted", lastErr)
}

// BlockNumber returns the current head block number.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := g.executeWithRetry(ctx, "block_number", func(ctx context.Context, c EthClient) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// FeeData returns the current EIP-1559 fee snapshot and the latest block's
// utilization, used by the Gas Pricer's congestion estimate.
func (g *Gateway) FeeData(ctx context.Context) (*FeeData, error) {
	fd := &FeeData{}
	err := g.executeWithRetry(ctx, "fee_data", func(ctx context.Context, c EthClient) error {
		header, err := c.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if header.BaseFee == nil {
			return errs.New(errs.InvalidResponse, "fee_data: header missing base fee")
		}
		tip, err := c.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		price, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		fd.BaseFee = header.BaseFee
		fd.TipCap = tip
		fd.GasPrice = price
		fd.BlockGasUsed = header.GasUsed
		fd.BlockGasLimit = header.GasLimit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fd, nil
}

// BalanceOf returns the native balance of a checksum-validated address.
func (g *Gateway) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	a, err := checksum(addr)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	err = g.executeWithRetry(ctx, "balance_of", func(ctx context.Context, c EthClient) error {
		bal, err := c.BalanceAt(ctx, a, nil)
		if err != nil {
			return err
		}
		out = bal
		return nil
	})
	return out, err
}

// CodeAt returns the deployed bytecode at a checksum-validated address.
func (g *Gateway) CodeAt(ctx context.Context, addr string) ([]byte, error) {
	a, err := checksum(addr)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = g.executeWithRetry(ctx, "code_at", func(ctx context.Context, c EthClient) error {
		code, err := c.CodeAt(ctx, a, nil)
		if err != nil {
			return err
		}
		out = code
		return nil
	})
	return out, err
}

// CallView performs a read-only contract call.
func (g *Gateway) CallView(ctx context.Context, to string, data []byte) ([]byte, error) {
	a, err := checksum(to)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = g.executeWithRetry(ctx, "call_view", func(ctx context.Context, c EthClient) error {
		res, err := c.CallContract(ctx, ethereum.CallMsg{To: &a, Data: data}, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// SendTransaction broadcasts a signed transaction.
func (g *Gateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return g.executeWithRetry(ctx, "send_transaction", func(ctx context.Context, c EthClient) error {
		return c.SendTransaction(ctx, tx)
	})
}

// WaitReceipt polls for a transaction receipt until it appears or timeout
// elapses.
func (g *Gateway) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		nodes := g.healthyNodes()
		if len(nodes) == 0 {
			return nil, errs.New(errs.NetworkUnavailable, "wait_receipt: no healthy endpoints")
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		receipt, err := nodes[0].client.TransactionReceipt(callCtx, hash)
		cancel()
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.Wrap(errs.Timeout, "wait_receipt: deadline exceeded", err)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Timeout, "wait_receipt", ctx.Err())
		}
	}
}

// NextNonce returns the next nonce to use for addr, acquired under a short
// lock immediately before signing, per §5's nonce ownership rule.
func (g *Gateway) NextNonce(ctx context.Context, addr string) (uint64, error) {
	a, err := checksum(addr)
	if err != nil {
		return 0, err
	}
	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	if cached, ok := g.nonces[a]; ok {
		g.nonces[a] = cached + 1
		return cached, nil
	}

	var pending uint64
	err = g.executeWithRetry(ctx, "pending_nonce", func(ctx context.Context, c EthClient) error {
		n, err := c.PendingNonceAt(ctx, a)
		if err != nil {
			return err
		}
		pending = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.nonces[a] = pending + 1
	return pending, nil
}

// ChainID returns the chain this gateway is bound to.
func (g *Gateway) ChainID() config.ChainID { return g.chainID }

// checksum validates and normalizes a hex address, per the Chain Gateway's
// "addresses are always checksum-validated before use" invariant.
func checksum(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, errs.New(errs.InvalidResponse, "malformed address: "+addr)
	}
	return common.HexToAddress(addr), nil
}
