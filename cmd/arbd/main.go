// Command arbd is the L2 arbitrage engine's daemon entrypoint: it wires
// config, logging, metrics, per-chain collaborators, and the worker
// scheduler together, then runs until an interrupt signal or a configured
// duration elapses. Styled on the teacher's cmd/*/main.go convention (thin
// main, config load, logger construction, component wiring, graceful
// shutdown), using the standard library flag package per SPEC_FULL's
// corpus-norm justification rather than a CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/bundle"
	"github.com/l2arb/engine/internal/chain"
	"github.com/l2arb/engine/internal/dexregistry"
	"github.com/l2arb/engine/internal/gaspricer"
	"github.com/l2arb/engine/internal/metrics"
	"github.com/l2arb/engine/internal/oracle"
	"github.com/l2arb/engine/internal/pathfinder"
	"github.com/l2arb/engine/internal/quote"
	"github.com/l2arb/engine/internal/relay"
	"github.com/l2arb/engine/internal/report"
	"github.com/l2arb/engine/internal/risk"
	"github.com/l2arb/engine/internal/scheduler"
	"github.com/l2arb/engine/internal/slippage"
	"github.com/l2arb/engine/internal/threshold"
	"github.com/l2arb/engine/internal/token"
	"github.com/l2arb/engine/pkg/config"
	"github.com/l2arb/engine/pkg/logger"
	"github.com/shopspring/decimal"
)

// Exit codes per §6: 0 clean shutdown, 1 failed startup, 2 circuit-breaker
// tripped shutdown.
const (
	exitClean          = 0
	exitStartupFailed  = 1
	exitBreakerTripped = 2
)

type flags struct {
	configPath     string
	simulate       bool
	verbose        bool
	crossChain     bool
	triangular     bool
	workers        int
	durationSec    int
	minProfit      float64
	scanIntervalMS int
	reportIntvlMS  int
	metricsAddr    string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&f.simulate, "simulate", false, "dry-run: price and decide but never submit transactions")
	flag.BoolVar(&f.simulate, "s", false, "shorthand for -simulate")
	flag.BoolVar(&f.verbose, "verbose", false, "enable debug-level logging")
	flag.BoolVar(&f.verbose, "v", false, "shorthand for -verbose")
	flag.BoolVar(&f.crossChain, "cross-chain", false, "enable cross-chain price-spread reporting")
	flag.BoolVar(&f.crossChain, "c", false, "shorthand for -cross-chain")
	flag.BoolVar(&f.triangular, "triangular", false, "enable triangular arbitrage scanning")
	flag.BoolVar(&f.triangular, "t", false, "shorthand for -triangular")
	flag.IntVar(&f.workers, "workers", 0, "worker pool size (0 keeps the config default)")
	flag.IntVar(&f.durationSec, "duration", 0, "run for N seconds then shut down cleanly (0 runs until interrupted)")
	flag.Float64Var(&f.minProfit, "min-profit", 0, "override the minimum profit threshold (0 keeps the config default)")
	flag.IntVar(&f.scanIntervalMS, "scan-interval", 0, "scan tick interval in milliseconds (0 keeps the config default)")
	flag.IntVar(&f.reportIntvlMS, "report-interval", 0, "report tick interval in milliseconds (0 keeps the config default)")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "address the Prometheus scrape endpoint listens on")
	flag.Parse()
	return f
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		return exitStartupFailed
	}
	applyFlagOverrides(cfg, f)

	if !cfg.Features.SimulationMode {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "config invalid:", err)
			return exitStartupFailed
		}
	}

	log := logger.NewLogger(cfg.Logging)
	defer log.Sync()

	met := metrics.New()
	metricsSrv := startMetricsServer(f.metricsAddr, met, log)
	defer metricsSrv.Close()

	reportDir := cfg.Scheduler.ReportDir
	if reportDir == "" {
		reportDir = "./reports"
	}
	reportWriter, err := report.New(reportDir)
	if err != nil {
		log.Error("failed to prepare report directory", zap.Error(err))
		return exitStartupFailed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p, gateways, err := buildPipeline(ctx, cfg, log, met)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return exitStartupFailed
	}
	defer func() {
		for _, gw := range gateways {
			gw.Close()
		}
	}()

	sched := scheduler.New(log, cfg.Scheduler.Workers, p.scanFunc, p.executeFunc)
	scanInterval := cfg.Scheduler.ScanInterval
	reportInterval := cfg.Scheduler.ReportInterval
	if f.scanIntervalMS > 0 {
		scanInterval = time.Duration(f.scanIntervalMS) * time.Millisecond
	}
	if f.reportIntvlMS > 0 {
		reportInterval = time.Duration(f.reportIntvlMS) * time.Millisecond
	}
	sched.WithIntervals(scanInterval, reportInterval)

	if f.durationSec > 0 {
		var durationCancel context.CancelFunc
		ctx, durationCancel = context.WithTimeout(ctx, time.Duration(f.durationSec)*time.Second)
		defer durationCancel()
	}

	payload := scheduler.ScanPayload{Chains: configuredChainIDs(cfg)}
	sched.Run(ctx, payload)

	return finalizeShutdown(sched, p.risk, reportWriter, log)
}

func applyFlagOverrides(cfg *config.Config, f flags) {
	cfg.Features.SimulationMode = cfg.Features.SimulationMode || f.simulate
	cfg.Features.VerboseLogging = cfg.Features.VerboseLogging || f.verbose
	cfg.Features.CrossChainMonitoring = cfg.Features.CrossChainMonitoring || f.crossChain
	cfg.Features.TriangularArbitrage = cfg.Features.TriangularArbitrage || f.triangular
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if f.workers > 0 {
		cfg.Scheduler.Workers = f.workers
	}
	if f.minProfit > 0 {
		cfg.MinProfit = f.minProfit
	}
}

func configuredChainIDs(cfg *config.Config) []int64 {
	ids := make([]int64, 0, len(cfg.Chains))
	for id := range cfg.Chains {
		ids = append(ids, int64(id))
	}
	return ids
}

func startMetricsServer(addr string, met *metrics.Metrics, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// buildPipeline dials a Chain Gateway per configured chain and wires every
// domain component around them.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger, met *metrics.Metrics) (*pipeline, map[config.ChainID]*chain.Gateway, error) {
	gateways := make(map[config.ChainID]*chain.Gateway)
	runtimes := make(map[config.ChainID]*chainRuntime)
	relayGateways := make(map[config.ChainID]relay.Gateway)

	for id, cc := range cfg.Chains {
		if cc.RPCURL == "" {
			log.Warn("skipping chain with no RPC endpoint configured", zap.Int64("chain_id", int64(id)))
			continue
		}
		gw, err := chain.Dial(ctx, log, cc)
		if err != nil {
			return nil, gateways, err
		}
		gateways[id] = gw
		relayGateways[id] = gw
		// The registry's static Router records carry no factory address of
		// their own (see dexregistry.Router); until config grows a
		// per-chain factory field, v2-style pair discovery has no real
		// factory to call and correctly reports NoPool rather than guess.
		runtimes[id] = &chainRuntime{chainID: id, gateway: gw, factory: ""}
	}

	registry := dexregistry.New()
	universe := token.New()
	pf := pathfinder.New(log, registry, universe)
	qe := quote.New(log)
	gasPricer := gaspricer.New()
	slipAdvisor := slippage.New()
	thresholder := threshold.New()

	oracleValidator := oracle.New(noReferencePrice)

	capitalWei := new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000)) // 10 native tokens
	riskManager := risk.New(log, capitalWei)

	operator := "0x0000000000000000000000000000000000000000"
	relayClient, err := buildRelay(log, cfg, relayGateways)
	if err != nil {
		return nil, gateways, err
	}
	if cfg.PrivateKey != "" {
		if key, err := crypto.HexToECDSA(trimHex(cfg.PrivateKey)); err == nil {
			operator = crypto.PubkeyToAddress(key.PublicKey).Hex()
		}
	}

	bundleBuilder := bundle.New(log, relayClient, gasPricer)

	p := &pipeline{
		log:         log,
		cfg:         cfg,
		metrics:     met,
		runtimes:    runtimes,
		pathfinder:  pf,
		quoteEngine: qe,
		gasPricer:   gasPricer,
		slippage:    slipAdvisor,
		threshold:   thresholder,
		oracle:      oracleValidator,
		risk:        riskManager,
		bundle:      bundleBuilder,
		universe:    universe,
		operator:    operator,
		capitalWei:  capitalWei,
	}
	return p, gateways, nil
}

// noReferencePrice is the out-of-band price oracle boundary; per the
// Non-goals this engine does not implement its own price-feed integration,
// so it reports "no data" and lets the Oracle Validator's missing-data
// fallback decide.
func noReferencePrice(ctx context.Context, tokenA, tokenB string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func buildRelay(log *logger.Logger, cfg *config.Config, gateways map[config.ChainID]relay.Gateway) (bundle.Relay, error) {
	if cfg.Relay.FlashbotsAuthKey == "" || cfg.PrivateKey == "" {
		log.Warn("relay credentials not configured, submissions will fail until provided")
		return noopRelay{}, nil
	}
	return relay.New(log, cfg.Relay.FlashbotsRelay, cfg.Relay.FlashbotsAuthKey, cfg.PrivateKey, gateways)
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func finalizeShutdown(sched *scheduler.Scheduler, riskManager *risk.Manager, rw *report.Writer, log *logger.Logger) int {
	snapshots := sched.Aggregated()
	var opportunities, tradesAttempted, tradesSucceeded int
	for _, s := range snapshots {
		opportunities += s.ScansRun
		tradesAttempted += s.TradesRun
		tradesSucceeded += s.TradesSucceeded
	}

	rpt := report.Report{
		Workers:                     snapshots,
		OpportunitiesFound:          opportunities,
		OpportunitiesBelowThreshold: 0,
		TradesAttempted:             tradesAttempted,
		TradesSucceeded:             tradesSucceeded,
	}
	if path, err := rw.Write(rpt); err != nil {
		log.Error("failed to write final report", zap.Error(err))
	} else {
		log.Info("wrote final report", zap.String("path", path))
	}

	if riskManager.State() == risk.StateTripped {
		log.Warn("shutting down with circuit breaker tripped", zap.Strings("reasons", riskManager.TripReasons()))
		return exitBreakerTripped
	}
	return exitClean
}

// noopRelay rejects every submission; used only when relay credentials are
// absent so the engine can still run in scan-only/simulation mode.
type noopRelay struct{}

func (noopRelay) Simulate(ctx context.Context, chainID config.ChainID, txs []bundle.TxTemplate, targetBlock uint64) (bundle.SimulationResult, error) {
	return bundle.SimulationResult{Success: false, RevertReason: "no relay configured"}, nil
}

func (noopRelay) SendBundle(ctx context.Context, chainID config.ChainID, txs []bundle.TxTemplate, targetBlock uint64) (string, error) {
	return "", fmt.Errorf("no relay configured")
}

func (noopRelay) Wait(ctx context.Context, bundleID string) (bundle.Outcome, error) {
	return bundle.OutcomeNotIncluded, nil
}

func (noopRelay) SendPublic(ctx context.Context, chainID config.ChainID, tx bundle.TxTemplate) (string, error) {
	return "", fmt.Errorf("no relay configured")
}
