// Package config loads the engine's process-wide configuration. Layering
// follows the teacher's YAML-struct convention: compiled-in defaults, then an
// optional YAML file, then environment variable overrides, then CLI flags
// (applied by cmd/arbd on top of the loaded Config).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ChainID is the L2 chain identifier. The engine recognizes exactly two.
type ChainID int64

const (
	ChainArbitrum ChainID = 42161
	ChainOptimism ChainID = 10
)

// LoggingConfig mirrors the teacher's logging configuration shape.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// ChainConfig holds everything the Chain Gateway needs to talk to one L2.
type ChainConfig struct {
	ChainID            ChainID       `yaml:"chain_id"`
	Name               string        `yaml:"name"`
	RPCURL             string        `yaml:"rpc_url"`
	RPCFallbacks       []string      `yaml:"rpc_fallbacks"`
	BotContractAddress string        `yaml:"bot_contract_address"`
	BalancerVault      string        `yaml:"balancer_vault_address"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
}

// RelayConfig holds private-relay / public-mempool submission settings.
type RelayConfig struct {
	FlashbotsAuthKey string `yaml:"-"`
	FlashbotsRelay   string `yaml:"flashbots_relay_url"`
	MEVShareURL      string `yaml:"mev_share_url"`
}

// RiskConfig holds the tunables for the Risk Manager circuit breaker.
type RiskConfig struct {
	MaxSlippageBps          int           `yaml:"max_slippage_bps"`
	MaxPositionSize         float64       `yaml:"max_position_size"`
	GasFundingPercentage    float64       `yaml:"gas_funding_percentage"`
	CircuitBreakerThreshold float64       `yaml:"circuit_breaker_threshold"`
	CooldownDuration        time.Duration `yaml:"cooldown_duration"`
}

// FeatureFlags is the set of boolean toggles recognized from the environment.
type FeatureFlags struct {
	CrossChainMonitoring bool `yaml:"enable_cross_chain_monitoring"`
	TriangularArbitrage  bool `yaml:"enable_triangular_arbitrage"`
	SimulationMode       bool `yaml:"enable_simulation_mode"`
	VerboseLogging       bool `yaml:"verbose_logging"`
}

// SchedulerConfig holds Worker Scheduler tunables.
type SchedulerConfig struct {
	Workers        int           `yaml:"workers"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	ReportInterval time.Duration `yaml:"report_interval"`
	ReportDir      string        `yaml:"report_dir"`
}

// Config is the single process-wide configuration struct. No component reads
// ambient globals; every constructor in this module takes the slice of
// Config it needs as an explicit argument.
type Config struct {
	Logging    LoggingConfig           `yaml:"logging"`
	PrivateKey string                  `yaml:"-"`
	Relay      RelayConfig             `yaml:"relay"`
	Risk       RiskConfig              `yaml:"risk"`
	Features   FeatureFlags            `yaml:"features"`
	Scheduler  SchedulerConfig         `yaml:"scheduler"`
	MinProfit  float64                 `yaml:"min_profit_threshold"`
	Chains     map[ChainID]ChainConfig `yaml:"chains"`
}

// Default returns the compiled-in baseline configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Relay: RelayConfig{
			FlashbotsRelay: "https://relay.flashbots.net",
			MEVShareURL:    "https://mev-share.flashbots.net",
		},
		Risk: RiskConfig{
			MaxSlippageBps:          500,
			MaxPositionSize:         0.15,
			GasFundingPercentage:    0.1,
			CircuitBreakerThreshold: 0.05,
			CooldownDuration:        30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Workers:        4,
			ScanInterval:   time.Second,
			ReportInterval: 60 * time.Second,
			ReportDir:      "./reports",
		},
		MinProfit: 0.01,
		Chains: map[ChainID]ChainConfig{
			ChainArbitrum: {
				ChainID:     ChainArbitrum,
				Name:        "arbitrum",
				CallTimeout: 5 * time.Second,
				MaxRetries:  3,
			},
			ChainOptimism: {
				ChainID:     ChainOptimism,
				Name:        "optimism",
				CallTimeout: 5 * time.Second,
				MaxRetries:  3,
			},
		},
	}
}

// Load reads an optional YAML file over the compiled-in defaults, then
// applies environment variable overrides per §6's recognized keys.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays the recognized environment variables from spec §6 onto
// cfg, mutating it in place.
func applyEnv(cfg *Config) {
	arb := cfg.Chains[ChainArbitrum]
	opt := cfg.Chains[ChainOptimism]

	setStr(&arb.RPCURL, "ARB_RPC")
	arb.RPCFallbacks = fallbacks("ARB_RPC_FALLBACK")
	setStr(&opt.RPCURL, "OPT_RPC")
	opt.RPCFallbacks = fallbacks("OPT_RPC_FALLBACK")
	setStr(&arb.BotContractAddress, "BOT_CONTRACT_ADDRESS")
	setStr(&opt.BotContractAddress, "OPT_BOT_CONTRACT_ADDRESS")
	setStr(&arb.BalancerVault, "BALANCER_VAULT_ADDRESS")
	setStr(&opt.BalancerVault, "OPT_BALANCER_VAULT_ADDRESS")

	cfg.Chains[ChainArbitrum] = arb
	cfg.Chains[ChainOptimism] = opt

	setStr(&cfg.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Relay.FlashbotsAuthKey, "FLASHBOTS_AUTH_KEY")
	setStr(&cfg.Relay.FlashbotsRelay, "FLASHBOTS_RELAY_URL")
	setStr(&cfg.Relay.MEVShareURL, "MEV_SHARE_URL")

	setBool(&cfg.Features.CrossChainMonitoring, "ENABLE_CROSS_CHAIN_MONITORING")
	setBool(&cfg.Features.TriangularArbitrage, "ENABLE_TRIANGULAR_ARBITRAGE")
	setBool(&cfg.Features.SimulationMode, "ENABLE_SIMULATION_MODE")
	setBool(&cfg.Features.VerboseLogging, "VERBOSE_LOGGING")
	if cfg.Features.VerboseLogging {
		cfg.Logging.Level = "debug"
	}

	setFloat(&cfg.MinProfit, "MIN_PROFIT_THRESHOLD")
	setIntBps(&cfg.Risk.MaxSlippageBps, "MAX_SLIPPAGE_BPS")
	setFloat(&cfg.Risk.MaxPositionSize, "MAX_POSITION_SIZE")
	setFloat(&cfg.Risk.GasFundingPercentage, "GAS_FUNDING_PERCENTAGE")
	setFloat(&cfg.Risk.CircuitBreakerThreshold, "CIRCUIT_BREAKER_THRESHOLD")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if parsed, err := strconv.ParseBool(v); err == nil {
		*dst = parsed
	}
}

func setFloat(dst *float64, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if parsed, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = parsed
	}
}

func setIntBps(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	}
}

// fallbacks collects ENV_FALLBACK_1, ENV_FALLBACK_2, ... until the first gap.
func fallbacks(prefix string) []string {
	var out []string
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", prefix, i))
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}

// Validate checks the minimal invariants required before the engine can
// start; a failure here is a ConfigInvalid fatal startup error.
func (c *Config) Validate() error {
	var missing []string
	for id, cc := range c.Chains {
		if strings.TrimSpace(cc.RPCURL) == "" {
			missing = append(missing, fmt.Sprintf("chain %d: rpc url", id))
		}
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, "PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config invalid: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
