// Package risk implements the Risk Manager (C11): a circuit-breaker state
// machine plus a per-trade gate, tracking a ring buffer of recent trade
// outcomes. Grounded on the teacher's internal/defi/mev_protection.go
// service shape (mutex-guarded state, a bounded detection map, logger
// injection) generalized from MEV-attack tracking to P&L/exposure tracking.
package risk

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/l2arb/engine/pkg/bigmath"
	"github.com/l2arb/engine/pkg/logger"
)

// State is a circuit breaker state.
type State string

const (
	StateArmed       State = "armed"
	StateTripped     State = "tripped"
	StateCoolingDown State = "cooling_down"
)

// Level is a qualitative risk assessment.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

const (
	maxTradeHistory   = 10000
	trimTradeHistory  = 5000
	defaultCooldown   = 30 * time.Minute

	drawdownTripLimit     = 0.05
	dailyLossTripLimit    = 0.08
	weeklyLossTripLimit   = 0.15
	consecutiveFailTrip   = 5
	hourlySuccessFloor    = 0.15
	hourlySuccessMinTrades = 20
	gasToCapitalTrip      = 0.25

	resumeDrawdownFactor    = 0.7
	resumeSuccessMultiplier = 1.2
	resumeMinTotalTrades    = 10

	perTradeSizeCap    = 0.15
	perTradeGasCap     = 0.25
	chainExposureCap   = 0.40
	tokenExposureCap   = 0.25

	baseMinConfidence     = 0.75
	highRiskMinConfidence = 0.80
	criticalMinConfidence = 0.95
)

// TradeOutcome is one completed trade's contribution to the ring buffer.
type TradeOutcome struct {
	Timestamp  time.Time
	ChainID    int64
	Token      string
	ProfitWei  bigmath.SignedInt
	GasCostWei *big.Int
	Success    bool
}

// Metrics is a point-in-time snapshot of derived risk metrics.
type Metrics struct {
	ConsecutiveFailures int
	Drawdown            float64
	DailyLossRatio      float64
	WeeklyLossRatio     float64
	HourlySuccessRate   float64
	GasToCapitalRatio   float64
	AverageMargin       float64
	TotalTrades         int
}

// Decision is the per-trade gate's verdict.
type Decision struct {
	Approved           bool
	RiskLevel          Level
	RequiredConfidence float64
	MaxPositionSizeWei *big.Int
	Message            string
	Reasons            []string
}

// Manager owns the circuit breaker state machine and trade history.
type Manager struct {
	log *logger.Logger

	mu               sync.Mutex
	state            State
	trippedAt        time.Time
	cooldown         time.Duration
	overridePermitted bool
	trips            []string

	capitalWei       *big.Int
	peakCapitalWei   *big.Int
	chainExposure    map[int64]*big.Int
	tokenExposure    map[string]*big.Int

	history []TradeOutcome
}

// New builds a Manager armed from the start, tracking capitalWei of
// starting capital in the native token's base unit.
func New(log *logger.Logger, capitalWei *big.Int) *Manager {
	return &Manager{
		log:            log,
		state:          StateArmed,
		cooldown:       defaultCooldown,
		capitalWei:     new(big.Int).Set(capitalWei),
		peakCapitalWei: new(big.Int).Set(capitalWei),
		chainExposure:  make(map[int64]*big.Int),
		tokenExposure:  make(map[string]*big.Int),
	}
}

// State returns the current circuit breaker state, first applying any
// resume the elapsed cooldown allows.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResume()
	return m.state
}

// AssessTradeRisk implements the per-trade gate (§4.11). When the breaker is
// tripped, every call returns approved=false, riskLevel=critical.
func (m *Manager) AssessTradeRisk(chainID int64, token string, tradeSizeWei, gasCostWei, expectedProfitWei *big.Int) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResume()

	if m.state == StateTripped || m.state == StateCoolingDown {
		return Decision{
			Approved:  false,
			RiskLevel: LevelCritical,
			Message:   "Trading paused",
			Reasons:   append([]string(nil), m.trips...),
		}
	}

	reasons := make([]string, 0, 4)
	sizeRatio := bigmath.Ratio(tradeSizeWei, m.capitalWei)
	if sizeRatio > perTradeSizeCap {
		reasons = append(reasons, "trade size exceeds capital cap")
	}

	if expectedProfitWei != nil && expectedProfitWei.Sign() > 0 && gasCostWei != nil {
		if gasRatio := bigmath.Ratio(gasCostWei, expectedProfitWei); gasRatio > perTradeGasCap {
			reasons = append(reasons, fmt.Sprintf("Gas ratio too high: %.0f%% > %.0f%%", gasRatio*100, perTradeGasCap*100))
		}
	}

	chainExp := m.chainExposure[chainID]
	if chainExp == nil {
		chainExp = big.NewInt(0)
	}
	projectedChain := new(big.Int).Add(chainExp, tradeSizeWei)
	if bigmath.Ratio(projectedChain, m.capitalWei) > chainExposureCap {
		reasons = append(reasons, "chain exposure exceeds cap")
	}

	tokenExp := m.tokenExposure[token]
	if tokenExp == nil {
		tokenExp = big.NewInt(0)
	}
	if bigmath.Ratio(tokenExp, m.capitalWei) > tokenExposureCap {
		reasons = append(reasons, "token exposure exceeds cap")
	}

	if len(reasons) > 0 {
		return Decision{Approved: false, RiskLevel: LevelHigh, RequiredConfidence: highRiskMinConfidence, Reasons: reasons, Message: "rejected by per-trade gate"}
	}

	level := LevelLow
	required := baseMinConfidence
	if sizeRatio > perTradeSizeCap/2 {
		level = LevelMedium
	}
	if sizeRatio > perTradeSizeCap*0.8 {
		level = LevelHigh
		required = highRiskMinConfidence
	}

	maxSize := m.maxSafePositionSize(chainID, token)
	return Decision{Approved: true, RiskLevel: level, RequiredConfidence: required, MaxPositionSizeWei: maxSize}
}

// maxSafePositionSize derives the tightest binding limit among the
// per-trade caps, assuming m.mu is already held.
func (m *Manager) maxSafePositionSize(chainID int64, token string) *big.Int {
	bySize := bigmath.MulRatio(m.capitalWei, perTradeSizeCap)

	chainExp := m.chainExposure[chainID]
	if chainExp == nil {
		chainExp = big.NewInt(0)
	}
	chainRoom := new(big.Int).Sub(bigmath.MulRatio(m.capitalWei, chainExposureCap), chainExp)
	if chainRoom.Sign() < 0 {
		chainRoom = big.NewInt(0)
	}

	tokenExp := m.tokenExposure[token]
	if tokenExp == nil {
		tokenExp = big.NewInt(0)
	}
	tokenRoom := new(big.Int).Sub(bigmath.MulRatio(m.capitalWei, tokenExposureCap), tokenExp)
	if tokenRoom.Sign() < 0 {
		tokenRoom = big.NewInt(0)
	}

	return bigmath.Min(bySize, bigmath.Min(chainRoom, tokenRoom))
}

// UpdateAndCheck appends a completed trade to the ring buffer, recomputes
// derived metrics, updates exposures, and evaluates trip conditions.
func (m *Manager) UpdateAndCheck(o TradeOutcome, tradeSizeWei *big.Int) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, o)
	if len(m.history) > maxTradeHistory {
		m.history = append([]TradeOutcome(nil), m.history[len(m.history)-trimTradeHistory:]...)
	}

	if !o.Success {
		m.capitalWei = new(big.Int).Sub(m.capitalWei, o.GasCostWei)
	} else if o.ProfitWei.IsNegative() {
		m.capitalWei = new(big.Int).Sub(m.capitalWei, o.ProfitWei.Mag)
	} else {
		m.capitalWei = new(big.Int).Add(m.capitalWei, o.ProfitWei.Mag)
	}
	if m.capitalWei.Sign() < 0 {
		m.capitalWei = big.NewInt(0)
	}
	if m.capitalWei.Cmp(m.peakCapitalWei) > 0 {
		m.peakCapitalWei = new(big.Int).Set(m.capitalWei)
	}

	exp := m.chainExposure[o.ChainID]
	if exp == nil {
		exp = big.NewInt(0)
	}
	m.chainExposure[o.ChainID] = new(big.Int).Add(exp, tradeSizeWei)

	texp := m.tokenExposure[o.Token]
	if texp == nil {
		texp = big.NewInt(0)
	}
	m.tokenExposure[o.Token] = new(big.Int).Add(texp, tradeSizeWei)

	metrics := m.computeMetrics()
	m.evaluateTripConditions(metrics)
	return metrics
}

// computeMetrics recomputes the derived snapshot from history. Assumes m.mu
// is already held.
func (m *Manager) computeMetrics() Metrics {
	now := time.Now()
	var consecutiveFailures int
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Success {
			break
		}
		consecutiveFailures++
	}

	// Drawdown against peak capital: (peak - current) / peak. The teacher's
	// source computed this inverted; this is the corrected form.
	drawdown := 0.0
	if m.peakCapitalWei.Sign() > 0 {
		diff := new(big.Int).Sub(m.peakCapitalWei, m.capitalWei)
		if diff.Sign() > 0 {
			drawdown = bigmath.Ratio(diff, m.peakCapitalWei)
		}
	}

	var dailyLoss, weeklyLoss big.Int
	var hourlyTotal, hourlySuccess int
	var marginSum float64
	var marginCount int
	var last20GasSum, last20ProfitSum big.Int

	last20Start := 0
	if len(m.history) > 20 {
		last20Start = len(m.history) - 20
	}

	for i, t := range m.history {
		age := now.Sub(t.Timestamp)
		if !t.Success {
			if age <= 24*time.Hour {
				dailyLoss.Add(&dailyLoss, t.GasCostWei)
			}
			if age <= 7*24*time.Hour {
				weeklyLoss.Add(&weeklyLoss, t.GasCostWei)
			}
		} else if t.ProfitWei.IsNegative() {
			if age <= 24*time.Hour {
				dailyLoss.Add(&dailyLoss, t.ProfitWei.Mag)
			}
			if age <= 7*24*time.Hour {
				weeklyLoss.Add(&weeklyLoss, t.ProfitWei.Mag)
			}
		}

		if age <= time.Hour {
			hourlyTotal++
			if t.Success {
				hourlySuccess++
			}
		}

		if t.Success && !t.ProfitWei.IsNegative() && t.GasCostWei.Sign() > 0 {
			marginSum += bigmath.Ratio(t.ProfitWei.Mag, t.GasCostWei)
			marginCount++
		}

		if i >= last20Start {
			last20GasSum.Add(&last20GasSum, t.GasCostWei)
			if t.Success {
				last20ProfitSum.Add(&last20ProfitSum, t.ProfitWei.Unsigned())
			}
		}
	}

	hourlySuccessRate := 1.0
	if hourlyTotal > 0 {
		hourlySuccessRate = float64(hourlySuccess) / float64(hourlyTotal)
	}

	gasToCapital := 0.0
	if m.capitalWei.Sign() > 0 {
		gasToCapital = bigmath.Ratio(&last20GasSum, m.capitalWei)
	}

	avgMargin := 0.0
	if marginCount > 0 {
		avgMargin = marginSum / float64(marginCount)
	}

	return Metrics{
		ConsecutiveFailures: consecutiveFailures,
		Drawdown:            drawdown,
		DailyLossRatio:      bigmath.Ratio(&dailyLoss, m.capitalWei),
		WeeklyLossRatio:     bigmath.Ratio(&weeklyLoss, m.capitalWei),
		HourlySuccessRate:   hourlySuccessRate,
		GasToCapitalRatio:   gasToCapital,
		AverageMargin:       avgMargin,
		TotalTrades:         len(m.history),
	}
}

// evaluateTripConditions checks the five trip conditions and transitions
// Armed -> Tripped if any fires. Assumes m.mu is already held.
func (m *Manager) evaluateTripConditions(metrics Metrics) {
	if m.state != StateArmed {
		return
	}

	var trips []string
	if metrics.Drawdown > drawdownTripLimit {
		trips = append(trips, "drawdown exceeds 5% of peak capital")
	}
	if metrics.DailyLossRatio > dailyLossTripLimit {
		trips = append(trips, "daily loss exceeds 8% of capital")
	}
	if metrics.WeeklyLossRatio > weeklyLossTripLimit {
		trips = append(trips, "weekly loss exceeds 15% of capital")
	}
	if metrics.ConsecutiveFailures >= consecutiveFailTrip {
		trips = append(trips, fmt.Sprintf("Too many consecutive failures: %d", metrics.ConsecutiveFailures))
	}
	if metrics.TotalTrades >= hourlySuccessMinTrades && metrics.HourlySuccessRate < hourlySuccessFloor {
		trips = append(trips, "1h success rate below 15%")
	}
	if metrics.GasToCapitalRatio > gasToCapitalTrip {
		trips = append(trips, "gas-to-capital ratio exceeds 25%")
	}

	if len(trips) == 0 {
		return
	}

	m.state = StateTripped
	m.trippedAt = time.Now()
	m.trips = trips
	m.overridePermitted = m.manualOverrideAllowedAtTrip(metrics)
	if m.log != nil {
		m.log.Warn("circuit breaker tripped", zap.Strings("reasons", trips))
	}
}

// manualOverrideAllowedAtTrip decides, at the moment of tripping, whether a
// manual override will later be honored. A breaker tripped purely on
// transient success-rate noise (no hard capital-loss condition) permits
// override; one tripped on an actual drawdown or loss limit does not.
func (m *Manager) manualOverrideAllowedAtTrip(metrics Metrics) bool {
	return metrics.Drawdown <= drawdownTripLimit && metrics.DailyLossRatio <= dailyLossTripLimit && metrics.WeeklyLossRatio <= weeklyLossTripLimit
}

// maybeResume transitions Tripped -> CoolingDown -> Armed once the cooldown
// has elapsed and the resume conditions hold. Assumes m.mu is already held.
func (m *Manager) maybeResume() {
	if m.state != StateTripped && m.state != StateCoolingDown {
		return
	}
	if time.Since(m.trippedAt) < m.cooldown {
		return
	}
	m.state = StateCoolingDown

	metrics := m.computeMetrics()
	resumeOK := metrics.ConsecutiveFailures == 0 &&
		metrics.Drawdown < resumeDrawdownFactor*drawdownTripLimit &&
		(metrics.TotalTrades < resumeMinTotalTrades || metrics.HourlySuccessRate > resumeSuccessMultiplier*hourlySuccessFloor)

	if resumeOK {
		m.state = StateArmed
		m.trips = nil
		if m.log != nil {
			m.log.Info("circuit breaker resumed to armed")
		}
	}
}

// Override forces the breaker back to Armed if, and only if, the state at
// trip time declared this permissible.
func (m *Manager) Override() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateTripped && m.state != StateCoolingDown {
		return true
	}
	if !m.overridePermitted {
		return false
	}
	m.state = StateArmed
	m.trips = nil
	return true
}

// TripReasons returns the reasons surfaced at the last trip, if any.
func (m *Manager) TripReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.trips...)
}
