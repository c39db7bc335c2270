// Package metrics implements the Metrics component (A3): Prometheus
// counters/gauges for scan/opportunity/trade/breaker events. Grounded on the
// teacher's accounts-service/internal/metrics/metrics.go shape (a private
// registry, promauto-registered vectors, an Observe* method per event
// family, an http.Handler for the scrape endpoint) narrowed to the engine's
// own event set in place of HTTP/DB/Kafka metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus series the engine emits.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal          *prometheus.CounterVec
	scanDuration        *prometheus.HistogramVec
	opportunitiesFound  *prometheus.CounterVec
	opportunitiesBelowThreshold *prometheus.CounterVec
	tradesTotal         *prometheus.CounterVec
	tradeProfitWei      *prometheus.HistogramVec
	tradeLatency        *prometheus.HistogramVec
	bundleOutcomes      *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	breakerTrips        *prometheus.CounterVec
	workerActive        prometheus.Gauge
}

// New builds a Metrics registry with every series pre-registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		scansTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_scans_total",
			Help: "Total number of pathfinder scans run, by chain id.",
		}, []string{"chain_id"}),
		scanDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arb_scan_duration_seconds",
			Help:    "Duration of a single pathfinder scan.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_id"}),
		opportunitiesFound: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_opportunities_found_total",
			Help: "Opportunities emitted by the pathfinder, by chain id and complexity.",
		}, []string{"chain_id", "complexity"}),
		opportunitiesBelowThreshold: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_opportunities_below_threshold_total",
			Help: "Opportunities vetoed by the adaptive profit thresholder or the gas pricer's should-execute check.",
		}, []string{"chain_id"}),
		tradesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_trades_total",
			Help: "Completed trade attempts, by chain id and outcome.",
		}, []string{"chain_id", "outcome"}),
		tradeProfitWei: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arb_trade_net_profit_wei",
			Help:    "Net profit of successful trades, in wei of the native token.",
			Buckets: prometheus.ExponentialBuckets(1e12, 4, 12),
		}, []string{"chain_id"}),
		tradeLatency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arb_trade_latency_ms",
			Help:    "Wall-clock milliseconds from opportunity dispatch to execution result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_id"}),
		bundleOutcomes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_bundle_outcomes_total",
			Help: "Relay bundle submission outcomes, by chain id and outcome/fallback.",
		}, []string{"chain_id", "outcome"}),
		breakerState: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "arb_circuit_breaker_state",
			Help: "Circuit breaker state: 0=armed, 1=cooling_down, 2=tripped.",
		}, []string{"chain_id"}),
		breakerTrips: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "arb_circuit_breaker_trips_total",
			Help: "Circuit breaker trip events, by reason.",
		}, []string{"reason"}),
		workerActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "arb_workers_active",
			Help: "Number of worker units currently running.",
		}),
	}
	return m
}

// Handler returns an HTTP handler for the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records one completed pathfinder scan.
func (m *Metrics) ObserveScan(chainID int64, duration time.Duration) {
	label := chainIDLabel(chainID)
	m.scansTotal.WithLabelValues(label).Inc()
	m.scanDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveOpportunity records one opportunity emitted by the pathfinder.
func (m *Metrics) ObserveOpportunity(chainID int64, complexity string) {
	m.opportunitiesFound.WithLabelValues(chainIDLabel(chainID), complexity).Inc()
}

// ObserveBelowThreshold records one opportunity vetoed by the thresholder or
// by the gas pricer's should-execute check.
func (m *Metrics) ObserveBelowThreshold(chainID int64) {
	m.opportunitiesBelowThreshold.WithLabelValues(chainIDLabel(chainID)).Inc()
}

// ObserveTrade records one completed trade attempt.
func (m *Metrics) ObserveTrade(chainID int64, success bool, netProfitWei float64, latency time.Duration) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	label := chainIDLabel(chainID)
	m.tradesTotal.WithLabelValues(label, outcome).Inc()
	m.tradeLatency.WithLabelValues(label).Observe(float64(latency.Milliseconds()))
	if success && netProfitWei > 0 {
		m.tradeProfitWei.WithLabelValues(label).Observe(netProfitWei)
	}
}

// ObserveBundleOutcome records one relay bundle's terminal state or fallback
// choice.
func (m *Metrics) ObserveBundleOutcome(chainID int64, outcome string) {
	m.bundleOutcomes.WithLabelValues(chainIDLabel(chainID), outcome).Inc()
}

// SetBreakerState reports the circuit breaker's current state as a gauge.
func (m *Metrics) SetBreakerState(chainID int64, state string) {
	var v float64
	switch state {
	case "cooling_down":
		v = 1
	case "tripped":
		v = 2
	}
	m.breakerState.WithLabelValues(chainIDLabel(chainID)).Set(v)
}

// ObserveBreakerTrip records a trip event for each surfaced reason.
func (m *Metrics) ObserveBreakerTrip(reasons []string) {
	for _, r := range reasons {
		m.breakerTrips.WithLabelValues(r).Inc()
	}
}

// SetWorkersActive reports the current worker pool size.
func (m *Metrics) SetWorkersActive(n int) {
	m.workerActive.Set(float64(n))
}

func chainIDLabel(chainID int64) string {
	switch chainID {
	case 42161:
		return "arbitrum"
	case 10:
		return "optimism"
	default:
		return "unknown"
	}
}
