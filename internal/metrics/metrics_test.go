package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_ObserveScanIncrementsCounterAndHistogram(t *testing.T) {
	m := New()
	m.ObserveScan(42161, 50*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `arb_scans_total{chain_id="arbitrum"} 1`)
	assert.Contains(t, body, "arb_scan_duration_seconds")
}

func TestMetrics_ChainIDLabelMapsKnownAndUnknownChains(t *testing.T) {
	assert.Equal(t, "arbitrum", chainIDLabel(42161))
	assert.Equal(t, "optimism", chainIDLabel(10))
	assert.Equal(t, "unknown", chainIDLabel(1))
}

func TestMetrics_ObserveTradeRecordsOutcomeAndProfitOnlyOnSuccess(t *testing.T) {
	m := New()
	m.ObserveTrade(42161, true, 5e12, 100*time.Millisecond)
	m.ObserveTrade(42161, false, 0, 10*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `arb_trades_total{chain_id="arbitrum",outcome="succeeded"} 1`)
	assert.Contains(t, body, `arb_trades_total{chain_id="arbitrum",outcome="failed"} 1`)
	assert.True(t, strings.Contains(body, "arb_trade_net_profit_wei"))
}

func TestMetrics_BreakerStateGaugeReflectsLatestValue(t *testing.T) {
	m := New()
	m.SetBreakerState(10, "tripped")

	body := scrape(t, m)
	assert.Contains(t, body, `arb_circuit_breaker_state{chain_id="optimism"} 2`)
}

func TestMetrics_ObserveBreakerTripIncrementsPerReason(t *testing.T) {
	m := New()
	m.ObserveBreakerTrip([]string{"drawdown", "consecutive_losses"})

	body := scrape(t, m)
	assert.Contains(t, body, `arb_circuit_breaker_trips_total{reason="drawdown"} 1`)
	assert.Contains(t, body, `arb_circuit_breaker_trips_total{reason="consecutive_losses"} 1`)
}

func TestMetrics_SetWorkersActiveReportsGauge(t *testing.T) {
	m := New()
	m.SetWorkersActive(6)

	body := scrape(t, m)
	assert.Contains(t, body, "arb_workers_active 6")
}
