package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/engine"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/position"
	"github.com/rustyeddy/railtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := New()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bar := market.Bar{Instrument: "EURUSD", Interval: market.Minute, Start: start, End: start.Add(time.Minute)}
	r.OnBar(bar)
	r.OnBar(bar)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.bars.WithLabelValues("EURUSD", market.Minute.String())))

	r.OnDecision(engine.Decision{Intent: engine.Intent{Instrument: "EURUSD", Role: dispatch.RoleExit}, Skipped: true})
	r.OnDecision(engine.Decision{
		Intent: engine.Intent{Instrument: "EURUSD"},
		Risk:   &risk.Outcome{Allowed: false},
	})
	r.OnDecision(engine.Decision{
		Intent:   engine.Intent{Instrument: "EURUSD"},
		Risk:     &risk.Outcome{Allowed: true, Units: 1000},
		Dispatch: &dispatch.Outcome{Status: dispatch.Accepted},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("EURUSD", "exit", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("EURUSD", "entry", "risk_blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("EURUSD", "entry", "accepted")))

	r.OnGate(risk.AlertBlockNewsBlackout, false)
	r.OnGate(risk.AlertBlockNewsBlackout, false)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.gates.WithLabelValues(risk.AlertBlockNewsBlackout, "false")))
}

func TestRecorderOrders(t *testing.T) {
	t.Parallel()

	r := New()
	req := broker.OrderRequest{Symbol: "GBPUSD", Side: market.Sell, Units: 1000}
	r.OnOrder(dispatch.Outcome{Status: dispatch.Rejected, Request: req})
	r.OnOrder(dispatch.Outcome{
		Status:  dispatch.Accepted,
		Request: req,
		Trade:   &position.Trade{Symbol: "GBPUSD", PnL: decimal.RequireFromString("-3.2")},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("GBPUSD", market.Sell.String(), "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trades.WithLabelValues("GBPUSD")))
	assert.InDelta(t, 3.2, testutil.ToFloat64(r.realized.WithLabelValues("GBPUSD", "loss")), 1e-9)
}

func TestRecorderTelemetryAndCache(t *testing.T) {
	t.Parallel()

	r := New()
	tel := risk.Telemetry{
		Mode:                  risk.ModeLive,
		Equity:                decimal.NewFromInt(99_000),
		PeakEquity:            decimal.NewFromInt(100_000),
		Drawdown:              decimal.NewFromInt(-1000),
		CooldownActive:        true,
		BrokerCapBlocksByGate: map[string]int64{"max_position_units": 3},
	}
	r.OnTelemetry(tel)
	assert.Equal(t, 99_000.0, testutil.ToFloat64(r.equity))
	assert.Equal(t, -1000.0, testutil.ToFloat64(r.drawdown))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cooldown))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.capBlocks.WithLabelValues("max_position_units")))
	assert.Equal(t, risk.ModeLive, r.Telemetry().Mode)

	r.OnCache(dispatch.CacheMetrics{OrderCacheSize: 4, CancelCacheSize: 1, TotalEvictions: 2})
	assert.Equal(t, 4.0, testutil.ToFloat64(r.cacheSize.WithLabelValues("order")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.evictions))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	r := New()
	r.OnBar(market.Bar{Instrument: "EURUSD", Interval: market.Minute})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `railtrader_bars_total{instrument="EURUSD",interval="`+market.Minute.String()+`"} 1`)
}
