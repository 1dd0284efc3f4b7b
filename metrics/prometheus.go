// Package metrics exports run counters to Prometheus. Every method is safe
// to call from the engine goroutine while the status server scrapes.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/engine"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/risk"
)

const Namespace = "railtrader"

type Recorder struct {
	reg *prometheus.Registry

	bars      *prometheus.CounterVec
	decisions *prometheus.CounterVec
	orders    *prometheus.CounterVec
	trades    *prometheus.CounterVec
	realized  *prometheus.CounterVec
	gates     *prometheus.CounterVec

	equity    prometheus.Gauge
	peak      prometheus.Gauge
	drawdown  prometheus.Gauge
	dailyPnL  prometheus.Gauge
	cooldown  prometheus.Gauge
	capBlocks *prometheus.GaugeVec

	cacheSize *prometheus.GaugeVec
	evictions prometheus.Gauge

	mu        sync.Mutex
	telemetry risk.Telemetry
}

// New registers the run collectors, plus the Go and process collectors, on
// a private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		bars: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bars_total",
			Help:      "Bars emitted to the journal",
		}, []string{"instrument", "interval"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decisions_total",
			Help:      "Strategy intents by outcome",
		}, []string{"instrument", "role", "outcome"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orders_total",
			Help:      "Orders sent to the adapter by result",
		}, []string{"instrument", "side", "status"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "trades_total",
			Help:      "Closed round trips",
		}, []string{"instrument"}),
		realized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "trade_pnl_abs_total",
			Help:      "Absolute realized P&L of closed trades, split by sign",
		}, []string{"instrument", "sign"}),
		gates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "risk_gate_hits_total",
			Help:      "Risk gate blocks and throttles",
		}, []string{"gate", "throttled"}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "equity",
			Help:      "Marked-to-market equity",
		}),
		peak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "peak_equity",
			Help:      "Highest equity seen",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "drawdown",
			Help:      "Equity minus peak equity",
		}),
		dailyPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "daily_pnl",
			Help:      "Realized plus unrealized P&L since UTC midnight",
		}),
		cooldown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "risk_cooldown_active",
			Help:      "1 while the loss streak cooldown is active",
		}),
		capBlocks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "risk_broker_cap_blocks",
			Help:      "Broker guardrail blocks by gate",
		}, []string{"gate"}),
		cacheSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "idempotency_cache_size",
			Help:      "Keys held by the idempotency cache",
		}, []string{"kind"}),
		evictions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "idempotency_evictions",
			Help:      "Keys evicted from the idempotency cache",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) OnBar(b market.Bar) {
	r.bars.WithLabelValues(b.Instrument, b.Interval.String()).Inc()
}

func (r *Recorder) OnDecision(d engine.Decision) {
	r.decisions.WithLabelValues(d.Intent.Instrument, d.Intent.Role.String(), outcome(d)).Inc()
}

func outcome(d engine.Decision) string {
	switch {
	case d.Skipped:
		return "skipped"
	case d.Risk != nil && !d.Risk.Allowed:
		return "risk_blocked"
	case d.Dispatch != nil:
		return d.Dispatch.Status.String()
	default:
		return "none"
	}
}

// OnOrder counts accepted and rejected dispatches.
func (r *Recorder) OnOrder(o dispatch.Outcome) {
	r.orders.WithLabelValues(o.Request.Symbol, o.Request.Side.String(), o.Status.String()).Inc()
	if o.Trade == nil {
		return
	}
	r.trades.WithLabelValues(o.Trade.Symbol).Inc()
	pnl := o.Trade.PnL.InexactFloat64()
	sign := "profit"
	if pnl < 0 {
		sign, pnl = "loss", -pnl
	}
	r.realized.WithLabelValues(o.Trade.Symbol, sign).Add(pnl)
}

func (r *Recorder) OnGate(gate string, throttled bool) {
	r.gates.WithLabelValues(gate, strconv.FormatBool(throttled)).Inc()
}

func (r *Recorder) OnTelemetry(t risk.Telemetry) {
	r.equity.Set(t.Equity.InexactFloat64())
	r.peak.Set(t.PeakEquity.InexactFloat64())
	r.drawdown.Set(t.Drawdown.InexactFloat64())
	r.dailyPnL.Set(t.DailyPnL.InexactFloat64())
	if t.CooldownActive {
		r.cooldown.Set(1)
	} else {
		r.cooldown.Set(0)
	}
	for gate, n := range t.BrokerCapBlocksByGate {
		r.capBlocks.WithLabelValues(gate).Set(float64(n))
	}

	r.mu.Lock()
	r.telemetry = t
	r.mu.Unlock()
}

func (r *Recorder) OnCache(m dispatch.CacheMetrics) {
	r.cacheSize.WithLabelValues(dispatch.KindOrder.String()).Set(float64(m.OrderCacheSize))
	r.cacheSize.WithLabelValues(dispatch.KindCancel.String()).Set(float64(m.CancelCacheSize))
	r.evictions.Set(float64(m.TotalEvictions))
}

// Telemetry returns the latest risk snapshot.
func (r *Recorder) Telemetry() risk.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.telemetry
}
