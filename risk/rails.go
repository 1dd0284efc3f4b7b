// Package risk gates new entries against session, P&L, drawdown, news,
// exposure and cooldown rails.
package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/news"
	"github.com/rustyeddy/railtrader/position"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// DefaultStartingEquity applies when Options.StartingEquity is not positive.
var DefaultStartingEquity = decimal.NewFromInt(100_000)

// PositionUnits is one open position's signed size.
type PositionUnits struct {
	Symbol string
	Units  int64
}

// Entry is a candidate new-entry order.
type Entry struct {
	Instrument   string
	Timeframe    string
	DecisionTime time.Time
	DecisionID   string
	Side         market.Side
	Units        int64
	Open         []PositionUnits

	// Signed units of orders scheduled for the same bar but not yet filled.
	PendingUnits int64
}

// Payload is the structured body of an alert event.
type Payload map[string]any

type Alert struct {
	EventType string
	Payload   Payload
	Throttled bool
}

// Outcome is the verdict for one Entry. Alerts are in gate order.
type Outcome struct {
	Allowed bool
	Units   int64
	Alerts  []Alert
}

func permitted(units int64) Outcome {
	return Outcome{Allowed: true, Units: units}
}

// Book is the position state UpdateBar marks to market.
type Book interface {
	OpenPositions() []position.Open
	Completed() []position.Trade
}

type Options struct {
	Config     Config
	ConfigHash string
	News       []news.Event

	StartingEquity decimal.Decimal
	BrokerCaps     *BrokerCaps

	// Clock drives the cooldown window. Without one the end of the latest
	// bar is used.
	Clock market.Clock

	OnTelemetry func(Telemetry)
	OnGate      func(gate string, throttled bool)
	Logger      log.FieldLogger
}

type Runtime struct {
	cfg        Config
	mode       Mode
	configHash string
	news       []news.Event
	clock      market.Clock
	brokerCaps *BrokerCaps
	onTelem    func(Telemetry)
	onGate     func(string, bool)
	logger     log.FieldLogger

	netCaps    map[string]int64
	symbolCaps map[string]int64

	lastClose  map[string]decimal.Decimal
	lastBarEnd time.Time

	startingEquity  decimal.Decimal
	equity          decimal.Decimal
	peak            decimal.Decimal
	realized        decimal.Decimal
	unrealized      decimal.Decimal
	dailyRealized   decimal.Decimal
	dailyUnrealized decimal.Decimal

	caps     capState
	cooldown cooldownState
}

func New(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	mode, _ := ParseMode(string(opts.Config.Mode))

	start := opts.StartingEquity
	if !start.IsPositive() {
		start = DefaultStartingEquity
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	r := &Runtime{
		cfg:            opts.Config,
		mode:           mode,
		configHash:     opts.ConfigHash,
		news:           opts.News,
		clock:          opts.Clock,
		brokerCaps:     opts.BrokerCaps,
		onTelem:        opts.OnTelemetry,
		onGate:         opts.OnGate,
		logger:         logger,
		netCaps:        normalizeCaps(opts.Config.MaxNetExposureBySymbol, false),
		symbolCaps:     normalizeCaps(opts.Config.SymbolUnitCaps, true),
		lastClose:      make(map[string]decimal.Decimal),
		startingEquity: start,
		equity:         start,
		peak:           start,
		caps:           newCapState(),
	}
	return r, nil
}

func (r *Runtime) Mode() Mode { return r.mode }

// ReplaceNews swaps the calendar used by the blackout gate.
func (r *Runtime) ReplaceNews(events []news.Event) {
	r.news = events
}

func (r *Runtime) DailyPnL() decimal.Decimal { return r.dailyRealized.Add(r.dailyUnrealized) }
func (r *Runtime) Equity() decimal.Decimal   { return r.equity }
func (r *Runtime) Peak() decimal.Decimal     { return r.peak }

// Drawdown is equity minus peak equity, never positive.
func (r *Runtime) Drawdown() decimal.Decimal { return r.equity.Sub(r.peak) }

func (r *Runtime) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return r.lastBarEnd
}

// UpdateBar marks the book to the bar's close and refreshes equity, daily
// P&L, cooldown and exposure usage. Daily P&L counts trades closed since the
// UTC midnight preceding the bar end.
func (r *Runtime) UpdateBar(bar market.Bar, book Book) {
	r.lastClose[bar.Instrument] = bar.Close
	r.lastBarEnd = bar.End.UTC()
	end := r.lastBarEnd
	anchor := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var open []position.Open
	var completed []position.Trade
	if book != nil {
		open = book.OpenPositions()
		completed = book.Completed()
	}

	realized, daily := decimal.Zero, decimal.Zero
	for _, t := range completed {
		realized = realized.Add(t.PnL)
		if !t.CloseTime.Before(anchor) {
			daily = daily.Add(t.PnL)
		}
	}

	unrealized := decimal.Zero
	for _, p := range open {
		last, ok := r.lastClose[p.Symbol]
		if !ok {
			continue
		}
		dir := decimal.NewFromInt(p.Side.Direction())
		unrealized = unrealized.Add(last.Sub(p.EntryPrice).Mul(dir).Mul(decimal.NewFromInt(p.Units)))
	}
	unrealized = unrealized.Round(2)

	r.realized = realized
	r.unrealized = unrealized
	r.equity = r.startingEquity.Add(realized).Add(unrealized)
	if r.equity.GreaterThan(r.peak) {
		r.peak = r.equity
	}
	r.dailyRealized = daily
	r.dailyUnrealized = unrealized

	r.updateCooldown(completed)
	r.setUsage(openUnits(open))
	r.updateBrokerLoss()
	r.publish()
}

// EvaluateNewEntry runs the gates for e in order. Every gate runs, so each
// breached gate is reported rather than only the first. Exits never come
// through here.
func (r *Runtime) EvaluateNewEntry(e Entry) Outcome {
	if r.mode == ModeOff {
		r.publish()
		return permitted(e.Units)
	}

	r.setUsage(e.Open)
	r.updateBrokerLoss()
	r.refreshCooldown()

	if e.Units <= 0 {
		r.publish()
		return permitted(e.Units)
	}

	ev := evaluation{entry: e, ts: e.DecisionTime.UTC(), allowed: true, units: e.Units}

	r.sessionGate(&ev)
	r.dailyCapGate(&ev)
	r.drawdownGate(&ev)
	r.newsGate(&ev)
	r.netExposureGate(&ev)

	live := r.mode == ModeLive
	if live {
		r.positionCapsLive(&ev)
		if ev.allowed {
			r.cooldownLive(&ev)
		}
	}
	r.positionCapsSoft(&ev)
	r.cooldownSoft(&ev)
	r.brokerGuardrail(&ev, live)

	r.publish()

	out := Outcome{Allowed: ev.allowed, Alerts: ev.alerts}
	if ev.allowed {
		out.Units = ev.units
	}
	if len(ev.alerts) > 0 {
		r.logger.WithFields(log.Fields{
			"decision_id": e.DecisionID,
			"instrument":  e.Instrument,
			"allowed":     out.Allowed,
			"units":       out.Units,
			"alerts":      len(ev.alerts),
		}).Debug("risk rails evaluated entry")
	}
	return out
}

type evaluation struct {
	entry   Entry
	ts      time.Time
	allowed bool
	units   int64
	alerts  []Alert
}

func (r *Runtime) emit(ev *evaluation, eventType string, throttled bool, observed, limit any, extra Payload) {
	p := Payload{
		"instrument":  ev.entry.Instrument,
		"timeframe":   ev.entry.Timeframe,
		"ts":          ev.ts,
		"decision_id": ev.entry.DecisionID,
		"observed":    observed,
		"cap":         limit,
		"config_hash": r.configHash,
	}
	for k, v := range extra {
		p[k] = v
	}
	ev.alerts = append(ev.alerts, Alert{EventType: eventType, Payload: p, Throttled: throttled})
}

func (r *Runtime) gate(name string, throttled bool) {
	if r.onGate != nil {
		r.onGate(name, throttled)
	}
}

func (r *Runtime) sessionGate(ev *evaluation) {
	w := r.cfg.SessionWindow
	if w == nil || w.Contains(ev.ts) {
		return
	}
	r.emit(ev, AlertBlockSessionWindow, false, Of(ev.ts).String(), fmt.Sprintf("%s-%s", w.Start, w.End), Payload{
		"start_utc": w.Start.String(),
		"end_utc":   w.End.String(),
	})
	r.gate("session_window", false)
	ev.allowed = false
}

func (r *Runtime) dailyCapGate(ev *evaluation) {
	dc := r.cfg.DailyCap
	if dc == nil {
		return
	}
	pnl := r.DailyPnL()
	switch {
	case dc.Loss != nil && pnl.LessThanOrEqual(*dc.Loss):
		r.emit(ev, AlertBlockDailyLossCap, false, pnl, *dc.Loss, Payload{
			"pnl":            pnl,
			"loss_threshold": *dc.Loss,
		})
		r.gate("daily_loss_cap", false)
		ev.allowed = false

	case dc.Gain != nil && pnl.GreaterThanOrEqual(*dc.Gain):
		if dc.Action == DailyCapHalfSize {
			original := ev.units
			ev.units = max(1, ev.units/2)
			r.emit(ev, AlertThrottleDailyGainCap, true, pnl, *dc.Gain, Payload{
				"pnl":            pnl,
				"gain_threshold": *dc.Gain,
				"original_units": original,
				"adjusted_units": ev.units,
			})
			r.gate("daily_gain_cap", true)
			return
		}
		r.emit(ev, AlertBlockDailyGainCap, false, pnl, *dc.Gain, Payload{
			"pnl":            pnl,
			"gain_threshold": *dc.Gain,
		})
		r.gate("daily_gain_cap", false)
		ev.allowed = false
	}
}

func (r *Runtime) drawdownGate(ev *evaluation) {
	gd := r.cfg.GlobalDrawdown
	if gd == nil {
		return
	}
	dd := r.Drawdown()
	if !dd.LessThan(gd.MaxDrawdown) {
		return
	}
	r.emit(ev, AlertBlockGlobalDrawdown, false, dd, gd.MaxDrawdown, Payload{
		"drawdown":    dd,
		"max_dd":      gd.MaxDrawdown,
		"equity":      r.equity,
		"peak_equity": r.peak,
	})
	r.gate("global_drawdown", false)
	ev.allowed = false
}

func (r *Runtime) newsGate(ev *evaluation) {
	nb := r.cfg.NewsBlackout
	if nb == nil || !nb.Enabled {
		return
	}
	before := time.Duration(nb.MinutesBefore) * time.Minute
	after := time.Duration(nb.MinutesAfter) * time.Minute
	hit, ok := news.Blackout(r.news, ev.entry.Instrument, ev.ts, before, after)
	if !ok {
		return
	}
	r.emit(ev, AlertBlockNewsBlackout, false, hit.Time, fmt.Sprintf("-%dm/+%dm", nb.MinutesBefore, nb.MinutesAfter), Payload{
		"event_utc":      hit.Time,
		"impact":         hit.Impact,
		"tags":           hit.Tags,
		"minutes_before": nb.MinutesBefore,
		"minutes_after":  nb.MinutesAfter,
	})
	r.gate("news_blackout", false)
	ev.allowed = false
}
