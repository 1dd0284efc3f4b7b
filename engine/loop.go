package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/journal"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/risk"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type barPayload struct {
	InstrumentID    string          `json:"instrument_id"`
	IntervalSeconds int64           `json:"interval_seconds"`
	StartUTC        time.Time       `json:"start_utc"`
	EndUTC          time.Time       `json:"end_utc"`
	Open            decimal.Decimal `json:"open"`
	High            decimal.Decimal `json:"high"`
	Low             decimal.Decimal `json:"low"`
	Close           decimal.Decimal `json:"close"`
	Volume          decimal.Decimal `json:"volume"`
}

// Run consumes the tick source until it is exhausted, ctx is done or a step
// fails. Bars still in progress when the stream ends are not emitted.
func (l *Loop) Run(ctx context.Context, src TickSource) error {
	for {
		if err := ctx.Err(); err != nil {
			l.logger.WithField("ticks", l.stats.Ticks).Info("run cancelled")
			return err
		}
		l.drainNews()

		tick, ok, err := src.Next()
		if err != nil {
			return fmt.Errorf("engine: read tick: %w", err)
		}
		if !ok {
			break
		}
		l.stats.Ticks++

		if _, err := l.opts.Clock.Observe(tick.Time); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		closed, err := l.opts.Bars.Route(tick)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		for _, bar := range closed {
			if err := l.onBar(ctx, bar); err != nil {
				return fmt.Errorf("engine: bar %s: %w", bar.Key(), err)
			}
		}
	}

	l.logger.WithFields(log.Fields{
		"ticks":      l.stats.Ticks,
		"bars":       l.stats.Bars,
		"duplicates": l.stats.Duplicates,
		"trades":     l.stats.Trades,
	}).Info("run complete")
	return nil
}

func (l *Loop) drainNews() {
	if l.opts.News == nil || l.opts.Risk == nil {
		return
	}
	for {
		select {
		case evs, ok := <-l.opts.News:
			if !ok {
				l.opts.News = nil
				return
			}
			l.opts.Risk.ReplaceNews(evs)
			l.logger.WithField("events", len(evs)).Debug("news calendar replaced")
		default:
			return
		}
	}
}

func (l *Loop) onBar(ctx context.Context, bar market.Bar) error {
	key := bar.Key()
	if l.tracker.Seen(key) {
		l.stats.Duplicates++
		return nil
	}
	l.tracker.Add(key)
	l.stats.Bars++

	err := l.opts.Events.Emit(ctx, bar.End, EventBar, barPayload{
		InstrumentID:    bar.Instrument,
		IntervalSeconds: int64(bar.Interval.Seconds()),
		StartUTC:        bar.Start,
		EndUTC:          bar.End,
		Open:            bar.Open,
		High:            bar.High,
		Low:             bar.Low,
		Close:           bar.Close,
		Volume:          bar.Volume,
	})
	if err != nil {
		return err
	}
	if l.opts.OnBar != nil {
		l.opts.OnBar(bar)
	}
	if l.opts.Risk != nil {
		l.opts.Risk.UpdateBar(bar, l.opts.Positions)
	}

	intents := l.opts.Strategy.Due(bar.Instrument, bar.Start, bar.End)
	for i, in := range intents {
		if err := l.decide(ctx, bar, in, pendingAfter(intents[i+1:])); err != nil {
			return fmt.Errorf("%s: %w", in.DecisionID, err)
		}
	}

	if err := l.opts.Store.Save(l.opts.RunID, l.tracker); err != nil {
		return fmt.Errorf("save bar snapshot: %w", err)
	}
	return nil
}

// pendingAfter sums the exposure of entries queued behind the current one.
func pendingAfter(rest []Intent) int64 {
	var n int64
	for _, in := range rest {
		if in.Role == dispatch.RoleEntry {
			n += in.SignedUnits
		}
	}
	return n
}

func (l *Loop) decide(ctx context.Context, bar market.Bar, in Intent, pending int64) error {
	l.stats.Decisions++
	d := Decision{Intent: in}
	defer func() {
		if l.opts.OnDecision != nil {
			l.opts.OnDecision(d)
		}
	}()

	req := broker.OrderRequest{
		DecisionID: in.DecisionID,
		Symbol:     in.Instrument,
		Side:       in.Side,
		Units:      in.Units,
		Time:       in.Time,
	}

	if in.Role == dispatch.RoleExit {
		pos, ok := l.opts.Positions.Position(in.DecisionID)
		if !ok {
			d.Skipped = true
			l.logger.WithField("decision_id", in.DecisionID).Debug("exit without open position skipped")
			return nil
		}
		req.Symbol = pos.Symbol
		req.Side = pos.Side.Opposite()
		req.Units = pos.Units
	} else if l.opts.Positions.IsClosed(in.DecisionID) {
		d.Skipped = true
		l.logger.WithField("decision_id", in.DecisionID).Debug("entry for closed decision skipped")
		return nil
	} else if l.opts.Risk != nil {
		out := l.opts.Risk.EvaluateNewEntry(risk.Entry{
			Instrument:   in.Instrument,
			Timeframe:    timeframe(bar.Interval),
			DecisionTime: in.Time,
			DecisionID:   in.DecisionID,
			Side:         in.Side,
			Units:        in.Units,
			Open:         l.openUnits(),
			PendingUnits: pending,
		})
		d.Risk = &out
		for _, a := range out.Alerts {
			if err := l.opts.Events.Emit(ctx, in.Time, a.EventType, a.Payload); err != nil {
				return err
			}
		}
		if !out.Allowed {
			return nil
		}
		req.Units = out.Units
	}

	res, err := l.opts.Dispatch.Dispatch(ctx, req, in.Role)
	if err != nil {
		return err
	}
	d.Dispatch = &res
	if res.Trade == nil {
		return nil
	}
	l.stats.Trades++
	return l.opts.Journal.RecordTrade(journal.TradeRecord{
		Trade:         *res.Trade,
		SchemaVersion: journal.SchemaVersion,
		ConfigHash:    l.opts.ConfigHash,
		Source:        l.opts.Events.Source(),
		DataVersion:   l.opts.DataVersion,
	})
}

func (l *Loop) openUnits() []risk.PositionUnits {
	open := l.opts.Positions.OpenPositions()
	out := make([]risk.PositionUnits, 0, len(open))
	for _, p := range open {
		out = append(out, risk.PositionUnits{Symbol: p.Symbol, Units: p.Signed()})
	}
	return out
}

func timeframe(iv market.Interval) string {
	if tf, err := market.SecondsToTFString(int32(iv.Seconds())); err == nil {
		return tf
	}
	return iv.String()
}
