// Package engine drives a run: ticks advance the clock and fold into bars,
// each new bar is journaled, marked to market by the risk runtime and handed
// to the strategy, whose intents are gated and dispatched.
package engine

import (
	"errors"
	"time"

	"github.com/rustyeddy/railtrader/bars"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/journal"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/news"
	"github.com/rustyeddy/railtrader/position"
	"github.com/rustyeddy/railtrader/risk"
	log "github.com/sirupsen/logrus"
)

// EventBar is the journal event type of an emitted bar.
const EventBar = "BAR"

// Intent is one order a strategy wants at Time.
type Intent struct {
	DecisionID string
	Instrument string
	Time       time.Time
	Side       market.Side
	Units      int64
	Role       dispatch.Role

	// SignedUnits is the exposure the intent adds once filled. Exits leave it zero.
	SignedUnits int64
}

// Strategy returns the intents for instrument whose time falls in
// [start, end). Each intent must be returned at most once.
type Strategy interface {
	Due(instrument string, start, end time.Time) []Intent
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(instrument string, start, end time.Time) []Intent

func (f StrategyFunc) Due(instrument string, start, end time.Time) []Intent {
	return f(instrument, start, end)
}

// TickSource yields ticks sorted by (time, instrument). ok is false once the
// stream is exhausted.
type TickSource interface {
	Next() (tick market.Tick, ok bool, err error)
}

// SliceSource replays an in-memory tick slice.
type SliceSource struct {
	Ticks []market.Tick
	pos   int
}

func (s *SliceSource) Next() (market.Tick, bool, error) {
	if s.pos >= len(s.Ticks) {
		return market.Tick{}, false, nil
	}
	t := s.Ticks[s.pos]
	s.pos++
	return t, true, nil
}

// Decision reports what happened to one intent.
type Decision struct {
	Intent Intent

	// Skipped is set for an exit with no open position and for an entry
	// whose decision already closed.
	Skipped bool

	Risk     *risk.Outcome
	Dispatch *dispatch.Outcome
}

type Options struct {
	RunID       string
	ConfigHash  string
	DataVersion string

	Bars      *bars.Set
	Store     bars.Store
	Clock     *market.SequenceClock
	Risk      *risk.Runtime
	Positions *position.Tracker
	Dispatch  *dispatch.Dispatcher
	Events    *journal.Sequencer
	Journal   journal.Journal
	Strategy  Strategy

	// News replaces the risk runtime's calendar whenever a value arrives.
	News <-chan []news.Event

	OnBar      func(market.Bar)
	OnDecision func(Decision)
	Logger     log.FieldLogger
}

// Stats counts what a run did.
type Stats struct {
	Ticks      int
	Bars       int
	Duplicates int
	Decisions  int
	Trades     int
}

type Loop struct {
	opts    Options
	tracker *bars.Tracker
	logger  log.FieldLogger
	stats   Stats
}

func New(opts Options) (*Loop, error) {
	switch {
	case opts.RunID == "":
		return nil, errors.New("engine: run id is required")
	case opts.Bars == nil:
		return nil, errors.New("engine: bar set is required")
	case opts.Positions == nil:
		return nil, errors.New("engine: position tracker is required")
	case opts.Dispatch == nil:
		return nil, errors.New("engine: dispatcher is required")
	case opts.Events == nil:
		return nil, errors.New("engine: event sequencer is required")
	case opts.Journal == nil:
		return nil, errors.New("engine: journal is required")
	case opts.Strategy == nil:
		return nil, errors.New("engine: strategy is required")
	}
	if opts.Clock == nil {
		opts.Clock = market.NewSequenceClock()
	}
	if opts.Store == nil {
		opts.Store = bars.NewMemoryStore()
	}
	l := &Loop{opts: opts, logger: opts.Logger}
	if l.logger == nil {
		l.logger = log.StandardLogger()
	}
	l.logger = l.logger.WithField("run_id", opts.RunID)

	tr, err := opts.Store.Load(opts.RunID)
	if err != nil {
		return nil, err
	}
	if tr.Len() > 0 {
		l.logger.WithField("bars", tr.Len()).Info("resuming from bar snapshot")
	}
	l.tracker = tr
	return l, nil
}

func (l *Loop) Stats() Stats { return l.stats }

// Tracker is the bar dedup state, shared with the snapshot store.
func (l *Loop) Tracker() *bars.Tracker { return l.tracker }
