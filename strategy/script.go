// Package strategy holds the deterministic scripts replays are run with.
package strategy

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/engine"
	"github.com/rustyeddy/railtrader/market"
)

const (
	DefaultUnits = 1000
	DefaultHold  = 30 * time.Minute
)

// Leg is one scripted round trip: open at Offset from the start, close Hold
// later.
type Leg struct {
	Offset time.Duration
	Side   market.Side
}

// M0Legs buys at +15m and sells at +75m.
var M0Legs = []Leg{
	{Offset: 15 * time.Minute, Side: market.Buy},
	{Offset: 75 * time.Minute, Side: market.Sell},
}

type action struct {
	intent  engine.Intent
	emitted bool
}

// Script replays a fixed schedule of intents for every instrument. Each
// intent is returned once, by the first Due window containing its time.
type Script struct {
	start   time.Time
	actions map[string][]*action
}

type ScriptOptions struct {
	Start       time.Time
	Instruments []string
	Units       int64
	Hold        time.Duration
	Legs        []Leg
}

// NewScript schedules opts.Legs for each instrument. Decision ids are
// M0-<SYMBOL>-<NN>. Start is truncated to the minute.
func NewScript(opts ScriptOptions) (*Script, error) {
	if opts.Start.IsZero() {
		return nil, fmt.Errorf("strategy: start time is required")
	}
	if len(opts.Instruments) == 0 {
		return nil, fmt.Errorf("strategy: at least one instrument is required")
	}
	units := opts.Units
	if units <= 0 {
		units = DefaultUnits
	}
	hold := opts.Hold
	if hold <= 0 {
		hold = DefaultHold
	}
	legs := opts.Legs
	if len(legs) == 0 {
		legs = M0Legs
	}

	s := &Script{
		start:   opts.Start.UTC().Truncate(time.Minute),
		actions: make(map[string][]*action),
	}
	for _, sym := range market.SortInstruments(opts.Instruments) {
		var list []*action
		for i, leg := range legs {
			if !leg.Side.Valid() {
				return nil, fmt.Errorf("strategy: leg %d of %s has no side", i+1, sym)
			}
			id := DecisionID(sym, i+1)
			open := s.start.Add(leg.Offset)
			list = append(list,
				&action{intent: engine.Intent{
					DecisionID:  id,
					Instrument:  sym,
					Time:        open,
					Side:        leg.Side,
					Units:       units,
					Role:        dispatch.RoleEntry,
					SignedUnits: units * leg.Side.Direction(),
				}},
				&action{intent: engine.Intent{
					DecisionID: id,
					Instrument: sym,
					Time:       open.Add(hold),
					Side:       leg.Side.Opposite(),
					Units:      units,
					Role:       dispatch.RoleExit,
				}},
			)
		}
		slices.SortStableFunc(list, func(a, b *action) int {
			return a.intent.Time.Compare(b.intent.Time)
		})
		s.actions[sym] = list
	}
	return s, nil
}

func DecisionID(symbol string, ordinal int) string {
	return fmt.Sprintf("M0-%s-%02d", symbol, ordinal)
}

func (s *Script) Start() time.Time { return s.start }

// Due returns the instrument's unemitted intents with start <= time < end.
func (s *Script) Due(instrument string, start, end time.Time) []engine.Intent {
	var out []engine.Intent
	for _, a := range s.actions[instrument] {
		if a.emitted || a.intent.Time.Before(start) || !a.intent.Time.Before(end) {
			continue
		}
		a.emitted = true
		out = append(out, a.intent)
	}
	return out
}

// Remaining lists the intents not yet returned, in schedule order.
func (s *Script) Remaining() []engine.Intent {
	var out []engine.Intent
	for _, sym := range slices.Sorted(maps.Keys(s.actions)) {
		for _, a := range s.actions[sym] {
			if !a.emitted {
				out = append(out, a.intent)
			}
		}
	}
	return out
}
