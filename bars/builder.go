// Package bars folds ticks into interval bars and remembers which bars have
// already been emitted.
package bars

import (
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
)

// Builder is the state machine for one (instrument, interval) pair.
type Builder struct {
	instrument string
	interval   market.Interval

	active bool
	start  time.Time
	open   decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	close  decimal.Decimal
	volume decimal.Decimal
}

func NewBuilder(instrument string, interval market.Interval) (*Builder, error) {
	if instrument == "" {
		return nil, fmt.Errorf("bars: instrument is required")
	}
	if _, err := market.NewInterval(interval.Duration()); err != nil {
		return nil, fmt.Errorf("bars: %s: %w", instrument, err)
	}
	return &Builder{instrument: instrument, interval: interval}, nil
}

func (b *Builder) Instrument() string        { return b.instrument }
func (b *Builder) Interval() market.Interval { return b.interval }

// OnTick folds t into the in-progress bar. When t falls in a new window the
// previous bar is returned with ok set.
func (b *Builder) OnTick(t market.Tick) (bar market.Bar, ok bool, err error) {
	if t.Instrument != b.instrument {
		return market.Bar{}, false, fmt.Errorf("bars: tick for %s routed to %s builder", t.Instrument, b.instrument)
	}
	if !market.IsUTC(t.Time) {
		return market.Bar{}, false, fmt.Errorf("bars: %w", market.ErrNonUTC)
	}

	start := b.interval.Align(t.Time)
	if !b.active {
		b.seed(start, t)
		return market.Bar{}, false, nil
	}
	if !start.Equal(b.start) {
		if start.Before(b.start) {
			return market.Bar{}, false, fmt.Errorf("bars: %s tick at %s precedes open bar %s: %w",
				b.instrument, t.Time.Format(time.RFC3339Nano), b.start.Format(time.RFC3339), market.ErrClockRegression)
		}
		done := b.current()
		b.seed(start, t)
		return done, true, nil
	}

	if t.Price.GreaterThan(b.high) {
		b.high = t.Price
	}
	if t.Price.LessThan(b.low) {
		b.low = t.Price
	}
	b.close = t.Price
	b.volume = b.volume.Add(t.Volume)
	return market.Bar{}, false, nil
}

func (b *Builder) seed(start time.Time, t market.Tick) {
	b.active = true
	b.start = start
	b.open = t.Price
	b.high = t.Price
	b.low = t.Price
	b.close = t.Price
	b.volume = t.Volume
}

func (b *Builder) current() market.Bar {
	return market.Bar{
		Instrument: b.instrument,
		Interval:   b.interval,
		Start:      b.start,
		End:        b.interval.Next(b.start),
		Open:       b.open,
		High:       b.high,
		Low:        b.low,
		Close:      b.close,
		Volume:     b.volume,
	}
}

// Set owns every builder of a run and routes ticks to them in a fixed order:
// instrument ordinal, then interval ascending.
type Set struct {
	byInstrument map[string][]*Builder
	instruments  []string
}

func NewSet(instruments []string, intervals []market.Interval) (*Set, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("bars: at least one instrument is required")
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("bars: at least one interval is required")
	}

	ivs := append([]market.Interval(nil), intervals...)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i] < ivs[j] })

	s := &Set{
		byInstrument: make(map[string][]*Builder),
		instruments:  market.SortInstruments(instruments),
	}
	for _, inst := range s.instruments {
		var prev market.Interval
		for _, iv := range ivs {
			if iv == prev {
				continue
			}
			prev = iv
			b, err := NewBuilder(inst, iv)
			if err != nil {
				return nil, err
			}
			s.byInstrument[inst] = append(s.byInstrument[inst], b)
		}
	}
	return s, nil
}

// Instruments returns the instruments in routing order.
func (s *Set) Instruments() []string {
	return append([]string(nil), s.instruments...)
}

// Route feeds t to the builders of its instrument and returns the bars that
// closed, in interval order. Ticks for unknown instruments are ignored.
func (s *Set) Route(t market.Tick) ([]market.Bar, error) {
	var out []market.Bar
	for _, b := range s.byInstrument[t.Instrument] {
		bar, ok, err := b.OnTick(t)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, bar)
		}
	}
	return out, nil
}
