package market

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an OHLCV aggregate over [Start, End) for one instrument.
type Bar struct {
	Instrument string
	Interval   Interval
	Start      time.Time
	End        time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
}

func (b Bar) Key() BarKey {
	return BarKey{Instrument: b.Instrument, Interval: b.Interval, Start: b.Start}
}

// Contains reports whether t falls inside the bar window.
func (b Bar) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// BarKey identifies an emitted bar for deduplication across restarts.
type BarKey struct {
	Instrument string
	Interval   Interval
	Start      time.Time
}

func (k BarKey) String() string {
	return fmt.Sprintf("%s|%s|%s",
		k.Instrument,
		strconv.FormatFloat(k.Interval.Seconds(), 'f', -1, 64),
		k.Start.UTC().Format(time.RFC3339Nano),
	)
}

// Less orders keys by instrument, then interval, then start.
func (k BarKey) Less(o BarKey) bool {
	if k.Instrument != o.Instrument {
		return k.Instrument < o.Instrument
	}
	if k.Interval != o.Interval {
		return k.Interval < o.Interval
	}
	return k.Start.Before(o.Start)
}
