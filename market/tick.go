package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNonUTC = errors.New("timestamp is not UTC")

// Tick is one observed price and volume for an instrument.
type Tick struct {
	Instrument string
	Time       time.Time
	Price      decimal.Decimal
	Volume     decimal.Decimal
}

// NewTick builds a Tick, rejecting timestamps that are not in UTC.
func NewTick(instrument string, ts time.Time, price, volume decimal.Decimal) (Tick, error) {
	if !IsUTC(ts) {
		return Tick{}, fmt.Errorf("tick %s @ %s: %w", instrument, ts.Format(time.RFC3339Nano), ErrNonUTC)
	}
	return Tick{
		Instrument: instrument,
		Time:       ts,
		Price:      price,
		Volume:     volume,
	}, nil
}

// IsUTC reports whether t carries the UTC location.
func IsUTC(t time.Time) bool {
	return t.Location() == time.UTC
}

// Quote is a two-sided price.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

var two = decimal.NewFromInt(2)

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(two)
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Price returns the side of the book an order of the given side trades against.
func (q Quote) Price(side Side) decimal.Decimal {
	if side == Sell {
		return q.Bid
	}
	return q.Ask
}
