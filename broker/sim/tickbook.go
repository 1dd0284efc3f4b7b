// Package sim is the in-process execution adapter used by replays.
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/market"
)

var (
	ErrNoQuote          = errors.New("no quote")
	ErrNotMinuteAligned = errors.New("order time must be minute aligned")
)

type bookKey struct {
	symbol string
	unix   int64
}

// TickBook holds one bid/ask quote per symbol per UTC minute. A later quote
// for the same minute replaces the earlier one.
type TickBook struct {
	quotes map[bookKey]market.Quote
}

func NewTickBook() *TickBook {
	return &TickBook{quotes: make(map[bookKey]market.Quote)}
}

func (b *TickBook) Put(symbol string, ts time.Time, q market.Quote) {
	b.quotes[bookKey{symbol: symbol, unix: ts.UTC().Unix()}] = q
}

func (b *TickBook) Len() int { return len(b.quotes) }

// Quote looks up the exact timestamp; it does not search neighbouring minutes.
func (b *TickBook) Quote(symbol string, ts time.Time) (market.Quote, error) {
	q, ok := b.quotes[bookKey{symbol: symbol, unix: ts.UTC().Unix()}]
	if !ok {
		return market.Quote{}, fmt.Errorf("%w for %s @ %s", ErrNoQuote, symbol, ts.UTC().Format(time.RFC3339))
	}
	return q, nil
}
