package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/market"
)

// DefaultPriceDecimals applies to symbols missing from market.Instruments.
const DefaultPriceDecimals int32 = 5

// Adapter fills every order immediately against the tick book.
type Adapter struct {
	book  *TickBook
	Fills int
}

func NewAdapter(book *TickBook) *Adapter {
	return &Adapter{book: book}
}

// ExecuteMarket fills at the request's price intent when one is set,
// otherwise at the ask for buys and the bid for sells.
func (a *Adapter) ExecuteMarket(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	if err := ctx.Err(); err != nil {
		return broker.Result{}, err
	}
	if !req.Time.Truncate(time.Minute).Equal(req.Time) {
		return broker.Result{}, fmt.Errorf("sim: %s @ %s: %w", req.DecisionID, req.Time.Format(time.RFC3339Nano), ErrNotMinuteAligned)
	}
	if !req.Side.Valid() {
		return broker.Reject(broker.Permanent, 400, "invalid side"), nil
	}
	if req.Units <= 0 {
		return broker.Reject(broker.Permanent, 400, "units must be positive"), nil
	}

	q, err := a.book.Quote(req.Symbol, req.Time)
	if err != nil {
		return broker.Result{}, fmt.Errorf("sim: %w", err)
	}

	price := q.Price(req.Side)
	if req.PriceIntent.Valid {
		price = req.PriceIntent.Decimal
	}
	price = price.Round(market.PriceDecimals(req.Symbol, DefaultPriceDecimals))

	a.Fills++
	fill := broker.Fill{
		DecisionID: req.DecisionID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      price,
		Units:      req.Units,
		Time:       req.Time,
	}
	return broker.Accept(fill, "SIM-"+req.DecisionID), nil
}
