// Package position folds execution fills into open positions and completed
// round-trip trades.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
)

var (
	ErrSameSideClose  = errors.New("closing fill must be opposite the open side")
	ErrNoOpenPosition = errors.New("no open position")
	ErrPositionClosed = errors.New("position already closed")
)

// DefaultPnLPlaces is the precision completed trade P&L is rounded to.
const DefaultPnLPlaces int32 = 6

// Open is the running exposure for one decision id.
type Open struct {
	DecisionID string
	Symbol     string
	Side       market.Side
	OpenTime   time.Time
	EntryPrice decimal.Decimal
	Units      int64
}

// Signed returns the units with the sign of the position side.
func (o Open) Signed() int64 { return o.Units * o.Side.Direction() }

// Trade is a fully closed round trip. It is built once, at closure.
type Trade struct {
	DecisionID string
	Symbol     string
	Direction  market.Side
	OpenTime   time.Time
	CloseTime  time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Units      int64
	PnL        decimal.Decimal
}

type openState struct {
	Open
	total     int64
	realized  decimal.Decimal
	exitValue decimal.Decimal
	exitUnits int64
}

type Tracker struct {
	PnLPlaces int32

	open      map[string]*openState
	order     []string
	closed    map[string]struct{}
	completed []Trade
}

func NewTracker() *Tracker {
	return &Tracker{
		PnLPlaces: DefaultPnLPlaces,
		open:      make(map[string]*openState),
		closed:    make(map[string]struct{}),
	}
}

// OnFill opens, pyramids or reduces the position for the fill's decision id.
// It returns the trade when the fill closes the position completely.
func (t *Tracker) OnFill(f broker.Fill) (*Trade, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	if _, done := t.closed[f.DecisionID]; done {
		return nil, fmt.Errorf("fill %s: %w", f.DecisionID, ErrPositionClosed)
	}

	pos, ok := t.open[f.DecisionID]
	if !ok {
		t.open[f.DecisionID] = &openState{
			Open: Open{
				DecisionID: f.DecisionID,
				Symbol:     f.Symbol,
				Side:       f.Side,
				OpenTime:   f.Time,
				EntryPrice: f.Price,
				Units:      f.Units,
			},
			total: f.Units,
		}
		t.order = append(t.order, f.DecisionID)
		return nil, nil
	}

	if pos.Side == f.Side {
		oldUnits := decimal.NewFromInt(pos.Units)
		addUnits := decimal.NewFromInt(f.Units)
		pos.EntryPrice = pos.EntryPrice.Mul(oldUnits).Add(f.Price.Mul(addUnits)).Div(oldUnits.Add(addUnits))
		pos.Units += f.Units
		pos.total += f.Units
		return nil, nil
	}
	return t.reduce(pos, f), nil
}

// OnExitFill applies a fill that must close or reduce an open position.
func (t *Tracker) OnExitFill(f broker.Fill) (*Trade, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	if _, done := t.closed[f.DecisionID]; done {
		return nil, fmt.Errorf("exit fill %s: %w", f.DecisionID, ErrPositionClosed)
	}
	pos, ok := t.open[f.DecisionID]
	if !ok {
		return nil, fmt.Errorf("exit fill %s: %w", f.DecisionID, ErrNoOpenPosition)
	}
	if pos.Side == f.Side {
		return nil, fmt.Errorf("exit fill %s %s against %s: %w", f.DecisionID, f.Side, pos.Side, ErrSameSideClose)
	}
	return t.reduce(pos, f), nil
}

func (t *Tracker) reduce(pos *openState, f broker.Fill) *Trade {
	closed := min(pos.Units, f.Units)
	closedD := decimal.NewFromInt(closed)
	dir := decimal.NewFromInt(pos.Side.Direction())

	pos.realized = pos.realized.Add(f.Price.Sub(pos.EntryPrice).Mul(dir).Mul(closedD))
	pos.exitValue = pos.exitValue.Add(f.Price.Mul(closedD))
	pos.exitUnits += closed
	pos.Units -= closed
	if pos.Units > 0 {
		return nil
	}

	places := t.PnLPlaces
	if places <= 0 {
		places = DefaultPnLPlaces
	}
	trade := Trade{
		DecisionID: pos.DecisionID,
		Symbol:     pos.Symbol,
		Direction:  pos.Side,
		OpenTime:   pos.OpenTime,
		CloseTime:  f.Time,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  pos.exitValue.Div(decimal.NewFromInt(pos.exitUnits)),
		Units:      pos.total,
		PnL:        pos.realized.Round(places),
	}
	t.completed = append(t.completed, trade)
	t.closed[pos.DecisionID] = struct{}{}
	delete(t.open, pos.DecisionID)
	for i, id := range t.order {
		if id == pos.DecisionID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return &trade
}

func validate(f broker.Fill) error {
	if f.DecisionID == "" {
		return fmt.Errorf("fill: decision id is required")
	}
	if f.Units <= 0 {
		return fmt.Errorf("fill %s: units must be positive, got %d", f.DecisionID, f.Units)
	}
	if !f.Side.Valid() {
		return fmt.Errorf("fill %s: invalid side", f.DecisionID)
	}
	return nil
}

// OpenPositions returns the open positions in the order they were opened.
func (t *Tracker) OpenPositions() []Open {
	out := make([]Open, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.open[id].Open)
	}
	return out
}

// Completed returns closed trades in close order.
func (t *Tracker) Completed() []Trade {
	return append([]Trade(nil), t.completed...)
}

// Position returns the open position for decisionID.
func (t *Tracker) Position(decisionID string) (Open, bool) {
	p, ok := t.open[decisionID]
	if !ok {
		return Open{}, false
	}
	return p.Open, true
}

func (t *Tracker) OpenUnits(decisionID string) int64 {
	if p, ok := t.open[decisionID]; ok {
		return p.Units
	}
	return 0
}

// IsClosed reports whether decisionID has completed a round trip.
func (t *Tracker) IsClosed(decisionID string) bool {
	_, ok := t.closed[decisionID]
	return ok
}
