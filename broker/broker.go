// Package broker defines the execution adapter boundary the dispatcher talks to.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
)

// Adapter executes market orders. Implementations classify their own
// failures into Result.Kind; an error return means the run cannot continue.
type Adapter interface {
	ExecuteMarket(ctx context.Context, req OrderRequest) (Result, error)
}

// Connector is implemented by adapters that need a session before trading.
type Connector interface {
	Connect(ctx context.Context) error
}

type OrderRequest struct {
	DecisionID  string
	Symbol      string
	Side        market.Side
	Units       int64
	Time        time.Time
	PriceIntent decimal.NullDecimal
}

type Fill struct {
	DecisionID string
	Symbol     string
	Side       market.Side
	Price      decimal.Decimal
	Units      int64
	Time       time.Time
}

// Kind classifies an adapter outcome.
type Kind int

const (
	Success Kind = iota
	Transient
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type Result struct {
	Accepted      bool
	Reason        string
	Fill          *Fill
	BrokerOrderID string
	StatusCode    int
	Kind          Kind
}

func (r Result) Transient() bool { return r.Kind == Transient }

// Accept builds a successful result around fill.
func Accept(fill Fill, brokerOrderID string) Result {
	return Result{Accepted: true, Fill: &fill, BrokerOrderID: brokerOrderID, Kind: Success}
}

// Reject builds a failed result. Kind should be Transient or Permanent.
func Reject(kind Kind, statusCode int, reason string) Result {
	return Result{Reason: reason, StatusCode: statusCode, Kind: kind}
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, req OrderRequest) (Result, error)

func (f AdapterFunc) ExecuteMarket(ctx context.Context, req OrderRequest) (Result, error) {
	return f(ctx, req)
}

// Connect calls Connect on a when it implements Connector.
func Connect(ctx context.Context, a Adapter) error {
	if c, ok := a.(Connector); ok {
		return c.Connect(ctx)
	}
	return nil
}
