// Package dispatch sends orders to the execution adapter exactly once per
// decision and role, enforcing the kill switch and size limits first.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/journal"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/position"
	"github.com/rustyeddy/railtrader/slippage"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	AlertKillSwitch    = "ALERT_KILLSWITCH"
	AlertSizeLimit     = "ALERT_SIZE_LIMIT"
	AlertOrderRejected = "ALERT_ORDER_REJECTED"
)

// DefaultKillSwitchBucket groups kill switch alerts per symbol.
const DefaultKillSwitchBucket = time.Minute

type Role int

const (
	RoleEntry Role = iota
	RoleExit
)

func (r Role) String() string {
	if r == RoleExit {
		return "exit"
	}
	return "entry"
}

type Status int

const (
	Accepted Status = iota + 1
	Duplicate
	BlockedKillSwitch
	BlockedSizeLimit
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case BlockedKillSwitch:
		return "blocked_kill_switch"
	case BlockedSizeLimit:
		return "blocked_size_limit"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Key is the idempotency identity of a request.
func Key(decisionID string, role Role) string {
	return decisionID + "|" + role.String()
}

// Quoter supplies the intended price when a request carries none.
type Quoter interface {
	Quote(symbol string, ts time.Time) (market.Quote, error)
}

type Outcome struct {
	Status  Status
	Role    Role
	Key     string
	Request broker.OrderRequest
	Result  broker.Result

	// Trade is set when an accepted fill fully closed a position.
	Trade *position.Trade
}

type Options struct {
	Adapter   broker.Adapter
	Positions *position.Tracker
	Events    *journal.Sequencer
	Cache     *Cache
	Slippage  slippage.Model
	Quoter    Quoter

	KillSwitch       bool
	KillSwitchBucket time.Duration

	MaxUnitsPerSymbol map[string]int64
	DefaultMaxUnits   int64

	OnAccepted func(Outcome)
	OnRejected func(Outcome)
	Logger     log.FieldLogger
}

type killKey struct {
	symbol string
	bucket int64
}

type Dispatcher struct {
	adapter    broker.Adapter
	positions  *position.Tracker
	events     *journal.Sequencer
	cache      *Cache
	slip       slippage.Model
	quoter     Quoter
	killSwitch bool
	bucket     time.Duration
	maxUnits   map[string]int64
	defaultMax int64
	onAccepted func(Outcome)
	onRejected func(Outcome)
	logger     log.FieldLogger

	killAlerted map[killKey]struct{}
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Adapter == nil {
		return nil, errors.New("dispatch: adapter is required")
	}
	if opts.Positions == nil {
		return nil, errors.New("dispatch: position tracker is required")
	}
	if opts.Events == nil {
		return nil, errors.New("dispatch: event sequencer is required")
	}

	d := &Dispatcher{
		adapter:     opts.Adapter,
		positions:   opts.Positions,
		events:      opts.Events,
		cache:       opts.Cache,
		slip:        opts.Slippage,
		quoter:      opts.Quoter,
		killSwitch:  opts.KillSwitch,
		bucket:      opts.KillSwitchBucket,
		maxUnits:    make(map[string]int64, len(opts.MaxUnitsPerSymbol)),
		defaultMax:  opts.DefaultMaxUnits,
		onAccepted:  opts.OnAccepted,
		onRejected:  opts.OnRejected,
		logger:      opts.Logger,
		killAlerted: make(map[killKey]struct{}),
	}
	for sym, v := range opts.MaxUnitsPerSymbol {
		d.maxUnits[market.NormalizeSymbol(sym)] = v
	}
	if d.bucket <= 0 {
		d.bucket = DefaultKillSwitchBucket
	}
	if d.slip == nil {
		d.slip = slippage.Zero{}
	}
	if d.logger == nil {
		d.logger = log.StandardLogger()
	}
	if d.cache == nil {
		c, err := NewCache(CacheOptions{Logger: d.logger}, time.Time{})
		if err != nil {
			return nil, err
		}
		d.cache = c
	}
	return d, nil
}

func (d *Dispatcher) Cache() *Cache { return d.cache }

// Dispatch sends req unless it is a duplicate or blocked. An error means the
// adapter, tracker or journal failed and the run cannot continue.
func (d *Dispatcher) Dispatch(ctx context.Context, req broker.OrderRequest, role Role) (Outcome, error) {
	key := Key(req.DecisionID, role)
	out := Outcome{Role: role, Key: key, Request: req}

	if d.cache.Contains(KindOrder, key, req.Time) {
		out.Status = Duplicate
		return out, nil
	}

	if d.killSwitch && role == RoleEntry {
		out.Status = BlockedKillSwitch
		return out, d.killSwitchAlert(ctx, req)
	}

	if limit := d.limit(req.Symbol); limit > 0 && req.Units > limit {
		out.Status = BlockedSizeLimit
		intended := d.intendedPrice(req)
		payload := d.payload(req, role)
		payload["requested_units"] = req.Units
		payload["max_units"] = limit
		payload["intended_price"] = intended
		return out, d.events.Emit(ctx, req.Time, AlertSizeLimit, payload)
	}

	if intended := d.intendedPrice(req); intended.Valid {
		req.PriceIntent = decimal.NewNullDecimal(d.slip.Apply(intended.Decimal, req.Side, req.Symbol, req.Units, req.Time))
	}
	out.Request = req

	res, err := d.adapter.ExecuteMarket(ctx, req)
	if err != nil {
		return out, fmt.Errorf("dispatch %s: %w", key, err)
	}
	out.Result = res

	if !res.Accepted {
		out.Status = Rejected
		payload := d.payload(req, role)
		payload["reason"] = res.Reason
		payload["status_code"] = res.StatusCode
		payload["transient"] = res.Transient()
		payload["kind"] = res.Kind.String()
		if err := d.events.Emit(ctx, req.Time, AlertOrderRejected, payload); err != nil {
			return out, err
		}
		d.logger.WithFields(log.Fields{"key": key, "reason": res.Reason, "status": res.StatusCode}).Warn("order rejected")
		if d.onRejected != nil {
			d.onRejected(out)
		}
		return out, nil
	}

	out.Status = Accepted
	if err := d.cache.Add(KindOrder, key, req.Time); err != nil {
		return out, fmt.Errorf("dispatch %s: %w", key, err)
	}

	if res.Fill == nil {
		d.logger.WithFields(log.Fields{"key": key, "symbol": req.Symbol}).Debug("order accepted without fill")
	} else {
		var trade *position.Trade
		if role == RoleExit {
			trade, err = d.positions.OnExitFill(*res.Fill)
		} else {
			trade, err = d.positions.OnFill(*res.Fill)
		}
		if err != nil {
			return out, fmt.Errorf("dispatch %s: apply fill: %w", key, err)
		}
		out.Trade = trade

		d.logger.WithFields(log.Fields{
			"key":    key,
			"symbol": req.Symbol,
			"units":  res.Fill.Units,
			"price":  res.Fill.Price.String(),
		}).Debug("order filled")
	}
	if d.onAccepted != nil {
		d.onAccepted(out)
	}
	return out, nil
}

func (d *Dispatcher) limit(symbol string) int64 {
	if v, ok := d.maxUnits[market.NormalizeSymbol(symbol)]; ok {
		return v
	}
	return d.defaultMax
}

// intendedPrice is the request price, else the quote for the request side.
func (d *Dispatcher) intendedPrice(req broker.OrderRequest) decimal.NullDecimal {
	if req.PriceIntent.Valid {
		return req.PriceIntent
	}
	if d.quoter == nil {
		return decimal.NullDecimal{}
	}
	q, err := d.quoter.Quote(req.Symbol, req.Time)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(q.Price(req.Side))
}

func (d *Dispatcher) killSwitchAlert(ctx context.Context, req broker.OrderRequest) error {
	bucket := req.Time.UTC().Truncate(d.bucket)
	k := killKey{symbol: market.NormalizeSymbol(req.Symbol), bucket: bucket.UnixNano()}
	if _, done := d.killAlerted[k]; done {
		return nil
	}
	d.killAlerted[k] = struct{}{}
	payload := d.payload(req, RoleEntry)
	payload["bucket_utc"] = bucket
	payload["units"] = req.Units
	return d.events.Emit(ctx, req.Time, AlertKillSwitch, payload)
}

func (d *Dispatcher) payload(req broker.OrderRequest, role Role) map[string]any {
	return map[string]any{
		"instrument":  req.Symbol,
		"decision_id": req.DecisionID,
		"side":        req.Side.String(),
		"role":        role.String(),
		"ts":          req.Time.UTC(),
	}
}
