// Package slippage turns an intended price into the price an order is sent at.
package slippage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
)

var ErrUnknownModel = errors.New("unknown slippage model")

const (
	ModelZero        = "zero"
	ModelFixedBps    = "fixed_bps"
	ModelSessionPips = "session_pips"
)

var tenThousand = decimal.NewFromInt(10_000)

// Model adjusts the intended price. Buys move up, sells move down.
type Model interface {
	Apply(intended decimal.Decimal, side market.Side, instrument string, units int64, at time.Time) decimal.Decimal
}

type Profile struct {
	Model    string           `yaml:"model" json:"model"`
	FixedBps *FixedBpsProfile `yaml:"fixed_bps,omitempty" json:"fixed_bps,omitempty"`
	Session  *SessionProfile  `yaml:"session,omitempty" json:"session,omitempty"`
}

type FixedBpsProfile struct {
	DefaultBps  decimal.Decimal            `yaml:"default_bps" json:"default_bps"`
	Instruments map[string]decimal.Decimal `yaml:"instruments,omitempty" json:"instruments,omitempty"`
}

type SessionProfile struct {
	DefaultPips    decimal.Decimal            `yaml:"default_pips" json:"default_pips"`
	SessionPips    map[string]decimal.Decimal `yaml:"session_pips,omitempty" json:"session_pips,omitempty"`
	InstrumentPips map[string]decimal.Decimal `yaml:"instrument_pips,omitempty" json:"instrument_pips,omitempty"`
}

// Normalize lower-cases a model name; blank means zero.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ModelZero
	}
	return n
}

// New builds the model named by p.
func New(p Profile) (Model, error) {
	switch Normalize(p.Model) {
	case ModelZero:
		return Zero{}, nil
	case ModelFixedBps:
		fp := FixedBpsProfile{}
		if p.FixedBps != nil {
			fp = *p.FixedBps
		}
		return NewFixedBps(fp), nil
	case ModelSessionPips:
		sp := SessionProfile{}
		if p.Session != nil {
			sp = *p.Session
		}
		return NewSessionPips(sp), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, p.Model)
	}
}

// Zero leaves prices untouched.
type Zero struct{}

func (Zero) Apply(intended decimal.Decimal, _ market.Side, _ string, _ int64, _ time.Time) decimal.Decimal {
	return intended
}

// FixedBps widens the price by a fixed number of basis points.
type FixedBps struct {
	defaultBps decimal.Decimal
	byInst     map[string]decimal.Decimal
}

func NewFixedBps(p FixedBpsProfile) *FixedBps {
	return &FixedBps{
		defaultBps: clamp(p.DefaultBps),
		byInst:     normalizeKeys(p.Instruments, market.NormalizeSymbol),
	}
}

func (m *FixedBps) Apply(intended decimal.Decimal, side market.Side, instrument string, _ int64, _ time.Time) decimal.Decimal {
	bps, ok := m.byInst[market.NormalizeSymbol(instrument)]
	if !ok {
		bps = m.defaultBps
	}
	if !bps.IsPositive() || intended.IsZero() {
		return intended
	}
	delta := intended.Mul(bps.Div(tenThousand))
	return intended.Add(delta.Mul(decimal.NewFromInt(side.Direction())))
}

// SessionPips adds a pip offset chosen by instrument, then UTC session bucket.
// A pip here is price/10000.
type SessionPips struct {
	defaultPips decimal.Decimal
	bySession   map[string]decimal.Decimal
	byInst      map[string]decimal.Decimal
}

func NewSessionPips(p SessionProfile) *SessionPips {
	return &SessionPips{
		defaultPips: clamp(p.DefaultPips),
		bySession:   normalizeKeys(p.SessionPips, strings.ToLower),
		byInst:      normalizeKeys(p.InstrumentPips, market.NormalizeSymbol),
	}
}

func (m *SessionPips) Apply(intended decimal.Decimal, side market.Side, instrument string, _ int64, at time.Time) decimal.Decimal {
	if intended.IsZero() {
		return intended
	}
	pips := m.resolve(instrument, at)
	if !pips.IsPositive() {
		return intended
	}
	delta := intended.Div(tenThousand).Mul(pips)
	return intended.Add(delta.Mul(decimal.NewFromInt(side.Direction())))
}

func (m *SessionPips) resolve(instrument string, at time.Time) decimal.Decimal {
	if p, ok := m.byInst[market.NormalizeSymbol(instrument)]; ok && instrument != "" {
		return p
	}
	if p, ok := m.bySession[Session(at)]; ok {
		return p
	}
	return m.defaultPips
}

// Session names the UTC trading session bucket for t.
func Session(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 7:
		return "asia"
	case h < 12:
		return "eu_open"
	case h < 17:
		return "us_open"
	default:
		return "overnight"
	}
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func normalizeKeys(in map[string]decimal.Decimal, norm func(string) string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[norm(k)] = clamp(v)
	}
	return out
}
