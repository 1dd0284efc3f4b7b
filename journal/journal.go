// Package journal records the run's event stream and closed trades.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rustyeddy/railtrader/position"
)

// SchemaVersion is stamped on every trade row.
const SchemaVersion = "1.3.0"

// Event is one journal line. Sequence numbers are strictly increasing
// within a run.
type Event struct {
	Sequence uint64          `json:"sequence"`
	Time     time.Time       `json:"utc_ts"`
	Type     string          `json:"event_type"`
	Source   string          `json:"src_adapter"`
	Payload  json.RawMessage `json:"payload"`
}

// Writer appends events in call order.
type Writer interface {
	Append(ctx context.Context, ev Event) error
}

// TradeRecord is a closed trade plus the run metadata trade journals carry.
type TradeRecord struct {
	position.Trade
	SchemaVersion string
	ConfigHash    string
	Source        string
	DataVersion   string
}

type Journal interface {
	Writer
	RecordTrade(TradeRecord) error
	Close() error
}

type tee []Journal

// Tee fans every call out to each journal in order.
func Tee(js ...Journal) Journal {
	if len(js) == 1 {
		return js[0]
	}
	return tee(js)
}

func (t tee) Append(ctx context.Context, ev Event) error {
	for _, j := range t {
		if err := j.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) RecordTrade(r TradeRecord) error {
	for _, j := range t {
		if err := j.RecordTrade(r); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Close() error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
