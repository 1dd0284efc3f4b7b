package journal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"
)

var EventsHeader = []string{"sequence", "utc_ts", "event_type", "src_adapter", "payload_json"}

// CSV writes events to an events file as they arrive and buffers trades
// until Close, when the trades file is written in one go. Reopening an
// existing journal appends to it and keeps its trade rows.
type CSV struct {
	events     *csv.Writer
	ef         *os.File
	last       uint64
	tradesPath string
	prior      [][]string
	trades     []TradeRecord
}

// NewCSV opens eventsPath, creating it and its directory when missing. An
// empty tradesPath skips the trades file.
func NewCSV(eventsPath, tradesPath string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(eventsPath), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	j := &CSV{tradesPath: tradesPath}

	fresh := true
	if fi, err := os.Stat(eventsPath); err == nil && fi.Size() > 0 {
		existing, err := ReadEventsCSV(eventsPath)
		if err != nil {
			return nil, fmt.Errorf("reopen %s: %w", eventsPath, err)
		}
		if n := len(existing); n > 0 {
			j.last = existing[n-1].Sequence
		}
		fresh = false
	}
	if tradesPath != "" {
		rows, err := readTradeRows(tradesPath)
		if err != nil {
			return nil, fmt.Errorf("reopen %s: %w", tradesPath, err)
		}
		j.prior = rows
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if fresh {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	ef, err := os.OpenFile(eventsPath, flag, 0o644)
	if err != nil {
		return nil, err
	}
	j.ef = ef
	j.events = csv.NewWriter(ef)
	if !fresh {
		return j, nil
	}

	if err := j.events.Write(EventsHeader); err != nil {
		ef.Close()
		return nil, err
	}
	j.events.Flush()
	if err := j.events.Error(); err != nil {
		ef.Close()
		return nil, err
	}
	return j, nil
}

// LastSequence is the highest sequence already in the events file when it
// was opened, or 0 for a new file.
func (j *CSV) LastSequence() uint64 { return j.last }

func (j *CSV) Append(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := j.events.Write([]string{
		strconv.FormatUint(ev.Sequence, 10),
		ev.Time.UTC().Format(time.RFC3339Nano),
		ev.Type,
		ev.Source,
		string(ev.Payload),
	})
	if err != nil {
		return err
	}
	j.events.Flush()
	return j.events.Error()
}

func (j *CSV) RecordTrade(r TradeRecord) error {
	j.trades = append(j.trades, r)
	return nil
}

func (j *CSV) Close() error {
	j.events.Flush()
	if err := j.events.Error(); err != nil {
		return err
	}
	if err := j.ef.Close(); err != nil {
		return err
	}
	if j.tradesPath == "" {
		return nil
	}
	rows := slices.Clone(j.prior)
	for _, r := range j.trades {
		rows = append(rows, tradeRow(r))
	}
	sortTradeRows(rows)
	return writeTradeRows(j.tradesPath, rows)
}

// ReadEventsCSV loads an events file written by CSV.
func ReadEventsCSV(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(EventsHeader)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read events header: %w", err)
	}

	var out []Event
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		seq, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("event sequence %q: %w", row[0], err)
		}
		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			return nil, fmt.Errorf("event %d time: %w", seq, err)
		}
		out = append(out, Event{
			Sequence: seq,
			Time:     ts,
			Type:     row[2],
			Source:   row[3],
			Payload:  json.RawMessage(row[4]),
		})
	}
	return out, nil
}
