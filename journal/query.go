package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/market"
)

const tradeColumns = `decision_id, symbol, direction, units, entry_price, exit_price,
	open_time, close_time, pnl, schema_version, config_hash, src_adapter, data_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (TradeRecord, error) {
	var (
		rec TradeRecord
		dir string
	)
	err := row.Scan(
		&rec.DecisionID,
		&rec.Symbol,
		&dir,
		&rec.Units,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.PnL,
		&rec.SchemaVersion,
		&rec.ConfigHash,
		&rec.Source,
		&rec.DataVersion,
	)
	if err != nil {
		return TradeRecord{}, err
	}
	side, err := market.ParseSide(dir)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s: %w", rec.DecisionID, err)
	}
	rec.Direction = side
	return rec, nil
}

// GetTrade returns the run's trade for a decision id.
func (j *SQLite) GetTrade(decisionID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ? AND decision_id = ?`, j.runID, decisionID)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q not found", decisionID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTrades returns the run's trades in journal order (open time, symbol).
func (j *SQLite) ListTrades() ([]TradeRecord, error) {
	rows, err := j.db.Query(`SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ?
		ORDER BY open_time ASC, symbol ASC, close_time ASC`, j.runID)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ? AND close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, j.runID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns the run's events in sequence order. A non-empty
// eventType filters to that type.
func (j *SQLite) ListEvents(eventType string) ([]Event, error) {
	query := `SELECT sequence, utc_ts, event_type, src_adapter, payload
		FROM events WHERE run_id = ?`
	args := []any{j.runID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			payload string
		)
		if err := rows.Scan(&ev.Sequence, &ev.Time, &ev.Type, &ev.Source, &payload); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastSequence is the highest sequence stored for the run, or 0.
func (j *SQLite) LastSequence() (uint64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRow(`SELECT MAX(sequence) FROM events WHERE run_id = ?`, j.runID).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
