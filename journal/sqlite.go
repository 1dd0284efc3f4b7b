package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores events and trades for one or more runs in a single file.
type SQLite struct {
	db    *sql.DB
	runID string
}

func NewSQLite(path, runID string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, runID: runID}, nil
}

func (j *SQLite) RunID() string { return j.runID }

func (j *SQLite) Append(ctx context.Context, ev Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, sequence, utc_ts, event_type, src_adapter, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.runID, ev.Sequence, ev.Time.UTC(), ev.Type, ev.Source, string(ev.Payload),
	)
	return err
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(run_id, decision_id, symbol, direction, units, entry_price, exit_price,
		 open_time, close_time, pnl, schema_version, config_hash, src_adapter, data_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, t.DecisionID, t.Symbol, t.Direction.String(), t.Units,
		t.EntryPrice.String(), t.ExitPrice.String(), t.OpenTime.UTC(), t.CloseTime.UTC(),
		t.PnL.String(), t.SchemaVersion, t.ConfigHash, t.Source, t.DataVersion,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
