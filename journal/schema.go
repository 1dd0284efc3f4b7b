// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS events (
	run_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	utc_ts DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	src_adapter TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (run_id, sequence)
);

CREATE TABLE IF NOT EXISTS trades (
	run_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	units INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	pnl TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	src_adapter TEXT NOT NULL,
	data_version TEXT NOT NULL,
	PRIMARY KEY (run_id, decision_id)
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(run_id, event_type);
CREATE INDEX IF NOT EXISTS idx_trades_close ON trades(close_time);
`
