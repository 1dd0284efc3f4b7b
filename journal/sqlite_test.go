package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/railtrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, runID string) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path, runID)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t, "run-1")
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','events')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["events"])
}

func TestSQLiteEvents(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t, "run-1")
	defer j.Close()

	seq := NewSequencer(j, "sim")
	ts := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, seq.Emit(ctx, ts, "BAR", map[string]int{"n": 1}))
	require.NoError(t, seq.Emit(ctx, ts, "ALERT_SIZE_LIMIT", map[string]int{"n": 2}))
	require.NoError(t, seq.Emit(ctx, ts.Add(time.Hour), "BAR", map[string]int{"n": 3}))

	all, err := j.ListEvents("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Sequence)
	assert.True(t, all[2].Time.Equal(ts.Add(time.Hour)))
	assert.Equal(t, "sim", all[1].Source)

	bars, err := j.ListEvents("BAR")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.JSONEq(t, `{"n":3}`, string(bars[1].Payload))

	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	other, err := NewSQLite(path, "run-2")
	require.NoError(t, err)
	defer other.Close()
	last, err = other.LastSequence()
	require.NoError(t, err)
	assert.Zero(t, last, "runs are isolated")
}

func TestSQLiteDuplicateSequenceFails(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t, "run-1")
	defer j.Close()

	ev := Event{Sequence: 1, Time: time.Now().UTC(), Type: "BAR", Source: "sim", Payload: []byte(`{}`)}
	require.NoError(t, j.Append(context.Background(), ev))
	assert.Error(t, j.Append(context.Background(), ev))
}

func TestSQLiteTrades(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t, "run-1")
	defer j.Close()

	open := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	want := sampleTrade("M0-EURUSD-01", "EURUSD", market.Buy, "1.008", "1.06", "52", open)
	require.NoError(t, j.RecordTrade(want))
	require.NoError(t, j.RecordTrade(sampleTrade("M0-EURUSD-02", "EURUSD", market.Sell, "1.1", "1.2", "-100", open.Add(2*time.Hour))))

	got, err := j.GetTrade("M0-EURUSD-01")
	require.NoError(t, err)
	assert.Equal(t, want.DecisionID, got.DecisionID)
	assert.Equal(t, market.Buy, got.Direction)
	assert.Equal(t, int64(1000), got.Units)
	assert.True(t, want.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, want.ExitPrice.Equal(got.ExitPrice))
	assert.True(t, want.PnL.Equal(got.PnL))
	assert.True(t, got.OpenTime.Equal(open))
	assert.Equal(t, "cfg1", got.ConfigHash)

	_, err = j.GetTrade("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	all, err := j.ListTrades()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "M0-EURUSD-02", all[1].DecisionID)

	closed, err := j.ListTradesClosedBetween(open, open.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "M0-EURUSD-01", closed[0].DecisionID)
}
