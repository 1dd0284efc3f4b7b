package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "run", "events.csv")
	j, err := NewCSV(eventsPath, "")
	require.NoError(t, err)

	seq := NewSequencer(j, "sim")
	ts := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, seq.Emit(context.Background(), ts, "BAR", map[string]any{"b": 2, "a": "x,y"}))
	require.NoError(t, seq.Emit(context.Background(), ts.Add(time.Hour), "ALERT_KILLSWITCH", map[string]string{"instrument": "EURUSD"}))
	require.NoError(t, j.Close())

	rows := readCSV(t, eventsPath)
	require.Len(t, rows, 3)
	assert.Equal(t, EventsHeader, rows[0])
	assert.Equal(t, []string{"1", "2024-01-02T03:00:00Z", "BAR", "sim", `{"a":"x,y","b":2}`}, rows[1])
	assert.Equal(t, "2", rows[2][0])

	events, err := ReadEventsCSV(eventsPath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ALERT_KILLSWITCH", events[1].Type)
	assert.True(t, events[1].Time.Equal(ts.Add(time.Hour)))
	assert.JSONEq(t, `{"instrument":"EURUSD"}`, string(events[1].Payload))
}

func TestCSVJournalTradesSortedOnClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	j, err := NewCSV(filepath.Join(dir, "events.csv"), tradesPath)
	require.NoError(t, err)

	open := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(sampleTrade("M0-GBPUSD-01", "GBPUSD", market.Buy, "1.27", "1.2712", "1.2", open)))
	require.NoError(t, j.RecordTrade(sampleTrade("M0-EURUSD-02", "EURUSD", market.Sell, "1.1", "1.0990", "1", open.Add(time.Hour))))
	require.NoError(t, j.RecordTrade(sampleTrade("M0-EURUSD-01", "EURUSD", market.Buy, "1.1", "1.1005", "0.5", open)))

	_, err = os.Stat(tradesPath)
	assert.True(t, os.IsNotExist(err), "trades are written on close")
	require.NoError(t, j.Close())

	rows := readCSV(t, tradesPath)
	require.Len(t, rows, 4)
	assert.Equal(t, TradesHeader, rows[0])
	assert.Equal(t, []string{
		"2024-01-02T09:15:00Z", "2024-01-02T09:45:00Z", "EURUSD", "BUY",
		"1.1", "1.1005", "1000", "0.50", "0",
		"M0-EURUSD-01", SchemaVersion, "cfg1", "sim", "dv1",
	}, rows[1])
	assert.Equal(t, "M0-GBPUSD-01", rows[2][9])
	assert.Equal(t, "M0-EURUSD-02", rows[3][9])

	_, err = os.Stat(tradesPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCSVJournalReopenAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	tradesPath := filepath.Join(dir, "trades.csv")
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	open := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

	j, err := NewCSV(eventsPath, tradesPath)
	require.NoError(t, err)
	assert.Zero(t, j.LastSequence())
	seq := NewSequencer(j, "sim")
	require.NoError(t, seq.Emit(ctx, ts, "BAR", map[string]int{"n": 1}))
	require.NoError(t, seq.Emit(ctx, ts, "BAR", map[string]int{"n": 2}))
	require.NoError(t, j.RecordTrade(sampleTrade("M0-GBPUSD-01", "GBPUSD", market.Buy, "1.27", "1.2712", "1.2", open)))
	require.NoError(t, j.Close())

	j, err = NewCSV(eventsPath, tradesPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), j.LastSequence())
	seq = NewSequencer(j, "sim")
	seq.ResumeAfter(j.LastSequence())
	require.NoError(t, seq.Emit(ctx, ts.Add(time.Minute), "BAR", map[string]int{"n": 3}))
	require.NoError(t, j.RecordTrade(sampleTrade("M0-EURUSD-01", "EURUSD", market.Buy, "1.1", "1.1005", "0.5", open)))
	require.NoError(t, j.Close())

	events, err := ReadEventsCSV(eventsPath)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
	assert.Len(t, readCSV(t, eventsPath), 4, "one header")

	rows := readCSV(t, tradesPath)
	require.Len(t, rows, 3)
	assert.Equal(t, "M0-EURUSD-01", rows[1][9], "merged rows stay sorted")
	assert.Equal(t, "M0-GBPUSD-01", rows[2][9])
}

func TestCSVJournalReopenEmptyRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	j, err := NewCSV(filepath.Join(dir, "events.csv"), tradesPath)
	require.NoError(t, err)
	require.NoError(t, j.RecordTrade(sampleTrade("M0-EURUSD-01", "EURUSD", market.Buy, "1.1", "1.1005", "0.5", time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC))))
	require.NoError(t, j.Close())

	j, err = NewCSV(filepath.Join(dir, "events.csv"), tradesPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Len(t, readCSV(t, tradesPath), 2, "a run with no new trades keeps the old ones")
}
