package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/railtrader/bars"
	"github.com/rustyeddy/railtrader/broker/sim"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/engine"
	"github.com/rustyeddy/railtrader/journal"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/position"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 30, 0, time.UTC)

func TestNewScriptValidates(t *testing.T) {
	t.Parallel()

	_, err := NewScript(ScriptOptions{Instruments: []string{"EURUSD"}})
	assert.EqualError(t, err, "strategy: start time is required")
	_, err = NewScript(ScriptOptions{Start: t0})
	assert.EqualError(t, err, "strategy: at least one instrument is required")
	_, err = NewScript(ScriptOptions{Start: t0, Instruments: []string{"EURUSD"}, Legs: []Leg{{Offset: time.Minute}}})
	assert.Error(t, err)
}

func TestScriptSchedule(t *testing.T) {
	t.Parallel()

	s, err := NewScript(ScriptOptions{Start: t0, Instruments: []string{"USDJPY", "EURUSD"}})
	require.NoError(t, err)
	assert.True(t, s.Start().Equal(t0.Truncate(time.Minute)))

	all := s.Remaining()
	require.Len(t, all, 8)
	assert.Equal(t, "EURUSD", all[0].Instrument, "instruments in ordinal order")

	start := s.Start()
	tests := []struct {
		id     string
		at     time.Duration
		side   market.Side
		role   dispatch.Role
		signed int64
	}{
		{"M0-EURUSD-01", 15 * time.Minute, market.Buy, dispatch.RoleEntry, 1000},
		{"M0-EURUSD-01", 45 * time.Minute, market.Sell, dispatch.RoleExit, 0},
		{"M0-EURUSD-02", 75 * time.Minute, market.Sell, dispatch.RoleEntry, -1000},
		{"M0-EURUSD-02", 105 * time.Minute, market.Buy, dispatch.RoleExit, 0},
	}
	for i, tt := range tests {
		got := all[i]
		assert.Equal(t, tt.id, got.DecisionID)
		assert.True(t, got.Time.Equal(start.Add(tt.at)), got.Time)
		assert.Equal(t, tt.side, got.Side)
		assert.Equal(t, tt.role, got.Role)
		assert.Equal(t, tt.signed, got.SignedUnits)
		assert.Equal(t, int64(DefaultUnits), got.Units)
	}
}

func TestDueEmitsOnce(t *testing.T) {
	t.Parallel()

	s, err := NewScript(ScriptOptions{Start: t0, Instruments: []string{"EURUSD"}, Units: 250})
	require.NoError(t, err)
	start := s.Start()

	assert.Empty(t, s.Due("EURUSD", start, start.Add(15*time.Minute)), "end is exclusive")
	got := s.Due("EURUSD", start.Add(15*time.Minute), start.Add(16*time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, int64(250), got[0].Units)

	assert.Empty(t, s.Due("EURUSD", start, start.Add(16*time.Minute)), "already emitted")
	assert.Empty(t, s.Due("GBPUSD", start, start.Add(3*time.Hour)))
	assert.Len(t, s.Due("EURUSD", start, start.Add(3*time.Hour)), 3)
	assert.Empty(t, s.Remaining())
}

func TestScriptThroughEngine(t *testing.T) {
	t.Parallel()

	logger, _ := test.NewNullLogger()
	book := sim.NewTickBook()
	price := decimal.RequireFromString("110.000")
	var ticks []market.Tick
	start := t0.Truncate(time.Minute)
	for i := 0; i <= 120; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		ticks = append(ticks, market.Tick{Instrument: "USDJPY", Time: at, Price: price, Volume: decimal.NewFromInt(2)})
		book.Put("USDJPY", at, market.Quote{Bid: price, Ask: price})
		price = price.Add(decimal.RequireFromString("0.010"))
	}

	mem := journal.NewMemory()
	events := journal.NewSequencer(mem, "sim")
	tracker := position.NewTracker()
	d, err := dispatch.New(dispatch.Options{Adapter: sim.NewAdapter(book), Positions: tracker, Events: events, Quoter: book, Logger: logger})
	require.NoError(t, err)
	set, err := bars.NewSet([]string{"USDJPY"}, []market.Interval{market.Minute})
	require.NoError(t, err)
	script, err := NewScript(ScriptOptions{Start: ticks[0].Time, Instruments: []string{"USDJPY"}})
	require.NoError(t, err)

	loop, err := engine.New(engine.Options{
		RunID:     "m0",
		Bars:      set,
		Positions: tracker,
		Dispatch:  d,
		Events:    events,
		Journal:   mem,
		Strategy:  script,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background(), &engine.SliceSource{Ticks: ticks}))

	trades := mem.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "M0-USDJPY-01", trades[0].DecisionID)
	assert.Equal(t, "300", trades[0].PnL.String())
	assert.Equal(t, "M0-USDJPY-02", trades[1].DecisionID)
	assert.Equal(t, "-300", trades[1].PnL.String())
	assert.Empty(t, script.Remaining())
}
