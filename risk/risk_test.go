package risk

import (
	"testing"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/news"
	"github.com/rustyeddy/railtrader/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeBook struct {
	open []position.Open
	done []position.Trade
}

func (b *fakeBook) OpenPositions() []position.Open { return b.open }
func (b *fakeBook) Completed() []position.Trade    { return b.done }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func at(hh, mm int) time.Time {
	return time.Date(2024, 3, 4, hh, mm, 0, 0, time.UTC)
}

func eventTypes(alerts []Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.EventType)
	}
	return out
}

func newRuntime(t *testing.T, cfg Config) (*Runtime, *[]string) {
	t.Helper()
	var gates []string
	r, err := New(Options{
		Config:     cfg,
		ConfigHash: "abc123",
		OnGate:     func(g string, _ bool) { gates = append(gates, g) },
	})
	require.NoError(t, err)
	return r, &gates
}

func entry(units int64, ts time.Time) Entry {
	return Entry{
		Instrument:   "EURUSD",
		Timeframe:    "H1",
		DecisionTime: ts,
		DecisionID:   "EURUSD-01",
		Side:         market.Buy,
		Units:        units,
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", ModeTelemetry, false},
		{"Shadow", ModeTelemetry, false},
		{"off", ModeOff, false},
		{"disabled", ModeOff, false},
		{"LIVE", ModeLive, false},
		{"active", ModeLive, false},
		{"paper", "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMode(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionWindowContains(t *testing.T) {
	t.Parallel()

	day := SessionWindow{Start: TimeOfDay(8 * time.Hour), End: TimeOfDay(16 * time.Hour)}
	night := SessionWindow{Start: TimeOfDay(22 * time.Hour), End: TimeOfDay(2 * time.Hour)}
	always := SessionWindow{Start: TimeOfDay(9 * time.Hour), End: TimeOfDay(9 * time.Hour)}

	tests := []struct {
		name string
		w    SessionWindow
		ts   time.Time
		want bool
	}{
		{"start inclusive", day, at(8, 0), true},
		{"end exclusive", day, at(16, 0), false},
		{"before", day, at(7, 59), false},
		{"wrap late", night, at(23, 0), true},
		{"wrap early", night, at(1, 59), true},
		{"wrap closed", night, at(12, 0), false},
		{"equal always open", always, at(3, 0), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.w.Contains(tt.ts))
		})
	}
}

func TestConfigYAML(t *testing.T) {
	t.Parallel()

	raw := `
mode: live
session_window:
  start_utc: "07:00"
  end_utc: "20:30:00"
daily_cap:
  loss: -250.5
  gain: "400"
  action_on_breach: half-size
global_drawdown:
  max_dd: -1000
news_blackout:
  enabled: true
  minutes_before: 15
  minutes_after: 30
max_net_exposure_by_symbol:
  EUR_USD: 0
symbol_unit_caps:
  GBPUSD: 5000
cooldown:
  enabled: true
  consecutive_losses: 3
  cooldown_minutes: 45
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, "07:00:00", cfg.SessionWindow.Start.String())
	assert.Equal(t, "20:30:00", cfg.SessionWindow.End.String())
	assert.Equal(t, "-250.5", cfg.DailyCap.Loss.String())
	assert.Equal(t, "400", cfg.DailyCap.Gain.String())
	assert.Equal(t, DailyCapHalfSize, cfg.DailyCap.Action)
	assert.Equal(t, "-1000", cfg.GlobalDrawdown.MaxDrawdown.String())
	assert.Equal(t, 30, cfg.NewsBlackout.MinutesAfter)
	assert.Equal(t, int64(5000), cfg.SymbolUnitCaps["GBPUSD"])
	assert.Equal(t, 45, cfg.Cooldown.Minutes)

	r, err := New(Options{Config: cfg})
	require.NoError(t, err)
	_, ok := r.netCaps["EURUSD"]
	assert.True(t, ok, "net exposure keys are normalized")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty daily cap", Config{DailyCap: &DailyCap{}}, "risk.daily_cap"},
		{"positive drawdown", Config{GlobalDrawdown: &GlobalDrawdown{MaxDrawdown: decimal.NewFromInt(5)}}, "risk.global_drawdown.max_dd"},
		{"bad window", Config{SessionWindow: &SessionWindow{Start: TimeOfDay(25 * time.Hour)}}, "risk.session_window.start_utc"},
		{"bad cooldown", Config{Cooldown: Cooldown{Enabled: true}}, "risk.cooldown"},
		{"negative net cap", Config{MaxNetExposureBySymbol: map[string]int64{"EURUSD": -1}}, "risk.max_net_exposure_by_symbol.EURUSD"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	var cfg Config
	err := yaml.Unmarshal([]byte("session_window:\n  start_utc: 8am\n"), &cfg)
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)
}

func TestSessionAlertPrecedesDailyCap(t *testing.T) {
	t.Parallel()

	r, gates := newRuntime(t, Config{
		SessionWindow: &SessionWindow{Start: TimeOfDay(8 * time.Hour), End: TimeOfDay(16 * time.Hour)},
		DailyCap:      &DailyCap{Loss: dec("-100")},
	})
	r.dailyRealized = decimal.NewFromInt(-150)

	out := r.EvaluateNewEntry(entry(1000, at(20, 0)))
	assert.False(t, out.Allowed)
	assert.Zero(t, out.Units)
	assert.Equal(t, []string{AlertBlockSessionWindow, AlertBlockDailyLossCap}, eventTypes(out.Alerts))
	assert.Equal(t, []string{"session_window", "daily_loss_cap"}, *gates)

	p := out.Alerts[0].Payload
	for _, key := range []string{"instrument", "timeframe", "ts", "decision_id", "observed", "cap", "config_hash"} {
		assert.Contains(t, p, key)
	}
	assert.Equal(t, "20:00:00", p["observed"])
	assert.Equal(t, "abc123", p["config_hash"])
}

func TestDailyGainHalfSize(t *testing.T) {
	t.Parallel()

	r, _ := newRuntime(t, Config{DailyCap: &DailyCap{Gain: dec("100"), Action: DailyCapHalfSize}})
	r.dailyRealized = decimal.NewFromInt(150)

	out := r.EvaluateNewEntry(entry(5, at(10, 0)))
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(2), out.Units)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, AlertThrottleDailyGainCap, out.Alerts[0].EventType)
	assert.True(t, out.Alerts[0].Throttled)
	assert.Equal(t, int64(5), out.Alerts[0].Payload["original_units"])

	out = r.EvaluateNewEntry(entry(1, at(10, 0)))
	assert.Equal(t, int64(1), out.Units)

	block, _ := newRuntime(t, Config{DailyCap: &DailyCap{Gain: dec("100")}})
	block.dailyRealized = decimal.NewFromInt(100)
	out = block.EvaluateNewEntry(entry(5, at(10, 0)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBlockDailyGainCap}, eventTypes(out.Alerts))
}

func TestDrawdownAndDailyPnL(t *testing.T) {
	t.Parallel()

	r, _ := newRuntime(t, Config{GlobalDrawdown: &GlobalDrawdown{MaxDrawdown: decimal.NewFromInt(-500)}})
	book := &fakeBook{
		done: []position.Trade{
			{Symbol: "EURUSD", CloseTime: at(0, 0).Add(-time.Hour), PnL: decimal.NewFromInt(200)},
			{Symbol: "EURUSD", CloseTime: at(9, 0), PnL: decimal.NewFromInt(-300)},
		},
		open: []position.Open{
			{Symbol: "EURUSD", Side: market.Sell, EntryPrice: decimal.RequireFromString("1.1000"), Units: 10000},
		},
	}

	r.UpdateBar(market.Bar{Instrument: "EURUSD", End: at(10, 0), Close: decimal.RequireFromString("1.0800")}, book)
	assert.Equal(t, "100100", r.Equity().String())
	assert.Equal(t, "100100", r.Peak().String())
	assert.Equal(t, "-100", r.DailyPnL().String(), "yesterday's winner is excluded")

	r.UpdateBar(market.Bar{Instrument: "EURUSD", End: at(11, 0), Close: decimal.RequireFromString("1.1450")}, book)
	assert.Equal(t, "99450", r.Equity().String())
	assert.Equal(t, "-650", r.Drawdown().String())

	out := r.EvaluateNewEntry(entry(100, at(11, 0)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBlockGlobalDrawdown}, eventTypes(out.Alerts))
}

func TestNewsBlackoutGate(t *testing.T) {
	t.Parallel()

	cfg := Config{NewsBlackout: &NewsBlackout{Enabled: true, MinutesBefore: 15, MinutesAfter: 30}}
	r, err := New(Options{
		Config: cfg,
		News:   []news.Event{{Time: at(12, 30), Impact: "high", Tags: []string{"USD"}}},
	})
	require.NoError(t, err)

	out := r.EvaluateNewEntry(entry(100, at(12, 15)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBlockNewsBlackout}, eventTypes(out.Alerts))

	assert.True(t, r.EvaluateNewEntry(entry(100, at(13, 1))).Allowed)

	r.ReplaceNews(nil)
	assert.True(t, r.EvaluateNewEntry(entry(100, at(12, 15))).Allowed)
}

func TestNetExposureGate(t *testing.T) {
	t.Parallel()

	zero, gates := newRuntime(t, Config{MaxNetExposureBySymbol: map[string]int64{"EURUSD": 0}})
	out := zero.EvaluateNewEntry(entry(1, at(10, 0)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBlockNetExposure}, eventTypes(out.Alerts))
	assert.Equal(t, []string{"net_exposure"}, *gates)

	r, _ := newRuntime(t, Config{MaxNetExposureBySymbol: map[string]int64{"EUR/USD": 1000}})
	e := entry(200, at(10, 0))
	e.Open = []PositionUnits{{Symbol: "EURUSD", Units: 600}, {Symbol: "GBPUSD", Units: -5000}}
	e.PendingUnits = 300

	out = r.EvaluateNewEntry(e)
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(1100), out.Alerts[0].Payload["projected_units"])

	e.Side = market.Sell
	out = r.EvaluateNewEntry(e)
	assert.True(t, out.Allowed)
	assert.Empty(t, out.Alerts)
}

func TestModeOffBypassesGates(t *testing.T) {
	t.Parallel()

	r, gates := newRuntime(t, Config{
		Mode:                   ModeOff,
		SessionWindow:          &SessionWindow{Start: TimeOfDay(8 * time.Hour), End: TimeOfDay(9 * time.Hour)},
		MaxNetExposureBySymbol: map[string]int64{"EURUSD": 0},
	})
	out := r.EvaluateNewEntry(entry(1000, at(20, 0)))
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(1000), out.Units)
	assert.Empty(t, out.Alerts)
	assert.Empty(t, *gates)
}

func TestPositionCapsByMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode    Mode
		allowed bool
		alerts  []string
		gates   []string
	}{
		{ModeTelemetry, true, []string{AlertMaxPositionSoft, AlertBrokerCapSoft}, nil},
		{ModeLive, false, []string{AlertMaxPositionHard, AlertMaxPositionSoft, AlertBrokerCapSoft}, []string{"max_position_units"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			r, gates := newRuntime(t, Config{Mode: tt.mode, MaxPositionUnits: 1000})
			e := entry(500, at(10, 0))
			e.Open = []PositionUnits{{Symbol: "EURUSD", Units: -800}}

			out := r.EvaluateNewEntry(e)
			assert.Equal(t, tt.allowed, out.Allowed)
			assert.Equal(t, tt.alerts, eventTypes(out.Alerts))
			assert.Equal(t, tt.gates, *gates)

			tel := r.Telemetry()
			assert.Equal(t, int64(800), tel.MaxPositionUnitsUsed)
			assert.Equal(t, int64(1), tel.BrokerCapBlocksByGate["global_units"])
		})
	}
}

func TestSymbolCapLive(t *testing.T) {
	t.Parallel()

	r, gates := newRuntime(t, Config{Mode: ModeLive, SymbolUnitCaps: map[string]int64{"eur_usd": 1000}})
	e := entry(300, at(10, 0))
	e.Open = []PositionUnits{{Symbol: "EURUSD", Units: 800}}

	out := r.EvaluateNewEntry(e)
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertSymbolCapHard, AlertSymbolCapSoft, AlertBrokerCapSoft}, eventTypes(out.Alerts))
	assert.Equal(t, []string{"symbol_cap:EURUSD"}, *gates)
	assert.Equal(t, int64(2), r.Telemetry().SymbolUnitViolations["EURUSD"])
}

func TestBrokerGuardrail(t *testing.T) {
	t.Parallel()

	r, gates := newRuntime(t, Config{Mode: ModeLive, BrokerDailyLossCap: dec("100")})
	r.dailyRealized = decimal.RequireFromString("-150.004")

	out := r.EvaluateNewEntry(entry(10, at(10, 0)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBrokerCapSoft, AlertBrokerCapHard}, eventTypes(out.Alerts))
	assert.Equal(t, []string{"daily_loss"}, *gates)
	assert.Equal(t, "daily_loss", out.Alerts[1].Payload["gate"])

	tel := r.Telemetry()
	assert.Equal(t, "150", tel.BrokerDailyLossUsed.String())
	assert.Equal(t, int64(1), tel.BrokerDailyLossViolationsTotal)
	assert.Equal(t, int64(1), tel.BrokerCapBlocksTotal)

	maxUnits := int64(100)
	override, err := New(Options{
		Config:     Config{Mode: ModeLive, MaxPositionUnits: 10_000},
		BrokerCaps: &BrokerCaps{MaxUnits: &maxUnits},
	})
	require.NoError(t, err)
	out = override.EvaluateNewEntry(entry(200, at(10, 0)))
	assert.False(t, out.Allowed)
	assert.Equal(t, []string{AlertBrokerCapSoft, AlertBrokerCapHard}, eventTypes(out.Alerts))
}

func TestCooldown(t *testing.T) {
	t.Parallel()

	cfg := func(mode Mode) Config {
		return Config{Mode: mode, Cooldown: Cooldown{Enabled: true, ConsecutiveLosses: 2, Minutes: 30}}
	}
	book := &fakeBook{done: []position.Trade{
		{CloseTime: at(9, 50), PnL: decimal.NewFromInt(-10)},
		{CloseTime: at(9, 55), PnL: decimal.Zero},
		{CloseTime: at(10, 0), PnL: decimal.NewFromInt(-5)},
	}}
	bar := func(end time.Time) market.Bar {
		return market.Bar{Instrument: "EURUSD", End: end, Close: decimal.NewFromInt(1)}
	}

	t.Run("telemetry alerts once", func(t *testing.T) {
		t.Parallel()
		r, _ := newRuntime(t, cfg(ModeTelemetry))
		r.UpdateBar(bar(at(10, 0)), book)

		tel := r.Telemetry()
		require.True(t, tel.CooldownActive, "flat trade leaves the streak alone")
		assert.Equal(t, at(10, 30), *tel.CooldownActiveUntil)
		assert.Equal(t, int64(1), tel.CooldownTriggersTotal)

		out := r.EvaluateNewEntry(entry(100, at(10, 0)))
		assert.True(t, out.Allowed)
		assert.Equal(t, []string{AlertCooldownSoft}, eventTypes(out.Alerts))

		out = r.EvaluateNewEntry(entry(100, at(10, 0)))
		assert.Empty(t, out.Alerts)

		r.UpdateBar(bar(at(10, 30)), book)
		assert.False(t, r.Telemetry().CooldownActive)
		assert.Equal(t, int64(1), r.Telemetry().CooldownTriggersTotal, "old trades are not recounted")
	})

	t.Run("live blocks", func(t *testing.T) {
		t.Parallel()
		r, gates := newRuntime(t, cfg(ModeLive))
		r.UpdateBar(bar(at(10, 0)), book)

		out := r.EvaluateNewEntry(entry(100, at(10, 0)))
		assert.False(t, out.Allowed)
		assert.Equal(t, []string{AlertCooldownHard}, eventTypes(out.Alerts))
		assert.Equal(t, []string{"cooldown"}, *gates)
	})

	t.Run("clock drives expiry", func(t *testing.T) {
		t.Parallel()
		now := at(10, 0)
		r, err := New(Options{Config: cfg(ModeLive), Clock: market.ClockFunc(func() time.Time { return now })})
		require.NoError(t, err)
		r.UpdateBar(bar(at(10, 0)), book)
		assert.False(t, r.EvaluateNewEntry(entry(100, now)).Allowed)

		now = at(10, 31)
		assert.True(t, r.EvaluateNewEntry(entry(100, now)).Allowed)
	})
}

func TestTelemetryCallback(t *testing.T) {
	t.Parallel()

	var snaps []Telemetry
	r, err := New(Options{
		Config:      Config{SymbolUnitCaps: map[string]int64{"EURUSD": 10}},
		OnTelemetry: func(tel Telemetry) { snaps = append(snaps, tel) },
	})
	require.NoError(t, err)

	r.UpdateBar(market.Bar{Instrument: "EURUSD", End: at(10, 0), Close: decimal.NewFromInt(1)}, nil)
	r.EvaluateNewEntry(entry(0, at(10, 0)))
	require.Len(t, snaps, 2)
	assert.Equal(t, ModeTelemetry, snaps[0].Mode)
	assert.Equal(t, int64(10), snaps[1].SymbolUnitCaps["EURUSD"])
}
