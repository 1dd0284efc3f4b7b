package slippage

import (
	"testing"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var noon = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Parallel()

	m, err := New(Profile{})
	require.NoError(t, err)
	assert.IsType(t, Zero{}, m)

	m, err = New(Profile{Model: " Fixed_BPS "})
	require.NoError(t, err)
	assert.IsType(t, &FixedBps{}, m)

	m, err = New(Profile{Model: "session_pips"})
	require.NoError(t, err)
	assert.IsType(t, &SessionPips{}, m)

	_, err = New(Profile{Model: "lognormal"})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestFixedBps(t *testing.T) {
	t.Parallel()

	m := NewFixedBps(FixedBpsProfile{
		DefaultBps:  d("2"),
		Instruments: map[string]decimal.Decimal{"eurusd": d("1"), "GBPUSD": d("-3")},
	})

	tests := []struct {
		name  string
		price string
		side  market.Side
		inst  string
		want  string
	}{
		{"instrument override buy", "1.0800", market.Buy, "EURUSD", "1.080108"},
		{"default sell", "1950", market.Sell, "XAUUSD", "1949.61"},
		{"negative clamps to zero", "1.2700", market.Buy, "GBPUSD", "1.27"},
		{"zero price", "0", market.Buy, "EURUSD", "0"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Apply(d(tt.price), tt.side, tt.inst, 1000, noon)
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestSessionBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want string
	}{
		{0, "asia"}, {6, "asia"}, {7, "eu_open"}, {11, "eu_open"},
		{12, "us_open"}, {16, "us_open"}, {17, "overnight"}, {23, "overnight"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Session(time.Date(2025, 1, 1, tt.hour, 0, 0, 0, time.UTC)), tt.hour)
	}
}

func TestSessionPips(t *testing.T) {
	t.Parallel()

	m := NewSessionPips(SessionProfile{
		DefaultPips:    d("0.5"),
		SessionPips:    map[string]decimal.Decimal{"US_OPEN": d("1")},
		InstrumentPips: map[string]decimal.Decimal{"XAUUSD": d("2")},
	})

	got := m.Apply(d("1.2000"), market.Buy, "EURUSD", 1000, noon)
	assert.True(t, d("1.20012").Equal(got), got.String())

	got = m.Apply(d("1.2000"), market.Sell, "EURUSD", 1000, noon.Add(-10*time.Hour))
	assert.True(t, d("1.19994").Equal(got), got.String())

	got = m.Apply(d("2000"), market.Sell, "XAUUSD", 1, noon)
	assert.True(t, d("1999.6").Equal(got), got.String())
}
