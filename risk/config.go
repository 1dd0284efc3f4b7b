package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// Mode selects how far the rails go. Off skips evaluation, telemetry runs the
// cap rails as soft alerts only, live enforces them.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeTelemetry Mode = "telemetry"
	ModeLive      Mode = "live"
)

// ParseMode accepts off/disabled, telemetry/shadow and live/active. Blank
// means telemetry.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "telemetry", "shadow":
		return ModeTelemetry, nil
	case "off", "disabled":
		return ModeOff, nil
	case "live", "active":
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown risk mode %q", raw)
	}
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// TimeOfDay is an offset from UTC midnight.
type TimeOfDay time.Duration

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("%w %q: expected HH:mm or HH:mm:ss", ErrInvalidTimeOfDay, raw)
}

// Of returns the time of day of t in UTC.
func Of(t time.Time) TimeOfDay {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return TimeOfDay(t.Sub(midnight))
}

func (d TimeOfDay) String() string {
	total := int64(time.Duration(d) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

func (d TimeOfDay) valid() bool {
	return d >= 0 && time.Duration(d) < 24*time.Hour
}

func (d TimeOfDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// SessionWindow is [Start, End) in UTC. It wraps midnight when Start > End
// and is always open when they are equal.
type SessionWindow struct {
	Start TimeOfDay `yaml:"start_utc" json:"start_utc"`
	End   TimeOfDay `yaml:"end_utc" json:"end_utc"`
}

func (w SessionWindow) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	tod := Of(t)
	if w.Start < w.End {
		return tod >= w.Start && tod < w.End
	}
	return tod >= w.Start || tod < w.End
}

type DailyCapAction string

const (
	DailyCapBlock    DailyCapAction = "block"
	DailyCapHalfSize DailyCapAction = "half_size"
)

func (a *DailyCapAction) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "block":
		*a = DailyCapBlock
	case "half_size", "half-size", "halfsize":
		*a = DailyCapHalfSize
	default:
		return fmt.Errorf("unsupported daily cap action %q: expected block or half_size", string(b))
	}
	return nil
}

type DailyCap struct {
	Loss   *decimal.Decimal `yaml:"loss,omitempty" json:"loss,omitempty"`
	Gain   *decimal.Decimal `yaml:"gain,omitempty" json:"gain,omitempty"`
	Action DailyCapAction   `yaml:"action_on_breach,omitempty" json:"action_on_breach,omitempty"`
}

// GlobalDrawdown blocks when drawdown falls below MaxDrawdown, which is
// negative (e.g. -500).
type GlobalDrawdown struct {
	MaxDrawdown decimal.Decimal `yaml:"max_dd" json:"max_dd"`
}

type NewsBlackout struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MinutesBefore int  `yaml:"minutes_before" json:"minutes_before"`
	MinutesAfter  int  `yaml:"minutes_after" json:"minutes_after"`
}

type Cooldown struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	ConsecutiveLosses int  `yaml:"consecutive_losses" json:"consecutive_losses"`
	Minutes           int  `yaml:"cooldown_minutes" json:"cooldown_minutes"`
}

type Config struct {
	Mode           Mode            `yaml:"mode" json:"mode"`
	SessionWindow  *SessionWindow  `yaml:"session_window,omitempty" json:"session_window,omitempty"`
	DailyCap       *DailyCap       `yaml:"daily_cap,omitempty" json:"daily_cap,omitempty"`
	GlobalDrawdown *GlobalDrawdown `yaml:"global_drawdown,omitempty" json:"global_drawdown,omitempty"`
	NewsBlackout   *NewsBlackout   `yaml:"news_blackout,omitempty" json:"news_blackout,omitempty"`

	// Absolute cap on signed net units per symbol, pending orders included.
	MaxNetExposureBySymbol map[string]int64 `yaml:"max_net_exposure_by_symbol,omitempty" json:"max_net_exposure_by_symbol,omitempty"`

	BrokerDailyLossCap *decimal.Decimal `yaml:"broker_daily_loss_cap_ccy,omitempty" json:"broker_daily_loss_cap_ccy,omitempty"`
	MaxPositionUnits   int64            `yaml:"max_position_units,omitempty" json:"max_position_units,omitempty"`
	SymbolUnitCaps     map[string]int64 `yaml:"symbol_unit_caps,omitempty" json:"symbol_unit_caps,omitempty"`
	Cooldown           Cooldown         `yaml:"cooldown" json:"cooldown"`
}

// BrokerCaps overrides the guardrail limits with values reported by the
// broker account.
type BrokerCaps struct {
	DailyLossCap   *decimal.Decimal
	MaxUnits       *int64
	SymbolUnitCaps map[string]int64
}

// Validate reports the first configuration error, naming the offending key.
func (c Config) Validate() error {
	if c.Mode != "" {
		if _, err := ParseMode(string(c.Mode)); err != nil {
			return fmt.Errorf("risk.mode: %w", err)
		}
	}
	if w := c.SessionWindow; w != nil {
		if !w.Start.valid() {
			return fmt.Errorf("risk.session_window.start_utc: %w", ErrInvalidTimeOfDay)
		}
		if !w.End.valid() {
			return fmt.Errorf("risk.session_window.end_utc: %w", ErrInvalidTimeOfDay)
		}
	}
	if dc := c.DailyCap; dc != nil {
		if dc.Loss == nil && dc.Gain == nil {
			return fmt.Errorf("risk.daily_cap requires loss or gain")
		}
		switch dc.Action {
		case "", DailyCapBlock, DailyCapHalfSize:
		default:
			return fmt.Errorf("risk.daily_cap.action_on_breach: unsupported %q", dc.Action)
		}
	}
	if gd := c.GlobalDrawdown; gd != nil && gd.MaxDrawdown.IsPositive() {
		return fmt.Errorf("risk.global_drawdown.max_dd must be zero or negative, got %s", gd.MaxDrawdown)
	}
	if nb := c.NewsBlackout; nb != nil && (nb.MinutesBefore < 0 || nb.MinutesAfter < 0) {
		return fmt.Errorf("risk.news_blackout minutes must not be negative")
	}
	for sym, v := range c.MaxNetExposureBySymbol {
		if v < 0 {
			return fmt.Errorf("risk.max_net_exposure_by_symbol.%s must not be negative", sym)
		}
	}
	if c.MaxPositionUnits < 0 {
		return fmt.Errorf("risk.max_position_units must not be negative")
	}
	if cd := c.Cooldown; cd.Enabled && (cd.ConsecutiveLosses <= 0 || cd.Minutes <= 0) {
		return fmt.Errorf("risk.cooldown requires positive consecutive_losses and cooldown_minutes")
	}
	return nil
}
