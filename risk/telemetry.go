package risk

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Telemetry is a point-in-time copy of the rail counters, published after
// every bar and every evaluation.
type Telemetry struct {
	Mode Mode `json:"mode"`

	Equity     decimal.Decimal `json:"equity"`
	PeakEquity decimal.Decimal `json:"peak_equity"`
	Drawdown   decimal.Decimal `json:"drawdown"`
	DailyPnL   decimal.Decimal `json:"daily_pnl"`

	BrokerDailyLossCap             *decimal.Decimal `json:"broker_daily_loss_cap_ccy,omitempty"`
	BrokerDailyLossUsed            decimal.Decimal  `json:"broker_daily_loss_used_ccy"`
	BrokerDailyLossViolationsTotal int64            `json:"broker_daily_loss_violations_total"`

	MaxPositionUnitsLimit      *int64 `json:"max_position_units_limit,omitempty"`
	MaxPositionUnitsUsed       int64  `json:"max_position_units_used"`
	MaxPositionViolationsTotal int64  `json:"max_position_violations_total"`

	SymbolUnitCaps       map[string]int64 `json:"symbol_unit_caps,omitempty"`
	SymbolUnitUsage      map[string]int64 `json:"symbol_unit_usage"`
	SymbolUnitViolations map[string]int64 `json:"symbol_unit_violations"`

	BrokerCapBlocksTotal  int64            `json:"broker_cap_blocks_total"`
	BrokerCapBlocksByGate map[string]int64 `json:"broker_cap_blocks_by_gate"`

	CooldownEnabled           bool       `json:"cooldown_enabled"`
	CooldownActive            bool       `json:"cooldown_active"`
	CooldownActiveUntil       *time.Time `json:"cooldown_active_until_utc,omitempty"`
	CooldownLastTrigger       *time.Time `json:"cooldown_last_trigger_utc,omitempty"`
	CooldownTriggersTotal     int64      `json:"cooldown_triggers_total"`
	CooldownConsecutiveLosses int        `json:"cooldown_consecutive_losses,omitempty"`
	CooldownMinutes           int        `json:"cooldown_minutes,omitempty"`
}

// Telemetry returns the current snapshot.
func (r *Runtime) Telemetry() Telemetry {
	limits := r.brokerLimits()
	t := Telemetry{
		Mode:       r.mode,
		Equity:     r.equity,
		PeakEquity: r.peak,
		Drawdown:   r.Drawdown(),
		DailyPnL:   r.DailyPnL(),

		BrokerDailyLossCap:             limits.dailyLoss,
		BrokerDailyLossUsed:            r.caps.brokerLossUsed,
		BrokerDailyLossViolationsTotal: r.caps.brokerLossViolations,

		MaxPositionUnitsLimit:      limits.maxUnits,
		MaxPositionUnitsUsed:       r.caps.maxUsed,
		MaxPositionViolationsTotal: r.caps.maxViolations,

		SymbolUnitUsage:      maps.Clone(r.caps.symbolUsage),
		SymbolUnitViolations: maps.Clone(r.caps.symbolViolations),

		BrokerCapBlocksTotal:  r.caps.brokerBlocksTotal,
		BrokerCapBlocksByGate: maps.Clone(r.caps.brokerBlocksByGate),

		CooldownEnabled:       r.cfg.Cooldown.Enabled,
		CooldownActive:        r.cooldownActive(),
		CooldownTriggersTotal: r.cooldown.triggersTotal,
	}
	if len(limits.symbolCaps) > 0 {
		t.SymbolUnitCaps = maps.Clone(limits.symbolCaps)
	}
	if until := r.cooldown.activeUntil; until != nil {
		v := *until
		t.CooldownActiveUntil = &v
	}
	if last := r.cooldown.lastTrigger; last != nil {
		v := *last
		t.CooldownLastTrigger = &v
	}
	if r.cfg.Cooldown.Enabled {
		t.CooldownConsecutiveLosses = r.cfg.Cooldown.ConsecutiveLosses
		t.CooldownMinutes = r.cfg.Cooldown.Minutes
	}
	return t
}

func (r *Runtime) publish() {
	if r.onTelem != nil {
		r.onTelem(r.Telemetry())
	}
}
