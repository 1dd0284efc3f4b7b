package risk

import (
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/position"
	"github.com/shopspring/decimal"
)

type capState struct {
	maxUsed          int64
	maxViolations    int64
	symbolUsage      map[string]int64
	symbolViolations map[string]int64

	brokerLossUsed       decimal.Decimal
	brokerLossViolations int64
	brokerBlocksByGate   map[string]int64
	brokerBlocksTotal    int64
}

func newCapState() capState {
	return capState{
		symbolUsage:        make(map[string]int64),
		symbolViolations:   make(map[string]int64),
		brokerBlocksByGate: make(map[string]int64),
	}
}

func normalizeCaps(in map[string]int64, positiveOnly bool) map[string]int64 {
	out := make(map[string]int64, len(in))
	for sym, v := range in {
		if positiveOnly && v <= 0 {
			continue
		}
		out[market.NormalizeSymbol(sym)] = v
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func openUnits(open []position.Open) []PositionUnits {
	out := make([]PositionUnits, 0, len(open))
	for _, p := range open {
		out = append(out, PositionUnits{Symbol: p.Symbol, Units: p.Signed()})
	}
	return out
}

// setUsage recomputes gross units per symbol and in total.
func (r *Runtime) setUsage(open []PositionUnits) {
	clear(r.caps.symbolUsage)
	var total int64
	for _, p := range open {
		u := abs(p.Units)
		if u == 0 {
			continue
		}
		r.caps.symbolUsage[market.NormalizeSymbol(p.Symbol)] += u
		total += u
	}
	r.caps.maxUsed = total
}

func (r *Runtime) updateBrokerLoss() {
	loss := r.DailyPnL().Neg()
	if loss.IsNegative() {
		loss = decimal.Zero
	}
	r.caps.brokerLossUsed = loss.Round(2)
}

func (r *Runtime) netExposureGate(ev *evaluation) {
	sym := market.NormalizeSymbol(ev.entry.Instrument)
	limit, ok := r.netCaps[sym]
	if !ok {
		return
	}
	var current int64
	for _, p := range ev.entry.Open {
		if market.NormalizeSymbol(p.Symbol) == sym {
			current += p.Units
		}
	}
	projected := current + ev.entry.PendingUnits + ev.entry.Side.Direction()*ev.entry.Units
	if abs(projected) <= limit {
		return
	}
	r.emit(ev, AlertBlockNetExposure, false, projected, limit, Payload{
		"symbol":          sym,
		"current_units":   current,
		"pending_units":   ev.entry.PendingUnits,
		"requested_units": ev.entry.Units,
		"projected_units": projected,
	})
	r.gate("net_exposure", false)
	ev.allowed = false
}

// positionCapsLive enforces the unit caps. It only runs while the entry is
// still allowed and stops at the first breach.
func (r *Runtime) positionCapsLive(ev *evaluation) {
	if !ev.allowed {
		return
	}
	requested := abs(ev.entry.Units)
	if limit := r.cfg.MaxPositionUnits; limit > 0 {
		projected := r.caps.maxUsed + requested
		if projected > limit {
			r.caps.maxViolations++
			r.emit(ev, AlertMaxPositionHard, false, projected, limit, Payload{
				"current_units":   r.caps.maxUsed,
				"requested_units": requested,
				"projected_units": projected,
				"max_units":       limit,
			})
			r.gate("max_position_units", false)
			ev.allowed = false
			return
		}
	}

	sym := market.NormalizeSymbol(ev.entry.Instrument)
	limit, ok := r.symbolCaps[sym]
	if !ok {
		return
	}
	current := r.caps.symbolUsage[sym]
	projected := current + requested
	if projected > limit {
		r.caps.symbolViolations[sym]++
		r.emit(ev, AlertSymbolCapHard, false, projected, limit, Payload{
			"symbol":          sym,
			"current_units":   current,
			"requested_units": requested,
			"projected_units": projected,
			"cap_units":       limit,
		})
		r.gate("symbol_cap:"+sym, false)
		ev.allowed = false
	}
}

// positionCapsSoft records cap breaches without blocking.
func (r *Runtime) positionCapsSoft(ev *evaluation) {
	requested := abs(ev.entry.Units)
	if limit := r.cfg.MaxPositionUnits; limit > 0 {
		projected := r.caps.maxUsed + requested
		if projected > limit {
			r.caps.maxViolations++
			r.emit(ev, AlertMaxPositionSoft, true, projected, limit, Payload{
				"current_units":   r.caps.maxUsed,
				"requested_units": requested,
				"projected_units": projected,
				"max_units":       limit,
			})
		}
	}

	sym := market.NormalizeSymbol(ev.entry.Instrument)
	if limit, ok := r.symbolCaps[sym]; ok {
		current := r.caps.symbolUsage[sym]
		projected := current + requested
		if projected > limit {
			r.caps.symbolViolations[sym]++
			r.emit(ev, AlertSymbolCapSoft, true, projected, limit, Payload{
				"symbol":          sym,
				"current_units":   current,
				"requested_units": requested,
				"projected_units": projected,
				"cap_units":       limit,
			})
		}
	}
}

type brokerLimits struct {
	dailyLoss  *decimal.Decimal
	maxUnits   *int64
	symbolCaps map[string]int64
}

func (r *Runtime) brokerLimits() brokerLimits {
	l := brokerLimits{dailyLoss: r.cfg.BrokerDailyLossCap, symbolCaps: r.symbolCaps}
	if r.cfg.MaxPositionUnits > 0 {
		v := r.cfg.MaxPositionUnits
		l.maxUnits = &v
	}
	if bc := r.brokerCaps; bc != nil {
		if bc.DailyLossCap != nil {
			l.dailyLoss = bc.DailyLossCap
		}
		if bc.MaxUnits != nil {
			l.maxUnits = bc.MaxUnits
		}
		if bc.SymbolUnitCaps != nil {
			l.symbolCaps = normalizeCaps(bc.SymbolUnitCaps, false)
		}
	}
	return l
}

// brokerGuardrail checks the account level limits. The first breach raises a
// soft alert; in live mode it also blocks an entry that is still allowed.
func (r *Runtime) brokerGuardrail(ev *evaluation, live bool) {
	limits := r.brokerLimits()
	if limits.dailyLoss == nil && limits.maxUnits == nil && len(limits.symbolCaps) == 0 {
		return
	}
	requested := abs(ev.entry.Units)
	sym := market.NormalizeSymbol(ev.entry.Instrument)

	var (
		gate            string
		observed, limit any
		extra           Payload
	)
	if limits.dailyLoss != nil && r.caps.brokerLossUsed.GreaterThanOrEqual(*limits.dailyLoss) {
		gate, observed, limit = "daily_loss", r.caps.brokerLossUsed, *limits.dailyLoss
		extra = Payload{"loss_used_ccy": r.caps.brokerLossUsed, "loss_cap_ccy": *limits.dailyLoss}
	}
	if gate == "" && limits.maxUnits != nil {
		if projected := r.caps.maxUsed + requested; projected > *limits.maxUnits {
			gate, observed, limit = "global_units", projected, *limits.maxUnits
			extra = Payload{"used_units": projected, "max_units": *limits.maxUnits}
		}
	}
	if gate == "" {
		if symCap, ok := limits.symbolCaps[sym]; ok {
			if projected := r.caps.symbolUsage[sym] + requested; projected > symCap {
				gate, observed, limit = "symbol_units:"+sym, projected, symCap
				extra = Payload{"used_units": projected, "max_units": symCap}
			}
		}
	}
	if gate == "" {
		return
	}
	extra["gate"] = gate

	r.emit(ev, AlertBrokerCapSoft, true, observed, limit, extra)
	if gate == "daily_loss" {
		r.caps.brokerLossViolations++
	}
	r.caps.brokerBlocksTotal++
	r.caps.brokerBlocksByGate[gate]++

	if live && ev.allowed {
		r.emit(ev, AlertBrokerCapHard, false, observed, limit, extra)
		r.gate(gate, false)
		ev.allowed = false
	}
}
