package risk

import (
	"time"

	"github.com/rustyeddy/railtrader/position"
)

type cooldownState struct {
	lossStreak    int
	seenTrades    int
	activeUntil   *time.Time
	lastTrigger   *time.Time
	triggersTotal int64

	// pending is set on activation so the soft alert fires once per window.
	pending bool
	alerted bool
}

// updateCooldown folds newly completed trades into the loss streak. A losing
// trade extends it, a winner resets it and a flat trade leaves it alone.
func (r *Runtime) updateCooldown(completed []position.Trade) {
	cd := &r.cooldown
	if !r.cfg.Cooldown.Enabled {
		cd.lossStreak = 0
		cd.activeUntil = nil
		return
	}

	for i := cd.seenTrades; i < len(completed); i++ {
		t := completed[i]
		switch {
		case t.PnL.IsNegative():
			cd.lossStreak++
			if cd.lossStreak >= r.cfg.Cooldown.ConsecutiveLosses {
				r.triggerCooldown(t.CloseTime)
				cd.lossStreak = 0
			}
		case t.PnL.IsPositive():
			cd.lossStreak = 0
		}
	}
	if len(completed) > cd.seenTrades {
		cd.seenTrades = len(completed)
	}
	r.refreshCooldown()
}

func (r *Runtime) triggerCooldown(at time.Time) {
	at = at.UTC()
	until := at.Add(time.Duration(r.cfg.Cooldown.Minutes) * time.Minute)
	cd := &r.cooldown
	cd.activeUntil = &until
	cd.lastTrigger = &at
	cd.triggersTotal++
	cd.pending = true
	cd.alerted = false
	r.logger.WithField("until", until).Info("risk cooldown triggered")
}

// refreshCooldown expires the window once the clock reaches its end.
func (r *Runtime) refreshCooldown() {
	cd := &r.cooldown
	if cd.activeUntil == nil {
		return
	}
	if !r.now().Before(*cd.activeUntil) {
		cd.activeUntil = nil
		cd.pending = false
		cd.alerted = false
	}
}

func (r *Runtime) cooldownActive() bool {
	return r.cooldown.activeUntil != nil && r.now().Before(*r.cooldown.activeUntil)
}

func (r *Runtime) cooldownPayload() Payload {
	return Payload{
		"cooldown_active_until": *r.cooldown.activeUntil,
		"cooldown_minutes":      r.cfg.Cooldown.Minutes,
		"consecutive_losses":    r.cfg.Cooldown.ConsecutiveLosses,
	}
}

func (r *Runtime) cooldownLive(ev *evaluation) {
	if !r.cfg.Cooldown.Enabled || !r.cooldownActive() || !ev.allowed {
		return
	}
	r.emit(ev, AlertCooldownHard, false, ev.ts, *r.cooldown.activeUntil, r.cooldownPayload())
	r.gate("cooldown", false)
	r.cooldown.pending = false
	r.cooldown.alerted = true
	ev.allowed = false
}

// cooldownSoft raises one alert per activation.
func (r *Runtime) cooldownSoft(ev *evaluation) {
	if !r.cfg.Cooldown.Enabled {
		return
	}
	cd := &r.cooldown
	if !r.cooldownActive() {
		cd.pending = false
		cd.alerted = false
		return
	}
	if cd.pending || !cd.alerted {
		r.emit(ev, AlertCooldownSoft, true, ev.ts, *cd.activeUntil, r.cooldownPayload())
		cd.pending = false
		cd.alerted = true
	}
}
