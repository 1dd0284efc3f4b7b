package risk

// Alert event types. Downstream consumers match on these strings.
const (
	AlertBlockSessionWindow   = "ALERT_BLOCK_SESSION_WINDOW"
	AlertBlockDailyLossCap    = "ALERT_BLOCK_DAILY_LOSS_CAP"
	AlertBlockDailyGainCap    = "ALERT_BLOCK_DAILY_GAIN_CAP"
	AlertThrottleDailyGainCap = "ALERT_THROTTLE_DAILY_GAIN_CAP"
	AlertBlockGlobalDrawdown  = "ALERT_BLOCK_GLOBAL_DRAWDOWN"
	AlertBlockNewsBlackout    = "ALERT_BLOCK_NEWS_BLACKOUT"
	AlertBlockNetExposure     = "ALERT_BLOCK_NET_EXPOSURE"

	AlertMaxPositionSoft = "ALERT_RISK_MAX_POSITION_SOFT"
	AlertMaxPositionHard = "ALERT_RISK_MAX_POSITION_HARD"
	AlertSymbolCapSoft   = "ALERT_RISK_SYMBOL_CAP_SOFT"
	AlertSymbolCapHard   = "ALERT_RISK_SYMBOL_CAP_HARD"
	AlertBrokerCapSoft   = "ALERT_RISK_BROKER_CAP_SOFT"
	AlertBrokerCapHard   = "ALERT_RISK_BROKER_CAP_HARD"
	AlertCooldownSoft    = "ALERT_RISK_COOLDOWN_SOFT"
	AlertCooldownHard    = "ALERT_RISK_COOLDOWN_HARD"
)
