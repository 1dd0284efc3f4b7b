package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every override, e.g. RAILTRADER_KILL_SWITCH.
const EnvPrefix = "RAILTRADER"

// Env holds the overrides read from the environment before a run. Pointer
// fields are nil when the variable is unset.
type Env struct {
	KillSwitch *bool  `envconfig:"KILL_SWITCH"`
	RunID      string `envconfig:"RUN_ID"`
	RiskMode   string `envconfig:"RISK_MODE"`
	JournalDir string `envconfig:"JOURNAL_DIR"`
	Metrics    string `envconfig:"METRICS_LISTEN"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`
	Units      *int64 `envconfig:"UNITS"`
	OandaToken string `envconfig:"OANDA_TOKEN"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return Env{}, fmt.Errorf("error processing env config: %w", err)
	}
	return e, nil
}

// Apply copies the set overrides onto c and revalidates it.
func (e Env) Apply(c *Config) error {
	if e.KillSwitch != nil {
		c.Run.KillSwitch = *e.KillSwitch
	}
	if e.RunID != "" {
		c.Run.RunID = e.RunID
	}
	if e.RiskMode != "" {
		if err := c.Risk.Mode.UnmarshalText([]byte(e.RiskMode)); err != nil {
			return fmt.Errorf("%s_RISK_MODE: %w", EnvPrefix, err)
		}
	}
	if e.JournalDir != "" {
		c.Journal.Dir = e.JournalDir
	}
	if e.Metrics != "" {
		c.Metrics.Listen = e.Metrics
	}
	if e.Units != nil {
		c.Strategy.Units = *e.Units
	}
	return c.Validate()
}
