// Package config loads and validates the run configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/replay"
	"github.com/rustyeddy/railtrader/risk"
	"github.com/rustyeddy/railtrader/slippage"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete run configuration
type Config struct {
	Run         RunConfig         `json:"run" yaml:"run"`
	Data        DataConfig        `json:"data" yaml:"data"`
	Strategy    StrategyConfig    `json:"strategy" yaml:"strategy"`
	Journal     JournalConfig     `json:"journal" yaml:"journal"`
	Risk        risk.Config       `json:"risk" yaml:"risk"`
	News        NewsConfig        `json:"news" yaml:"news"`
	Slippage    slippage.Profile  `json:"slippage" yaml:"slippage"`
	Idempotency IdempotencyConfig `json:"idempotency" yaml:"idempotency"`
	Adapter     AdapterConfig     `json:"adapter" yaml:"adapter"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// RunConfig identifies the run and carries the dispatcher switches.
type RunConfig struct {
	RunID          string            `json:"run_id" yaml:"run_id"`
	SourceAdapter  string            `json:"source_adapter" yaml:"source_adapter"`
	Instruments    []string          `json:"instruments" yaml:"instruments"`
	Intervals      []market.Interval `json:"intervals" yaml:"intervals"`
	StartingEquity decimal.Decimal   `json:"starting_equity" yaml:"starting_equity"`
	SnapshotDir    string            `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`

	KillSwitch        bool             `json:"kill_switch" yaml:"kill_switch"`
	MaxUnitsPerSymbol map[string]int64 `json:"max_units_per_symbol,omitempty" yaml:"max_units_per_symbol,omitempty"`
	DefaultMaxUnits   int64            `json:"default_max_units,omitempty" yaml:"default_max_units,omitempty"`
}

// DataConfig points at the tick files. Ticks maps instrument to path.
type DataConfig struct {
	Format string            `json:"format" yaml:"format"`
	Ticks  map[string]string `json:"ticks,omitempty" yaml:"ticks,omitempty"`
	Tagged []string          `json:"tagged,omitempty" yaml:"tagged,omitempty"`
}

type StrategyConfig struct {
	Units int64    `json:"units" yaml:"units"`
	Hold  Duration `json:"hold" yaml:"hold"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "csv", "sqlite" or "both"
	Dir    string `json:"dir" yaml:"dir"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type NewsConfig struct {
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	URL     string   `json:"url,omitempty" yaml:"url,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Watch   bool     `json:"watch,omitempty" yaml:"watch,omitempty"`
}

type IdempotencyConfig struct {
	TTL            Duration `json:"ttl" yaml:"ttl"`
	OrderCapacity  int      `json:"order_capacity" yaml:"order_capacity"`
	CancelCapacity int      `json:"cancel_capacity" yaml:"cancel_capacity"`
	Path           string   `json:"path,omitempty" yaml:"path,omitempty"`
}

type AdapterConfig struct {
	RetryAttempts int      `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  Duration `json:"retry_backoff" yaml:"retry_backoff"`
	RatePerSecond float64  `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
	Burst         int      `json:"burst,omitempty" yaml:"burst,omitempty"`
}

type MetricsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// Duration reads Go duration strings ("30m", "24h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadFromFile loads configuration from a file, YAML first then JSON
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = &Config{}
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}
	cfg.resolve(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resolve makes relative data paths relative to the config file.
func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for inst, p := range c.Data.Ticks {
		c.Data.Ticks[inst] = abs(p)
	}
	for i, p := range c.Data.Tagged {
		c.Data.Tagged[i] = abs(p)
	}
	c.News.Path = abs(c.News.Path)
}

// SaveToFile saves configuration to a file, YAML for .yaml/.yml and JSON otherwise
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Run.RunID == "" {
		return fmt.Errorf("run.run_id is required")
	}
	if len(c.Run.Instruments) == 0 {
		return fmt.Errorf("run.instruments is required")
	}
	if len(c.Run.Intervals) == 0 {
		return fmt.Errorf("run.intervals is required")
	}
	if c.Run.StartingEquity.IsNegative() {
		return fmt.Errorf("run.starting_equity must not be negative")
	}
	for sym, v := range c.Run.MaxUnitsPerSymbol {
		if v <= 0 {
			return fmt.Errorf("run.max_units_per_symbol.%s must be positive", sym)
		}
	}

	format, err := replay.ParseFormat(c.Data.Format)
	if err != nil {
		return fmt.Errorf("data.format: %w", err)
	}
	if format == replay.FormatTagged {
		if len(c.Data.Tagged) == 0 {
			return fmt.Errorf("data.tagged is required for the tagged format")
		}
	} else {
		for _, inst := range c.Run.Instruments {
			if c.Data.Ticks[inst] == "" {
				return fmt.Errorf("data.ticks.%s is required", inst)
			}
		}
	}

	if c.Strategy.Units < 0 {
		return fmt.Errorf("strategy.units must not be negative")
	}

	switch c.Journal.Type {
	case "csv", "sqlite", "both":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'both'")
	}
	if c.Journal.Type != "sqlite" && c.Journal.Dir == "" {
		return fmt.Errorf("journal.dir required for CSV type")
	}
	if c.Journal.Type != "csv" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path required for SQLite type")
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if _, err := slippage.New(c.Slippage); err != nil {
		return fmt.Errorf("slippage: %w", err)
	}
	if c.News.Watch && c.News.Path == "" {
		return fmt.Errorf("news.watch requires news.path")
	}
	if c.Idempotency.OrderCapacity < 0 || c.Idempotency.CancelCapacity < 0 {
		return fmt.Errorf("idempotency capacities must not be negative")
	}
	if c.Adapter.RetryAttempts < 0 {
		return fmt.Errorf("adapter.retry_attempts must not be negative")
	}
	if c.Adapter.RatePerSecond < 0 {
		return fmt.Errorf("adapter.rate_per_second must not be negative")
	}
	return nil
}

// Sources lists the tick files in the form replay.Load takes.
func (c *Config) Sources() []replay.Source {
	format, _ := replay.ParseFormat(c.Data.Format)
	var out []replay.Source
	if format == replay.FormatTagged {
		for _, p := range c.Data.Tagged {
			out = append(out, replay.Source{Path: p, Format: format})
		}
		return out
	}
	for _, inst := range market.SortInstruments(c.Run.Instruments) {
		out = append(out, replay.Source{Path: c.Data.Ticks[inst], Instrument: inst, Format: format})
	}
	return out
}

// Hash is the hex sha256 of the canonical JSON encoding. encoding/json sorts
// map keys, so equal configs hash equally.
func (c *Config) Hash() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Run: RunConfig{
			RunID:          "m0-demo",
			SourceAdapter:  "sim",
			Instruments:    []string{"EURUSD", "GBPUSD"},
			Intervals:      []market.Interval{market.Minute},
			StartingEquity: risk.DefaultStartingEquity,
			SnapshotDir:    "./state/bars",
		},
		Data: DataConfig{
			Format: string(replay.FormatQuote),
			Ticks: map[string]string{
				"EURUSD": "./data/eurusd.csv",
				"GBPUSD": "./data/gbpusd.csv",
			},
		},
		Strategy: StrategyConfig{Units: 1000, Hold: Duration(30 * time.Minute)},
		Journal:  JournalConfig{Type: "csv", Dir: "./journal"},
		Risk:     risk.Config{Mode: risk.ModeTelemetry},
		Slippage: slippage.Profile{Model: "zero"},
		Idempotency: IdempotencyConfig{
			TTL:            Duration(24 * time.Hour),
			OrderCapacity:  10_000,
			CancelCapacity: 10_000,
		},
		Adapter: AdapterConfig{RetryAttempts: 1},
	}
}
