package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rustyeddy/railtrader/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "railtrader",
	Short: "Deterministic FX backtest engine with risk rails",
	Long: `Railtrader replays minute ticks through a bar aggregator, a scripted
strategy, risk rails and an idempotent order dispatcher.

Every run writes an ordered event journal and a trades journal. Re-running
the same config over the same data produces byte-identical journals.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

var (
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default from "+config.EnvPrefix+"_LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

func setupLogger(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	level, format := env.LogLevel, env.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return configureLogger(log.StandardLogger(), level, format)
}

func configureLogger(l *log.Logger, level, format string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)
	l.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}
	return nil
}
