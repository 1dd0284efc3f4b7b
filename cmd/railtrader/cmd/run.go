package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/railtrader/config"
	"github.com/rustyeddy/railtrader/engine"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay ticks through the engine",
	Long: `Run the engine over the tick files named in a configuration file.

Environment variables prefixed RAILTRADER_ override the file, e.g.
RAILTRADER_KILL_SWITCH=true blocks every new entry.

Example:
  railtrader run -f run.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if err := env.Apply(cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, cfg, log.StandardLogger(), cmd.OutOrStdout())
}

// execute runs one configured replay, alongside the status server when
// metrics.listen is set, and prints a summary to out.
func execute(ctx context.Context, cfg *config.Config, logger log.FieldLogger, out io.Writer) error {
	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, done := context.WithCancel(gctx)
	defer done()

	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveStatus(runCtx, cfg.Metrics.Listen, statusRouter(s.recorder, logger), logger)
		})
	}
	g.Go(func() error {
		defer done()
		return s.loop.Run(runCtx, s.feed)
	})

	runErr := g.Wait()
	if err := s.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close journal: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	printSummary(out, s)
	return nil
}

func printSummary(out io.Writer, s *stack) {
	st := s.loop.Stats()
	fmt.Fprintf(out, "RUN_ID=%s\n", s.cfg.Run.RunID)
	fmt.Fprintf(out, "ENGINE_INSTANCE=%s\n", s.instance)
	fmt.Fprintf(out, "CONFIG_HASH=%s\n", s.configHash)
	fmt.Fprintf(out, "DATA_VERSION=%s\n", s.dataVersion)
	if s.eventsPath != "" {
		fmt.Fprintf(out, "JOURNAL_DIR_EVENTS=%s\n", s.eventsPath)
		fmt.Fprintf(out, "JOURNAL_DIR_TRADES=%s\n", s.tradesPath)
	}
	if s.sqlite != nil {
		fmt.Fprintf(out, "JOURNAL_DB=%s\n", s.cfg.Journal.DBPath)
	}
	fmt.Fprintln(out, summaryLine(st, len(s.script.Remaining()), s.risk.Equity().String()))
}

// summaryLine reports pending, the scripted intents the replay never reached.
func summaryLine(st engine.Stats, pending int, equity string) string {
	return fmt.Sprintf("ticks=%d bars=%d duplicates=%d decisions=%d trades=%d pending=%d equity=%s",
		st.Ticks, st.Bars, st.Duplicates, st.Decisions, st.Trades, pending, equity)
}
