package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/railtrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query a SQLite run journal",
	Long: `Query the events and trades a run stored in its SQLite journal.

Subcommands:
  events  - List the run's events in sequence order
  trades  - List the run's closed trades (optionally one UTC day)
  trade   - Show one trade by decision id

Examples:
  railtrader journal events --run m0-demo --type ALERT_BLOCK_NET_EXPOSURE
  railtrader journal trades --run m0-demo --day 2024-01-02
  railtrader journal trade --run m0-demo M0-EURUSD-01`,
}

var journalEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the run's events",
	Args:  cobra.NoArgs,
	RunE:  runJournalEvents,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List the run's trades",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <decision-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var (
	journalDBPath    string
	journalRunID     string
	journalEventType string
	journalDay       string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEventsCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalTradeCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./railtrader.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVarP(&journalRunID, "run", "r", "m0-demo", "run id")
	journalEventsCmd.Flags().StringVarP(&journalEventType, "type", "t", "", "only events of this type")
	journalTradesCmd.Flags().StringVar(&journalDay, "day", "", "only trades closed on this UTC day (YYYY-MM-DD)")
}

func openJournalDB() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath, journalRunID)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.ListEvents(journalEventType)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, ev := range events {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", ev.Sequence, ev.Time.UTC().Format(time.RFC3339), ev.Type, ev.Payload)
	}
	return nil
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	var recs []journal.TradeRecord
	if journalDay != "" {
		start, end, err := dayBounds(journalDay)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		recs, err = j.ListTradesClosedBetween(start, end)
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
	} else {
		recs, err = j.ListTrades()
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

// dayBounds is the UTC day [start, start+24h).
func dayBounds(day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return t, t.Add(24 * time.Hour), nil
}
