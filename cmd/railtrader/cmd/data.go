package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/railtrader/config"
	"github.com/rustyeddy/railtrader/oanda"
	"github.com/rustyeddy/railtrader/replay"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Fetch tick data for replay",
}

var dataOandaCmd = &cobra.Command{
	Use:   "oanda",
	Short: "Download OANDA candle closes as a tagged tick file",
	Long: `Download bid/ask candles from the OANDA v3 API and write their closes
as a tagged tick file (time,instrument,bid,ask,volume) for data.format: tagged.

The token is read from --token or ` + config.EnvPrefix + `_OANDA_TOKEN.

Example:
  railtrader data oanda --instrument EUR_USD --from 2024-01-02T00:00:00Z --to 2024-01-03T00:00:00Z -o data/eurusd.csv`,
	RunE: runDataOanda,
}

var (
	oandaEnv          string
	oandaToken        string
	oandaInstrument   string
	oandaGranularity  string
	oandaPrice        string
	oandaFrom         string
	oandaTo           string
	oandaOut          string
	oandaCompleteOnly bool
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataOandaCmd)

	f := dataOandaCmd.Flags()
	f.StringVar(&oandaEnv, "env", "practice", "OANDA environment: practice or live")
	f.StringVar(&oandaToken, "token", "", "OANDA personal access token")
	f.StringVar(&oandaInstrument, "instrument", "EUR_USD", "instrument, e.g. EUR_USD")
	f.StringVar(&oandaGranularity, "granularity", "M1", "candle granularity")
	f.StringVar(&oandaPrice, "price", string(oanda.BidAsk), "price components: BA (bid/ask) or M (mid)")
	f.StringVar(&oandaFrom, "from", "", "RFC3339 start time (required)")
	f.StringVar(&oandaTo, "to", "", "RFC3339 end time (required)")
	f.StringVarP(&oandaOut, "output", "o", "ticks.csv", "output CSV path")
	f.BoolVar(&oandaCompleteOnly, "complete-only", true, "only write complete candles")
	dataOandaCmd.MarkFlagRequired("from")
	dataOandaCmd.MarkFlagRequired("to")
}

func runDataOanda(cmd *cobra.Command, args []string) error {
	token := oandaToken
	if token == "" {
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}
		token = env.OandaToken
	}
	if token == "" {
		return fmt.Errorf("missing token: pass --token or set %s_OANDA_TOKEN", config.EnvPrefix)
	}
	from, err := time.Parse(time.RFC3339, oandaFrom)
	if err != nil {
		return fmt.Errorf("bad --from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, oandaTo)
	if err != nil {
		return fmt.Errorf("bad --to: %w", err)
	}
	base, err := oanda.BaseURL(oandaEnv)
	if err != nil {
		return err
	}

	client := oanda.NewClient(base, token, log.StandardLogger())
	rows, err := client.Candles(cmd.Context(), oanda.CandlesRequest{
		Instrument:   oandaInstrument,
		Granularity:  oandaGranularity,
		Price:        oanda.PriceComponent(oandaPrice),
		From:         from.UTC(),
		To:           to.UTC(),
		CompleteOnly: oandaCompleteOnly,
	})
	if err != nil {
		return err
	}
	if err := writeTaggedFile(oandaOut, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), oandaOut)
	return nil
}

// writeTaggedFile writes via a temp file in the same directory and renames it
// into place.
func writeTaggedFile(path string, rows []replay.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := replay.WriteTagged(tmp, rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
