package journal

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

var TradesHeader = []string{
	"utc_ts_open", "utc_ts_close", "symbol", "direction",
	"entry_price", "exit_price", "volume_units", "pnl_ccy", "pnl_r",
	"decision_id", "schema_version", "config_hash", "src_adapter", "data_version",
}

const tradeTimeLayout = "2006-01-02T15:04:05Z"

func tradeRow(r TradeRecord) []string {
	return []string{
		r.OpenTime.UTC().Format(tradeTimeLayout),
		r.CloseTime.UTC().Format(tradeTimeLayout),
		r.Symbol,
		r.Direction.String(),
		r.EntryPrice.String(),
		r.ExitPrice.String(),
		strconv.FormatInt(r.Units, 10),
		r.PnL.StringFixed(2),
		"0",
		r.DecisionID,
		r.SchemaVersion,
		r.ConfigHash,
		r.Source,
		r.DataVersion,
	}
}

// sortTradeRows orders rows by open time, then symbol. Equal keys keep
// their close order. The open time layout is fixed width, so string order
// is time order.
func sortTradeRows(rows [][]string) {
	slices.SortStableFunc(rows, func(a, b []string) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[2], b[2])
	})
}

// readTradeRows returns the data rows of an existing trades file, or none
// when it does not exist.
func readTradeRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(TradesHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if !slices.Equal(rows[0], TradesHeader) {
		return nil, fmt.Errorf("unexpected trades header %v", rows[0])
	}
	return rows[1:], nil
}

// writeTradeRows replaces path via a temp file and rename, so readers never
// see a partial file.
func writeTradeRows(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("trades dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(TradesHeader); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
