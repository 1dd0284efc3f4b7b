package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/market"
	"github.com/shopspring/decimal"
)

// Row is one parsed CSV line. Quote is set for bid/ask formats.
type Row struct {
	Tick  market.Tick
	Quote *market.Quote
}

// Format selects the column layout of a tick file.
type Format string

const (
	// FormatPrice is timestamp_utc,price,volume for one instrument.
	FormatPrice Format = "price"
	// FormatQuote is timestamp_utc,bid,ask,volume for one instrument. The
	// tick price is the mid.
	FormatQuote Format = "quote"
	// FormatTagged is time,instrument,bid,ask[,volume] with several
	// instruments per file.
	FormatTagged Format = "tagged"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatPrice, nil
	case FormatPrice, FormatQuote, FormatTagged:
		return f, nil
	default:
		return "", fmt.Errorf("replay: unknown tick format %q", raw)
	}
}

// Read parses r in the given format. instrument names the rows of the
// single-instrument formats and is ignored for FormatTagged. A first row
// whose timestamp does not parse is taken as a header.
func Read(r io.Reader, format Format, instrument string) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Row
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		row, err := parseRow(rec, format, instrument)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		out = append(out, row)
	}
}

func blank(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "")
}

func isHeader(rec []string) bool {
	_, err := parseTime(rec[0])
	return err != nil
}

func parseRow(rec []string, format Format, instrument string) (Row, error) {
	switch format {
	case FormatQuote:
		if len(rec) < 4 {
			return Row{}, fmt.Errorf("need timestamp_utc,bid,ask,volume, got %d columns", len(rec))
		}
		return quoteRow(instrument, rec[0], rec[1], rec[2], rec[3])
	case FormatTagged:
		if len(rec) < 4 {
			return Row{}, fmt.Errorf("need time,instrument,bid,ask, got %d columns", len(rec))
		}
		vol := "0"
		if len(rec) > 4 && strings.TrimSpace(rec[4]) != "" {
			vol = rec[4]
		}
		return quoteRow(market.NormalizeSymbol(rec[1]), rec[0], rec[2], rec[3], vol)
	default:
		if len(rec) < 3 {
			return Row{}, fmt.Errorf("need timestamp_utc,price,volume, got %d columns", len(rec))
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			return Row{}, err
		}
		price, err := parseDecimal("price", rec[1])
		if err != nil {
			return Row{}, err
		}
		vol, err := parseDecimal("volume", rec[2])
		if err != nil {
			return Row{}, err
		}
		t, err := market.NewTick(instrument, ts, price, vol)
		return Row{Tick: t}, err
	}
}

func quoteRow(instrument, rawTS, rawBid, rawAsk, rawVol string) (Row, error) {
	ts, err := parseTime(rawTS)
	if err != nil {
		return Row{}, err
	}
	bid, err := parseDecimal("bid", rawBid)
	if err != nil {
		return Row{}, err
	}
	ask, err := parseDecimal("ask", rawAsk)
	if err != nil {
		return Row{}, err
	}
	vol, err := parseDecimal("volume", rawVol)
	if err != nil {
		return Row{}, err
	}
	q := market.Quote{Bid: bid, Ask: ask}
	t, err := market.NewTick(instrument, ts, q.Mid(), vol)
	if err != nil {
		return Row{}, err
	}
	return Row{Tick: t, Quote: &q}, nil
}

// parseTime accepts RFC 3339 with or without fractional seconds, and zone-less
// timestamps, which are read as UTC. Offsets are converted to UTC.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", raw)
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad %s %q: %w", field, raw, err)
	}
	return d, nil
}

// TaggedHeader is the header WriteTagged emits.
var TaggedHeader = []string{"time", "instrument", "bid", "ask", "volume"}

// WriteTagged writes quote rows in FormatTagged. Rows without a quote use the
// tick price for both sides.
func WriteTagged(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TaggedHeader); err != nil {
		return err
	}
	for _, r := range rows {
		bid, ask := r.Tick.Price, r.Tick.Price
		if r.Quote != nil {
			bid, ask = r.Quote.Bid, r.Quote.Ask
		}
		rec := []string{
			r.Tick.Time.UTC().Format(time.RFC3339Nano),
			r.Tick.Instrument,
			bid.String(),
			ask.String(),
			r.Tick.Volume.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
