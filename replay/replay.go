// Package replay loads recorded ticks into a deterministic, sorted stream
// and the quote book the simulated adapter fills against.
package replay

import (
	"bufio"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/broker/sim"
	"github.com/rustyeddy/railtrader/market"
	log "github.com/sirupsen/logrus"
)

// Source is one tick file. Instrument is required for the single
// instrument formats.
type Source struct {
	Path       string
	Instrument string
	Format     Format
}

// Feed is a loaded replay. It implements engine.TickSource.
type Feed struct {
	ticks []market.Tick
	book  *sim.TickBook
	paths []string
	pos   int
}

// Load reads every source, sorts the ticks by (time, instrument) and fills
// the tick book from quote rows. Price-only rows enter the book as a
// zero-spread quote.
func Load(sources []Source, logger log.FieldLogger) (*Feed, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("replay: no tick sources")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	ordered := slices.Clone(sources)
	slices.SortStableFunc(ordered, func(a, b Source) int {
		return cmp.Or(cmp.Compare(a.Instrument, b.Instrument), cmp.Compare(a.Path, b.Path))
	})

	f := &Feed{book: sim.NewTickBook()}
	for _, src := range ordered {
		if src.Format != FormatTagged && src.Instrument == "" {
			return nil, fmt.Errorf("replay: %s: instrument is required", src.Path)
		}
		rows, err := readFile(src)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			f.ticks = append(f.ticks, r.Tick)
			q := market.Quote{Bid: r.Tick.Price, Ask: r.Tick.Price}
			if r.Quote != nil {
				q = *r.Quote
			}
			f.book.Put(r.Tick.Instrument, r.Tick.Time, q)
		}
		f.paths = append(f.paths, src.Path)
		logger.WithFields(log.Fields{"path": src.Path, "instrument": src.Instrument, "rows": len(rows)}).Debug("ticks loaded")
	}

	slices.SortStableFunc(f.ticks, func(a, b market.Tick) int {
		return cmp.Or(a.Time.Compare(b.Time), cmp.Compare(a.Instrument, b.Instrument))
	})
	return f, nil
}

// FromTicks builds a feed over ticks already in memory.
func FromTicks(ticks []market.Tick) *Feed {
	f := &Feed{ticks: slices.Clone(ticks), book: sim.NewTickBook()}
	slices.SortStableFunc(f.ticks, func(a, b market.Tick) int {
		return cmp.Or(a.Time.Compare(b.Time), cmp.Compare(a.Instrument, b.Instrument))
	})
	for _, t := range f.ticks {
		f.book.Put(t.Instrument, t.Time, market.Quote{Bid: t.Price, Ask: t.Price})
	}
	return f
}

func readFile(src Source) ([]Row, error) {
	fh, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer fh.Close()

	rows, err := Read(fh, src.Format, src.Instrument)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, src.Path)
	}
	return rows, nil
}

func (f *Feed) Next() (market.Tick, bool, error) {
	if f.pos >= len(f.ticks) {
		return market.Tick{}, false, nil
	}
	t := f.ticks[f.pos]
	f.pos++
	return t, true, nil
}

func (f *Feed) Len() int { return len(f.ticks) }
func (f *Feed) Book() *sim.TickBook { return f.book }
func (f *Feed) Ticks() []market.Tick { return slices.Clone(f.ticks) }
func (f *Feed) Rewind() { f.pos = 0 }
func (f *Feed) Paths() []string { return slices.Clone(f.paths) }

// Start is the first tick time, zero for an empty feed.
func (f *Feed) Start() time.Time {
	if len(f.ticks) == 0 {
		return time.Time{}
	}
	return f.ticks[0].Time
}

// Instruments lists the instruments present, in ordinal order.
func (f *Feed) Instruments() []string {
	seen := map[string]struct{}{}
	for _, t := range f.ticks {
		seen[t.Instrument] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// DataVersion is the upper case hex sha256 of the files' lines, each
// right-trimmed and LF terminated.
func DataVersion(paths ...string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		fh, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("data version: %w", err)
		}
		sc := bufio.NewScanner(fh)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), " \t\r")
			h.Write([]byte(line + "\n"))
		}
		err = sc.Err()
		fh.Close()
		if err != nil {
			return "", fmt.Errorf("data version %s: %w", p, err)
		}
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
