// Package news loads economic calendar events used by the news blackout gate.
package news

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/market"
)

type Event struct {
	Time   time.Time `json:"utc"`
	Impact string    `json:"impact"`
	Tags   []string  `json:"tags"`
}

// MatchesInstrument reports whether any tag names the instrument's base or
// quote currency.
func (e Event) MatchesInstrument(instrument string) bool {
	if len(e.Tags) == 0 {
		return false
	}
	base, quote := market.Currencies(instrument)
	for _, tag := range e.Tags {
		if strings.EqualFold(tag, base) || (quote != "" && strings.EqualFold(tag, quote)) {
			return true
		}
	}
	return false
}

// Blackout returns the first event for instrument inside [at-before, at+after].
func Blackout(events []Event, instrument string, at time.Time, before, after time.Duration) (Event, bool) {
	lo, hi := at.Add(-before), at.Add(after)
	for _, ev := range events {
		if ev.Time.Before(lo) || ev.Time.After(hi) {
			continue
		}
		if ev.MatchesInstrument(instrument) {
			return ev, true
		}
	}
	return Event{}, false
}

type rawEvent struct {
	UTC    string            `json:"utc"`
	Impact string            `json:"impact"`
	Tags   []json.RawMessage `json:"tags"`
}

// Parse reads a JSON array of events. Entries without a parseable utc
// timestamp are skipped, as are non-string tags. The result is sorted by time.
func Parse(r io.Reader) ([]Event, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}

	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var re rawEvent
		if err := json.Unmarshal(raw, &re); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(re.UTC))
		if err != nil {
			continue
		}
		ev := Event{Time: ts.UTC(), Impact: re.Impact}
		for _, t := range re.Tags {
			var s string
			if json.Unmarshal(t, &s) != nil {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				ev.Tags = append(ev.Tags, s)
			}
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// LoadFile parses the events in path. A missing file yields no events.
func LoadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open news file: %w", err)
	}
	defer f.Close()

	events, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}
