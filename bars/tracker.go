package bars

import (
	"sort"

	"github.com/rustyeddy/railtrader/market"
)

// Tracker remembers every bar key that has been emitted. Membership only grows.
type Tracker struct {
	seen map[market.BarKey]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[market.BarKey]struct{})}
}

// NewTrackerFrom seeds a tracker, typically from a persisted snapshot.
func NewTrackerFrom(keys []market.BarKey) *Tracker {
	t := NewTracker()
	for _, k := range keys {
		t.Add(k)
	}
	return t
}

func (t *Tracker) Seen(k market.BarKey) bool {
	_, ok := t.seen[normalize(k)]
	return ok
}

// Add marks k as emitted. It returns false when k was already present.
func (t *Tracker) Add(k market.BarKey) bool {
	k = normalize(k)
	if _, ok := t.seen[k]; ok {
		return false
	}
	t.seen[k] = struct{}{}
	return true
}

func (t *Tracker) Len() int { return len(t.seen) }

// Snapshot returns the keys ordered by instrument, interval and start.
func (t *Tracker) Snapshot() []market.BarKey {
	out := make([]market.BarKey, 0, len(t.seen))
	for k := range t.seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Map keys compare time.Time by value, so drop monotonic readings and zones.
func normalize(k market.BarKey) market.BarKey {
	k.Start = k.Start.UTC().Round(0)
	return k
}
