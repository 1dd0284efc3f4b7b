package dispatch

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultTTL            = 24 * time.Hour
	DefaultOrderCapacity  = 10_000
	DefaultCancelCapacity = 10_000
)

// KeyKind separates order keys from cancel keys. Each has its own capacity.
type KeyKind int

const (
	KindOrder KeyKind = iota
	KindCancel
)

func (k KeyKind) String() string {
	if k == KindCancel {
		return "cancel"
	}
	return "order"
}

func (k KeyKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *KeyKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "order", "":
		*k = KindOrder
	case "cancel":
		*k = KindCancel
	default:
		return fmt.Errorf("unknown idempotency kind %q", string(b))
	}
	return nil
}

// Record is one persisted idempotency key.
type Record struct {
	Kind KeyKind   `json:"kind"`
	Key  string    `json:"key"`
	Time time.Time `json:"timestamp_utc"`
}

// Store persists the cache. Save receives the complete key set.
type Store interface {
	Load() ([]Record, error)
	Save([]Record) error
}

type CacheMetrics struct {
	OrderCacheSize  int
	CancelCacheSize int
	TotalEvictions  int64
}

type CacheOptions struct {
	TTL            time.Duration
	OrderCapacity  int
	CancelCapacity int
	Store          Store
	OnMetrics      func(CacheMetrics)
	Logger         log.FieldLogger
}

// Cache remembers dispatched keys for TTL. Past capacity the oldest keys are
// dropped, ties broken by key.
type Cache struct {
	ttl       time.Duration
	capacity  [2]int
	keys      [2]map[string]time.Time
	store     Store
	onMetrics func(CacheMetrics)
	logger    log.FieldLogger

	evictions int64
	warned    bool
}

// NewCache builds a cache and, when a store is set, loads it. Keys older than
// TTL relative to now are dropped on load.
func NewCache(opts CacheOptions, now time.Time) (*Cache, error) {
	c := &Cache{
		ttl:       opts.TTL,
		capacity:  [2]int{opts.OrderCapacity, opts.CancelCapacity},
		keys:      [2]map[string]time.Time{{}, {}},
		store:     opts.Store,
		onMetrics: opts.OnMetrics,
		logger:    opts.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.capacity[KindOrder] <= 0 {
		c.capacity[KindOrder] = DefaultOrderCapacity
	}
	if c.capacity[KindCancel] <= 0 {
		c.capacity[KindCancel] = DefaultCancelCapacity
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}

	if c.store == nil {
		return c, nil
	}
	recs, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	expired := 0
	for _, r := range recs {
		if now.Sub(r.Time) > c.ttl {
			expired++
			continue
		}
		c.keys[r.Kind][r.Key] = r.Time.UTC()
	}
	c.trim(KindOrder, false)
	c.trim(KindCancel, false)
	if expired > 0 {
		c.logger.WithField("expired", expired).Info("dropped expired idempotency keys")
	}
	if err := c.store.Save(c.records()); err != nil {
		return nil, fmt.Errorf("save idempotency keys: %w", err)
	}
	c.metrics()
	return c, nil
}

// Contains reports whether key was added within TTL of now.
func (c *Cache) Contains(kind KeyKind, key string, now time.Time) bool {
	at, ok := c.keys[kind][key]
	return ok && now.Sub(at) <= c.ttl
}

// Add registers key at the given time, expiring and trimming as needed.
func (c *Cache) Add(kind KeyKind, key string, at time.Time) error {
	c.expire(kind, at)
	c.keys[kind][key] = at.UTC()
	c.trim(kind, true)
	return c.changed()
}

func (c *Cache) Remove(kind KeyKind, key string) error {
	if _, ok := c.keys[kind][key]; !ok {
		return nil
	}
	delete(c.keys[kind], key)
	return c.changed()
}

func (c *Cache) Metrics() CacheMetrics {
	return CacheMetrics{
		OrderCacheSize:  len(c.keys[KindOrder]),
		CancelCacheSize: len(c.keys[KindCancel]),
		TotalEvictions:  c.evictions,
	}
}

func (c *Cache) expire(kind KeyKind, now time.Time) {
	for k, at := range c.keys[kind] {
		if now.Sub(at) > c.ttl {
			delete(c.keys[kind], k)
			c.evicted(kind, k)
		}
	}
}

func (c *Cache) trim(kind KeyKind, count bool) {
	m := c.keys[kind]
	over := len(m) - c.capacity[kind]
	if over <= 0 {
		return
	}
	for _, r := range sortedRecords(kind, m)[:over] {
		delete(m, r.Key)
		if count {
			c.evicted(kind, r.Key)
		}
	}
}

func (c *Cache) evicted(kind KeyKind, key string) {
	c.evictions++
	if !c.warned {
		c.warned = true
		c.logger.WithFields(log.Fields{
			"kind":     kind.String(),
			"key":      key,
			"capacity": c.capacity[kind],
			"ttl":      c.ttl.String(),
		}).Warn("idempotency cache evicting keys")
	}
}

func (c *Cache) changed() error {
	c.metrics()
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(c.records()); err != nil {
		return fmt.Errorf("save idempotency keys: %w", err)
	}
	return nil
}

func (c *Cache) metrics() {
	if c.onMetrics != nil {
		c.onMetrics(c.Metrics())
	}
}

func (c *Cache) records() []Record {
	return append(sortedRecords(KindOrder, c.keys[KindOrder]), sortedRecords(KindCancel, c.keys[KindCancel])...)
}

func sortedRecords(kind KeyKind, m map[string]time.Time) []Record {
	out := make([]Record, 0, len(m))
	for k, at := range m {
		out = append(out, Record{Kind: kind, Key: k, Time: at})
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}
