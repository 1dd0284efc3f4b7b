// Package id hands out ULIDs for engine instances and ad-hoc run ids.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs. IDs minted in the same millisecond
// still sort in creation order.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator draws entropy from seed. A zero seed is replaced with one read
// from crypto/rand.
func NewGenerator(seed int64, now func() time.Time) *Generator {
	if seed == 0 {
		_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     now,
	}
}

func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.entropy)
	if err != nil {
		// only on entropy overflow within one millisecond
		panic(err)
	}
	return id.String()
}

// Prefixed returns prefix-ULID in lower case, e.g. "eng-01hq...".
func (g *Generator) Prefixed(prefix string) string {
	return prefix + "-" + strings.ToLower(g.New())
}

var std = NewGenerator(0, nil)

// New returns a ULID string from the process generator.
func New() string { return std.New() }

// EngineInstance names one engine process in snapshots and logs.
func EngineInstance() string { return std.Prefixed("eng") }

// Time extracts the millisecond timestamp of a ULID, with or without a
// prefix.
func Time(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		s = s[i+1:]
	}
	u, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
