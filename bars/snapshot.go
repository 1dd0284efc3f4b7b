package bars

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/railtrader/market"
	log "github.com/sirupsen/logrus"
)

// SnapshotSchemaVersion is bumped when the snapshot layout changes. Files with
// another version are ignored on load.
const SnapshotSchemaVersion = 1

// Store persists a tracker keyed by run id.
type Store interface {
	Load(runID string) (*Tracker, error)
	Save(runID string, t *Tracker) error
}

type snapshotFile struct {
	SchemaVersion    int           `json:"schema_version"`
	EngineInstanceID string        `json:"engine_instance_id"`
	Bars             []snapshotBar `json:"bars"`
}

type snapshotBar struct {
	InstrumentID    string    `json:"instrument_id"`
	IntervalSeconds float64   `json:"interval_seconds"`
	StartUTC        time.Time `json:"start_utc"`
}

// FileStore writes one JSON snapshot per run under Dir.
type FileStore struct {
	Dir              string
	EngineInstanceID string
	Logger           log.FieldLogger
}

func NewFileStore(dir, engineInstanceID string) *FileStore {
	return &FileStore{Dir: dir, EngineInstanceID: engineInstanceID, Logger: log.StandardLogger()}
}

func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

// Load never fails on bad content: a missing, truncated or foreign snapshot
// yields an empty tracker and a warning.
func (s *FileStore) Load(runID string) (*Tracker, error) {
	path := s.Path(runID)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTracker(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bar snapshot: %w", err)
	}

	var f snapshotFile
	if err := json.Unmarshal(b, &f); err != nil {
		s.logger().WithError(err).WithField("path", path).Warn("bar snapshot unreadable; starting empty")
		return NewTracker(), nil
	}
	if f.SchemaVersion != SnapshotSchemaVersion {
		s.logger().WithFields(log.Fields{
			"path":    path,
			"version": f.SchemaVersion,
		}).Warn("bar snapshot schema mismatch; starting empty")
		return NewTracker(), nil
	}

	keys := make([]market.BarKey, 0, len(f.Bars))
	for _, sb := range f.Bars {
		iv, err := market.NewInterval(time.Duration(sb.IntervalSeconds * float64(time.Second)))
		if err != nil || sb.InstrumentID == "" {
			s.logger().WithField("path", path).Warn("bar snapshot has invalid entry; starting empty")
			return NewTracker(), nil
		}
		keys = append(keys, market.BarKey{Instrument: sb.InstrumentID, Interval: iv, Start: sb.StartUTC.UTC()})
	}
	return NewTrackerFrom(keys), nil
}

// Save writes to a temp file and renames it over the previous snapshot.
func (s *FileStore) Save(runID string, t *Tracker) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	keys := t.Snapshot()
	f := snapshotFile{
		SchemaVersion:    SnapshotSchemaVersion,
		EngineInstanceID: s.EngineInstanceID,
		Bars:             make([]snapshotBar, 0, len(keys)),
	}
	for _, k := range keys {
		f.Bars = append(f.Bars, snapshotBar{
			InstrumentID:    k.Instrument,
			IntervalSeconds: k.Interval.Seconds(),
			StartUTC:        k.Start,
		})
	}

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bar snapshot: %w", err)
	}

	path := s.Path(runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write bar snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace bar snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) logger() log.FieldLogger {
	if s.Logger == nil {
		return log.StandardLogger()
	}
	return s.Logger
}

// MemoryStore keeps snapshots in process. Tests and dry runs use it.
type MemoryStore struct {
	snaps map[string][]market.BarKey
	Saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]market.BarKey)}
}

func (m *MemoryStore) Load(runID string) (*Tracker, error) {
	return NewTrackerFrom(m.snaps[runID]), nil
}

func (m *MemoryStore) Save(runID string, t *Tracker) error {
	m.snaps[runID] = t.Snapshot()
	m.Saves++
	return nil
}
