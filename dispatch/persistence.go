package dispatch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FileStore keeps idempotency keys as JSON lines. Every Save rewrites the
// whole file through a temp file and rename.
type FileStore struct {
	Path   string
	Logger log.FieldLogger

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, Logger: log.StandardLogger()}
}

func (s *FileStore) logger() log.FieldLogger {
	if s.Logger == nil {
		return log.StandardLogger()
	}
	return s.Logger
}

// Load returns the stored records. A missing file is empty; lines that fail
// to parse are logged and skipped.
func (s *FileStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}

	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil || r.Key == "" {
			s.logger().WithFields(log.Fields{"path": s.Path, "line": line}).WithError(err).Warn("skipping bad idempotency entry")
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		s.logger().WithError(err).WithField("path", s.Path).Warn("idempotency file truncated")
	}
	return out, nil
}

func (s *FileStore) Save(recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
