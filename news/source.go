package news

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Source fetches the current calendar.
type Source interface {
	Fetch(ctx context.Context) ([]Event, error)
}

type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path)
}

// HTTPSource polls a calendar endpoint returning the same JSON array as the
// file format. Non-2xx responses and malformed bodies log and yield no events.
type HTTPSource struct {
	URL          string
	APIKeyHeader string
	APIKey       string
	Headers      map[string]string
	Query        map[string]string
	Logger       log.FieldLogger

	client *resty.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		URL:    url,
		Logger: log.StandardLogger(),
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
}

// WithClient swaps the underlying resty client.
func (s *HTTPSource) WithClient(c *resty.Client) *HTTPSource {
	s.client = c
	return s
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]Event, error) {
	if s.client == nil {
		s.client = resty.New()
	}
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(s.Headers).
		SetQueryParams(s.Query)
	if s.APIKeyHeader != "" && s.APIKey != "" {
		req.SetHeader(s.APIKeyHeader, s.APIKey)
	}

	resp, err := req.Get(s.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).WithField("url", s.URL).Warn("news fetch failed")
		return nil, nil
	}
	if resp.IsError() {
		logger.WithFields(log.Fields{"url": s.URL, "status": resp.StatusCode()}).Warn("news feed returned error status")
		return nil, nil
	}

	events, err := Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		logger.WithError(err).WithField("url", s.URL).Warn("malformed news payload")
		return nil, nil
	}
	return events, nil
}

// Watch reloads path whenever it is written and sends the new calendar on the
// returned channel. The channel holds at most one pending update; a newer
// reload replaces an unread one. It closes when ctx ends.
func Watch(ctx context.Context, path string, logger log.FieldLogger) (<-chan []Event, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("news watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("news watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("news watch %s: %w", filepath.Dir(abs), err)
	}

	out := make(chan []Event, 1)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				events, err := LoadFile(abs)
				if err != nil {
					logger.WithError(err).WithField("path", abs).Warn("news reload failed")
					continue
				}
				select {
				case <-out:
				default:
				}
				out <- events
				logger.WithFields(log.Fields{"path": abs, "events": len(events)}).Info("news calendar reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("news watcher error")
			}
		}
	}()
	return out, nil
}

// Combine returns the events of both calendars in one slice sorted by time.
// Equal times keep a before b.
func Combine(a, b []Event) []Event {
	out := make([]Event, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Merge forwards every calendar from in combined with fixed, so events
// fetched once at startup survive file reloads. Like Watch, at most one
// update is pending. The channel closes when in closes or ctx ends.
func Merge(ctx context.Context, in <-chan []Event, fixed []Event) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case events, ok := <-in:
				if !ok {
					return
				}
				merged := Combine(events, fixed)
				select {
				case <-out:
				default:
				}
				out <- merged
			}
		}
	}()
	return out
}
