package market

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidInterval = errors.New("interval must be positive")

// Interval is a bar duration. Two intervals are equal when their durations are.
type Interval time.Duration

const (
	Minute Interval = Interval(time.Minute)
	Hour   Interval = Interval(time.Hour)
	Day    Interval = Interval(24 * time.Hour)
)

// NewInterval validates d.
func NewInterval(d time.Duration) (Interval, error) {
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	return Interval(d), nil
}

func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) Seconds() float64 { return time.Duration(i).Seconds() }

// Align returns the start of the window containing ts. Day, hour and minute
// intervals align on the calendar; others floor to a multiple of the duration.
func (i Interval) Align(ts time.Time) time.Time {
	ts = ts.UTC()
	switch i {
	case Day:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case Hour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case Minute:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), 0, 0, time.UTC)
	}
	return ts.Truncate(time.Duration(i))
}

// Next returns the start of the window following the one starting at start.
func (i Interval) Next(start time.Time) time.Time {
	return start.Add(time.Duration(i))
}

// String renders the timeframe label (M1, H4, D1...) or a duration when
// there is no label for it.
func (i Interval) String() string {
	d := time.Duration(i)
	if d%time.Second == 0 && d > 0 {
		if tf, err := SecondsToTFString(int32(d / time.Second)); err == nil {
			return tf
		}
	}
	return d.String()
}

func (i Interval) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Interval) UnmarshalText(b []byte) error {
	v, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// ParseInterval accepts timeframe labels (M1, H1, D1), Go durations (90s, 4h)
// and plain seconds.
func ParseInterval(raw string) (Interval, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidInterval)
	}
	if sec, err := TFStringToSeconds(strings.ToUpper(s)); err == nil {
		return NewInterval(time.Duration(sec) * time.Second)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewInterval(time.Duration(n) * time.Second)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse interval %q: %w", raw, err)
	}
	return NewInterval(d)
}
