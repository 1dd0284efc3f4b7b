package market

import (
	"errors"
	"fmt"
	"time"
)

var ErrClockRegression = errors.New("clock moved backwards")

// Clock exposes the current engine time.
type Clock interface {
	Now() time.Time
}

// SequenceClock is driven by the tick stream. It only advances when a new,
// later timestamp is observed, so replays see the same sequence of instants.
type SequenceClock struct {
	now   time.Time
	steps uint64
}

func NewSequenceClock() *SequenceClock {
	return &SequenceClock{}
}

// Observe moves the clock to t. It returns true when the clock advanced and
// an error when t is earlier than the current time.
func (c *SequenceClock) Observe(t time.Time) (bool, error) {
	if !IsUTC(t) {
		return false, fmt.Errorf("clock observe %s: %w", t.Format(time.RFC3339Nano), ErrNonUTC)
	}
	if c.steps > 0 {
		if t.Before(c.now) {
			return false, fmt.Errorf("%w: %s before %s", ErrClockRegression,
				t.Format(time.RFC3339Nano), c.now.Format(time.RFC3339Nano))
		}
		if t.Equal(c.now) {
			return false, nil
		}
	}
	c.now = t
	c.steps++
	return true, nil
}

func (c *SequenceClock) Now() time.Time { return c.now }

// Steps is the number of unique timestamps seen.
func (c *SequenceClock) Steps() uint64 { return c.steps }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
