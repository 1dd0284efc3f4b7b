package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Sequencer stamps events with the next sequence number and the source
// adapter tag before handing them to the writer. The engine and the
// dispatcher share one so their events interleave in emission order.
type Sequencer struct {
	w      Writer
	source string
	seq    uint64
}

func NewSequencer(w Writer, source string) *Sequencer {
	return &Sequencer{w: w, source: source}
}

// Emit marshals payload and appends it as the next event. A failed write
// does not consume a sequence number.
func (s *Sequencer) Emit(ctx context.Context, ts time.Time, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal %s payload: %w", eventType, err)
	}
	ev := Event{
		Sequence: s.seq + 1,
		Time:     ts.UTC(),
		Type:     eventType,
		Source:   s.source,
		Payload:  raw,
	}
	if err := s.w.Append(ctx, ev); err != nil {
		return fmt.Errorf("journal: append %s #%d: %w", eventType, ev.Sequence, err)
	}
	s.seq = ev.Sequence
	return nil
}

// ResumeAfter continues numbering after last, the highest sequence an
// earlier process stored for the same run.
func (s *Sequencer) ResumeAfter(last uint64) {
	if last > s.seq {
		s.seq = last
	}
}

// Last is the sequence number of the most recent event.
func (s *Sequencer) Last() uint64 { return s.seq }

func (s *Sequencer) Source() string { return s.source }
