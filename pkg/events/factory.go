// Package events constructs stream entries with validated kinds and ids
// that sort lexicographically in ingestion order.
//
// Ids have the shape <prefix>_<13-digit unix ms>_<3-digit sequence>, e.g.
// evt_1700000000000_001. The sequence restarts at 001 on every new
// millisecond tick and increments within one. Two properties hold for every
// id stream minted by a single Sequencer:
//
//   - string order equals mint order (the wall clock is clamped so it never
//     moves backwards, and a sequence past 999 carries into the next
//     millisecond instead of growing a fourth digit)
//   - the embedded millisecond equals the ts assigned to the entry
//
// A Sequencer is not safe for concurrent use; callers serialize minting, the
// hub on its ingestion goroutine and the watch engine behind its lock.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/daibug/daibug/pkg/models"
)

// ErrInvalidKind reports an event with an unknown source or level or a
// malformed payload.
var ErrInvalidKind = errors.New("invalid event kind")

// Sequencer mints ordered ids.
type Sequencer struct {
	now    func() int64 // unix ms
	lastMS int64
	seq    int
}

// NewSequencer returns a sequencer on the system clock.
func NewSequencer() *Sequencer {
	return &Sequencer{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewSequencerAt returns a sequencer on the given clock, for tests.
func NewSequencerAt(now func() int64) *Sequencer {
	return &Sequencer{now: now}
}

// Next returns the next id with the given prefix and the millisecond
// timestamp embedded in it.
func (s *Sequencer) Next(prefix string) (string, int64) {
	ms := s.now()
	if ms < s.lastMS {
		ms = s.lastMS
	}
	if ms == s.lastMS {
		s.seq++
		if s.seq > 999 {
			ms++
			s.seq = 1
		}
	} else {
		s.seq = 1
	}
	s.lastMS = ms
	return fmt.Sprintf("%s_%013d_%03d", prefix, ms, s.seq), ms
}

// Factory builds validated events.
type Factory struct {
	seq *Sequencer
}

// NewFactory returns a factory minting on the system clock.
func NewFactory() *Factory {
	return &Factory{seq: NewSequencer()}
}

// NewFactoryAt returns a factory on the given clock, for tests.
func NewFactoryAt(now func() int64) *Factory {
	return &Factory{seq: NewSequencerAt(now)}
}

// New validates the kind and returns a fresh event. The payload map is
// referenced, not copied; callers hand over ownership.
func (f *Factory) New(source models.Source, level models.Level, payload map[string]any) (models.Event, error) {
	if !source.IsValid() {
		return models.Event{}, fmt.Errorf("%w: unknown source %q", ErrInvalidKind, source)
	}
	if !level.IsValid() {
		return models.Event{}, fmt.Errorf("%w: unknown level %q", ErrInvalidKind, level)
	}
	if payload == nil {
		return models.Event{}, fmt.Errorf("%w: payload must be an object", ErrInvalidKind)
	}
	id, ts := f.seq.Next("evt")
	return models.Event{
		ID:      id,
		TS:      ts,
		Source:  source,
		Level:   level,
		Payload: payload,
	}, nil
}
