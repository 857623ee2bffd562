package loader

import (
	"errors"
	"sync"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

type EventKind string

const (
	EventLoaded       EventKind = "loaded"
	EventEvicted      EventKind = "evicted"
	EventLoadFailed   EventKind = "load_failed"
	EventSaveFailed   EventKind = "save_failed"
	EventDropped      EventKind = "dropped"
	EventLevelChanged EventKind = "level_changed"
)

// Event is one loader state transition, as written to event logs and the
// chunk index.
type Event struct {
	Time     time.Time   `json:"ts"`
	Kind     EventKind   `json:"kind"`
	Coord    chunk.Coord `json:"coord"`
	Level    chunk.Level `json:"level,omitempty"`
	Previous chunk.Level `json:"previous,omitempty"`
	Digest   string      `json:"digest,omitempty"`
	Attempt  int         `json:"attempt,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// EventSink receives loader events on the loader goroutine. Implementations
// must not block for long.
type EventSink interface {
	WriteEvent(e Event) error
}

// MultiSink fans events out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) WriteEvent(e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.WriteEvent(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) WriteEvent(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
