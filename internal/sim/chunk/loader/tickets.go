package loader

import (
	"fmt"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// processNewTickets drains the ticket channel without blocking.
func (l *Loader) processNewTickets(now time.Time) {
	for !l.disconnected {
		w, st := l.rx.TryRecv()
		switch st {
		case chunk.RecvEmpty:
			return
		case chunk.RecvDisconnected:
			l.disconnected = true
			l.logf("ticket channel disconnected; no further tickets will be accepted")
			return
		default:
			l.processTicket(now, w)
		}
	}
}

// processTicket loads every chunk the ticket covers and binds the ticket to
// their states. A ticket whose handles are already gone is skipped.
func (l *Loader) processTicket(now time.Time, w chunk.WeakTicket) {
	t, ok := w.Upgrade()
	if !ok {
		l.totals.TicketsVoid++
		w.Resolve(chunk.Outcome{Status: chunk.OutcomeVoid})
		return
	}

	out := chunk.Outcome{Status: chunk.OutcomeRealized}
	levels := t.CoordinateLevels()
	coords := make([]chunk.Coord, 0, len(levels))
	for _, cl := range levels {
		ch, fresh, err := l.loadChunk(now, cl.Coord, cl.Level)
		if err != nil {
			out.Failed++
			if out.Err == nil {
				out.Err = err
			}
			continue
		}
		if fresh {
			out.Loaded++
		} else {
			out.Reused++
		}
		l.bind(now, w, cl.Coord, cl.Level, ch)
		coords = append(coords, cl.Coord)
	}
	l.bindings = append(l.bindings, ticketBinding{ticket: w, coords: coords})
	l.totals.TicketsProcessed++
	w.Resolve(out)
}

// loadChunk reuses the cached chunk for coord or asks the source for it.
func (l *Loader) loadChunk(now time.Time, coord chunk.Coord, level chunk.Level) (*chunk.Chunk, bool, error) {
	if ch := l.cache.Get(coord); ch != nil {
		l.totals.ChunksReused++
		return ch, false, nil
	}
	if st, ok := l.states[coord]; ok {
		// Cache entry lost while the state still holds the chunk.
		l.cache.Insert(coord, st.chunk)
		l.totals.ChunksReused++
		return st.chunk, false, nil
	}

	ch, err := l.src.LoadOrGenerate(coord, level)
	if err == nil && ch == nil {
		err = fmt.Errorf("source returned no chunk")
	}
	if err != nil {
		err = fmt.Errorf("load chunk %s: %w", coord, err)
		l.totals.LoadFailures++
		l.logf("%v", err)
		l.emit(Event{Time: now, Kind: EventLoadFailed, Coord: coord, Level: level, Error: err.Error()})
		return nil, false, err
	}
	ch.SetLevel(level)
	l.cache.Insert(coord, ch)
	l.totals.ChunksLoaded++
	l.emit(Event{Time: now, Kind: EventLoaded, Coord: coord, Level: level})
	return ch, true, nil
}

// bind records the ticket's claim on coord, creating the state if needed.
func (l *Loader) bind(now time.Time, w chunk.WeakTicket, coord chunk.Coord, level chunk.Level, ch *chunk.Chunk) {
	st, ok := l.states[coord]
	if !ok {
		st = &ChunkState{chunk: ch}
		st.setLevel(level)
		st.claims = append(st.claims, claim{ticket: w, level: level})
		l.states[coord] = st
		return
	}

	prev := st.level
	if len(st.claims) == 0 {
		// Renewed while waiting for eviction: the old level no longer applies.
		st.setLevel(level)
		st.saveAttempts = 0
	} else if level > st.level {
		st.setLevel(level)
	}
	st.claims = append(st.claims, claim{ticket: w, level: level})
	if st.level != prev {
		l.emit(Event{Time: now, Kind: EventLevelChanged, Coord: coord, Level: st.level, Previous: prev})
	}
}
