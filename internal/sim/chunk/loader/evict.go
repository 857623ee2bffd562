package loader

import (
	"fmt"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// updateDroppedTickets re-evaluates the states touched by tickets that died
// since the last pass. States left without tickets are queued for eviction.
func (l *Loader) updateDroppedTickets(now time.Time) {
	kept := l.bindings[:0]
	for _, b := range l.bindings {
		if b.ticket.Alive() {
			kept = append(kept, b)
			continue
		}
		for _, coord := range b.coords {
			st, ok := l.states[coord]
			if !ok || len(st.claims) == 0 {
				// Already queued by an earlier binding.
				continue
			}
			prev := st.level
			if st.update() {
				l.queueTicketless(now, coord, st)
				continue
			}
			if st.level != prev {
				l.emit(Event{Time: now, Kind: EventLevelChanged, Coord: coord, Level: st.level, Previous: prev})
			}
		}
	}
	clear(l.bindings[len(kept):])
	l.bindings = kept
}

func (l *Loader) queueTicketless(now time.Time, coord chunk.Coord, st *ChunkState) {
	st.ticketlessSince = now
	l.ticketless = append(l.ticketless, pendingEviction{at: now, coord: coord})
	if l.earliest.IsZero() || now.Before(l.earliest) {
		l.earliest = now
	}
}

// hasExpiredChunks is the cheap check run every iteration.
func (l *Loader) hasExpiredChunks(now time.Time) bool {
	return !l.earliest.IsZero() && now.Sub(l.earliest) > l.cfg.ExpirationDelay
}

// findExpiredChunks scans the ticketless queue. Entries for states that were
// renewed, replaced by a newer entry, or already removed are dropped without
// unloading; expired ones are returned. The earliest timestamp is recomputed
// from what remains.
func (l *Loader) findExpiredChunks(now time.Time) []chunk.Coord {
	var expired []chunk.Coord
	l.earliest = time.Time{}
	kept := l.ticketless[:0]
	for _, e := range l.ticketless {
		st, ok := l.states[e.coord]
		stale := !ok || st.ticketlessSince.After(e.at)
		renewed := ok && len(st.claims) > 0
		if stale || renewed {
			continue
		}
		if now.Sub(e.at) > l.cfg.ExpirationDelay {
			expired = append(expired, e.coord)
			continue
		}
		kept = append(kept, e)
		if l.earliest.IsZero() || e.at.Before(l.earliest) {
			l.earliest = e.at
		}
	}
	clear(l.ticketless[len(kept):])
	l.ticketless = kept
	return expired
}

// unloadExpiredChunks saves each chunk and drops it from the cache and the
// state table. A failed save is retried on a later pass until MaxSaveAttempts
// is reached; after that the chunk is dropped and reported.
func (l *Loader) unloadExpiredChunks(now time.Time, coords []chunk.Coord) {
	if len(coords) == 0 {
		return
	}
	evicted := 0
	for _, coord := range coords {
		st, ok := l.states[coord]
		if !ok {
			continue
		}
		if err := l.src.Save(st.chunk); err != nil {
			st.saveAttempts++
			l.totals.SaveFailures++
			err = fmt.Errorf("save chunk %s: %w", coord, err)
			if st.saveAttempts < l.cfg.MaxSaveAttempts {
				l.logf("%v (attempt %d/%d, retrying)", err, st.saveAttempts, l.cfg.MaxSaveAttempts)
				l.emit(Event{Time: now, Kind: EventSaveFailed, Coord: coord, Level: st.level, Attempt: st.saveAttempts, Error: err.Error()})
				l.queueTicketless(now, coord, st)
				continue
			}
			err = fmt.Errorf("chunk discarded unsaved: %w", err)
			l.logf("%v (attempt %d/%d)", err, st.saveAttempts, l.cfg.MaxSaveAttempts)
			l.emit(Event{Time: now, Kind: EventDropped, Coord: coord, Level: st.level, Attempt: st.saveAttempts, Error: err.Error()})
			l.totals.ChunksDropped++
		} else {
			l.emit(Event{Time: now, Kind: EventEvicted, Coord: coord, Level: st.level, Digest: digestHex(st.chunk)})
			l.totals.ChunksEvicted++
			evicted++
		}
		delete(l.states, coord)
		l.cache.Remove(coord)
	}
	if evicted > 0 {
		l.logf("evicted %d chunks", evicted)
	}
}

// shutdown saves everything still loaded and clears the cache. Tickets still
// queued are resolved as void so nobody waits on them forever.
func (l *Loader) shutdown(now time.Time) {
	for {
		w, st := l.rx.TryRecv()
		if st != chunk.RecvOK {
			break
		}
		w.Resolve(chunk.Outcome{Status: chunk.OutcomeVoid})
		l.totals.TicketsVoid++
	}

	saved, failed := 0, 0
	for coord, st := range l.states {
		if err := l.src.Save(st.chunk); err != nil {
			failed++
			l.totals.SaveFailures++
			l.totals.ChunksDropped++
			err = fmt.Errorf("chunk discarded unsaved: save chunk %s: %w", coord, err)
			l.emit(Event{Time: now, Kind: EventDropped, Coord: coord, Level: st.level, Attempt: st.saveAttempts + 1, Error: err.Error()})
			continue
		}
		saved++
	}
	if saved+failed > 0 {
		l.logf("flushed %d chunks on shutdown (%d failed)", saved, failed)
	}
	clear(l.states)
	l.bindings = nil
	l.ticketless = nil
	l.earliest = time.Time{}
	l.cache.Clear()
	l.publishMetrics(now)
}

func digestHex(ch *chunk.Chunk) string {
	d := ch.Digest()
	return fmt.Sprintf("%x", d[:])
}
