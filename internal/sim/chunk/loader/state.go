package loader

import (
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// ChunkState is the loader's bookkeeping for one coordinate: the strong
// reference that keeps the chunk loaded, its effective level and the tickets
// claiming it. It says nothing about the chunk's contents.
type ChunkState struct {
	chunk *chunk.Chunk
	// level is the strongest level any live claim demands. Changes are copied
	// into the chunk so cache readers can see them.
	level  chunk.Level
	claims []claim

	// ticketlessSince is when the state last lost its final ticket.
	ticketlessSince time.Time
	saveAttempts    int
}

// claim is one ticket's demand on a coordinate. A ticket demands different
// levels in different shells, so the level is stored per claim.
type claim struct {
	ticket chunk.WeakTicket
	level  chunk.Level
}

func (s *ChunkState) Chunk() *chunk.Chunk { return s.chunk }
func (s *ChunkState) Level() chunk.Level  { return s.level }
func (s *ChunkState) Tickets() int        { return len(s.claims) }

// update drops claims of dead tickets and recomputes the level from the
// survivors. It reports true when no live ticket is left.
func (s *ChunkState) update() bool {
	kept := s.claims[:0]
	var highest chunk.Level
	for _, c := range s.claims {
		if !c.ticket.Alive() {
			continue
		}
		kept = append(kept, c)
		if c.level > highest {
			highest = c.level
		}
	}
	clear(s.claims[len(kept):])
	s.claims = kept

	if highest == 0 {
		return true
	}
	s.setLevel(highest)
	return false
}

func (s *ChunkState) setLevel(l chunk.Level) {
	if s.level == l {
		return
	}
	s.level = l
	if s.chunk != nil {
		s.chunk.SetLevel(l)
	}
}

// ticketBinding remembers the coordinates a ticket was bound to.
type ticketBinding struct {
	ticket chunk.WeakTicket
	coords []chunk.Coord
}

// pendingEviction is a coordinate waiting out the expiration delay.
type pendingEviction struct {
	at    time.Time
	coord chunk.Coord
}
