package chunk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Ticket asks for chunks to stay loaded around Coordinate at Level.
// Tickets are immutable; to move or change one, release its handle and
// submit a new ticket.
type Ticket struct {
	// Coordinate is the centre of the cube whose size Level determines.
	Coordinate Coord
	Level      ParameterizedLevel
}

func (t Ticket) String() string {
	return fmt.Sprintf("Ticket(%s = %s)", t.Coordinate, t.Level)
}

// Submit registers the ticket and sends a weak reference to the loader.
// The returned handle is the only thing keeping the request alive: if it is
// released before the loader sees the ticket, the request never materializes;
// released later, the ticket's chunks become eligible for eviction once no
// other ticket references them.
func (t Ticket) Submit(tx *TicketSender) (*Handle, error) {
	if err := t.Level.Validate(); err != nil {
		return nil, err
	}
	h := newHandle(t)
	if err := tx.Send(h.Weak()); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

var nextTicketID atomic.Uint64

type ticketRef struct {
	id     uint64
	ticket Ticket
	strong atomic.Int64

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

// Handle is a strong reference to a submitted ticket.
type Handle struct {
	ref      *ticketRef
	released atomic.Bool
}

func newHandle(t Ticket) *Handle {
	ref := &ticketRef{
		id:     nextTicketID.Add(1),
		ticket: t,
		done:   make(chan struct{}),
	}
	ref.strong.Store(1)
	return &Handle{ref: ref}
}

func (h *Handle) ID() uint64     { return h.ref.id }
func (h *Handle) Ticket() Ticket { return h.ref.ticket }

func (h *Handle) Weak() WeakTicket { return WeakTicket{ref: h.ref} }

// Clone returns another strong reference to the same ticket. Cloning a
// released handle returns nil.
func (h *Handle) Clone() *Handle {
	if h == nil || h.released.Load() {
		return nil
	}
	h.ref.strong.Add(1)
	return &Handle{ref: h.ref}
}

// Release drops this strong reference. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.released.CompareAndSwap(false, true) {
		h.ref.strong.Add(-1)
	}
}

// Done is closed once the loader has processed the ticket.
func (h *Handle) Done() <-chan struct{} { return h.ref.done }

// Outcome reports the processing result, if there is one yet.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.ref.done:
		return h.ref.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the loader has processed the ticket or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.ref.done:
		return h.ref.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// WeakTicket references a ticket without keeping it alive. The loader only
// ever holds these.
type WeakTicket struct {
	ref *ticketRef
}

func (w WeakTicket) IsZero() bool { return w.ref == nil }

func (w WeakTicket) ID() uint64 {
	if w.ref == nil {
		return 0
	}
	return w.ref.id
}

func (w WeakTicket) StrongCount() int64 {
	if w.ref == nil {
		return 0
	}
	return w.ref.strong.Load()
}

func (w WeakTicket) Alive() bool { return w.StrongCount() > 0 }

// Upgrade returns the ticket while at least one strong handle exists.
func (w WeakTicket) Upgrade() (Ticket, bool) {
	if !w.Alive() {
		return Ticket{}, false
	}
	return w.ref.ticket, true
}

// Resolve records the processing result. Only the first call has an effect.
func (w WeakTicket) Resolve(o Outcome) {
	if w.ref == nil {
		return
	}
	w.ref.once.Do(func() {
		w.ref.outcome = o
		close(w.ref.done)
	})
}

type OutcomeStatus uint8

const (
	// OutcomeVoid means every handle was released before the loader saw the ticket.
	OutcomeVoid OutcomeStatus = iota + 1
	// OutcomeRealized means the loader bound the ticket to its chunks.
	OutcomeRealized
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeVoid:
		return "VOID"
	case OutcomeRealized:
		return "REALIZED"
	default:
		return "PENDING"
	}
}

// Outcome describes what the loader did with a ticket.
type Outcome struct {
	Status OutcomeStatus
	// Loaded counts chunks read from disk or generated for this ticket.
	Loaded int
	// Reused counts chunks that were already in the cache.
	Reused int
	// Failed counts coordinates that could not be loaded; Err is the first failure.
	Failed int
	Err    error
}
