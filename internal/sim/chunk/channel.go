package chunk

import (
	"errors"
	"sync"
)

// ErrDisconnected is returned when submitting to a closed ticket channel.
var ErrDisconnected = errors.New("ticket channel disconnected")

// RecvStatus is the result of a non-blocking receive.
type RecvStatus uint8

const (
	RecvOK RecvStatus = iota
	// RecvEmpty: nothing queued right now.
	RecvEmpty
	// RecvDisconnected: the sender is closed and the queue is drained. Permanent.
	RecvDisconnected
)

// ticketQueue is an unbounded multi-producer single-consumer queue of weak
// tickets. Senders never block; bursts queue without limit.
type ticketQueue struct {
	mu     sync.Mutex
	buf    []WeakTicket
	head   int
	closed bool
}

type TicketSender struct{ q *ticketQueue }

type TicketReceiver struct{ q *ticketQueue }

// NewTicketChannel returns both ends of an unbounded ticket channel.
func NewTicketChannel() (*TicketSender, *TicketReceiver) {
	q := &ticketQueue{}
	return &TicketSender{q: q}, &TicketReceiver{q: q}
}

func (s *TicketSender) Send(w WeakTicket) error {
	if s == nil || s.q == nil {
		return ErrDisconnected
	}
	q := s.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrDisconnected
	}
	q.buf = append(q.buf, w)
	return nil
}

// Close disconnects the channel. Tickets already queued can still be received.
func (s *TicketSender) Close() {
	if s == nil || s.q == nil {
		return
	}
	s.q.mu.Lock()
	s.q.closed = true
	s.q.mu.Unlock()
}

func (r *TicketReceiver) TryRecv() (WeakTicket, RecvStatus) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head < len(q.buf) {
		w := q.buf[q.head]
		q.buf[q.head] = WeakTicket{}
		q.head++
		if q.head == len(q.buf) {
			q.buf = q.buf[:0]
			q.head = 0
		}
		return w, RecvOK
	}
	if q.closed {
		return WeakTicket{}, RecvDisconnected
	}
	return WeakTicket{}, RecvEmpty
}

// Len is the number of queued tickets.
func (r *TicketReceiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.buf) - r.q.head
}
