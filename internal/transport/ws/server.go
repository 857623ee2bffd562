package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chunkhost.ai/internal/protocol"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/world"
)

// Server lets remote clients hold chunk tickets for the lifetime of their
// websocket session.
type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader

	sessions atomic.Int64
	holds    atomic.Int64
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// Sessions is the number of connected sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Holds is the number of holds across all sessions.
func (s *Server) Holds() int64 { return s.holds.Load() }

type session struct {
	id      string
	srv     *Server
	out     chan []byte
	limiter *rate.Limiter

	mu    sync.Mutex
	holds map[string]*chunk.Handle
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			sess.handle(ctx, msg)
		}

		// Cleanup.
		n := sess.releaseAll()
		if s.log != nil && n > 0 {
			s.log.Printf("session %s closed, released %d holds", sess.id, n)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	tune := s.world.Tuning()
	sess := &session{
		id:      uuid.NewString(),
		srv:     s,
		out:     make(chan []byte, 64),
		limiter: rate.NewLimiter(rate.Limit(tune.Session.HoldsPerSecond), tune.Session.HoldBurst),
		holds:   map[string]*chunk.Handle{},
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		World: protocol.WorldParams{
			Seed:         s.world.Settings().Seed,
			ChunkSize:    chunk.Size,
			ExpirationMS: tune.Loader.ExpirationDelay.Milliseconds(),
		},
		Limits: protocol.SessionLimit{
			MaxHolds:       tune.Session.MaxHolds,
			MaxRadius:      tune.Tickets.MaxRadius,
			HoldsPerSecond: tune.Session.HoldsPerSecond,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if s.log != nil {
		name := strings.TrimSpace(hello.ClientName)
		if name == "" {
			name = "client"
		}
		s.log.Printf("session %s opened (%s)", sess.id, name)
	}
	return sess
}

func (ss *session) handle(ctx context.Context, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		ss.send(ctx, protocol.NewError("", protocol.ErrProtoBadRequest, "invalid json"))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		ss.send(ctx, protocol.NewError("", protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version))
		return
	}
	switch base.Type {
	case protocol.TypeHold:
		var m protocol.HoldMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			ss.send(ctx, protocol.NewError("", protocol.ErrProtoBadRequest, "invalid HOLD"))
			return
		}
		ss.hold(ctx, m)
	case protocol.TypeRelease:
		var m protocol.ReleaseMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			ss.send(ctx, protocol.NewError("", protocol.ErrProtoBadRequest, "invalid RELEASE"))
			return
		}
		ss.release(ctx, m)
	default:
		ss.send(ctx, protocol.NewError("", protocol.ErrBadRequest, "unexpected message type "+base.Type))
	}
}

func (ss *session) hold(ctx context.Context, m protocol.HoldMsg) {
	id := strings.TrimSpace(m.HoldID)
	if id == "" {
		ss.send(ctx, protocol.NewError("", protocol.ErrBadRequest, "hold_id is required"))
		return
	}
	if !ss.limiter.Allow() {
		ss.send(ctx, protocol.NewError(id, protocol.ErrRateLimit, "too many holds"))
		return
	}
	level, err := chunk.ParseLevel(m.Level)
	if err != nil {
		ss.send(ctx, protocol.NewError(id, protocol.ErrInvalidLevel, err.Error()))
		return
	}
	pl := chunk.ParameterizedLevel{Level: level, Radius: m.Radius}
	if err := pl.Validate(); err != nil {
		ss.send(ctx, protocol.NewError(id, protocol.ErrInvalidLevel, err.Error()))
		return
	}
	tune := ss.srv.world.Tuning()
	if err := tune.CheckRadius(pl); err != nil {
		ss.send(ctx, protocol.NewError(id, protocol.ErrRadiusLimit, err.Error()))
		return
	}

	ss.mu.Lock()
	_, replacing := ss.holds[id]
	full := !replacing && len(ss.holds) >= tune.Session.MaxHolds
	ss.mu.Unlock()
	if full {
		ss.send(ctx, protocol.NewError(id, protocol.ErrHoldLimit, "session hold limit reached"))
		return
	}

	t := chunk.Ticket{Coordinate: chunk.C(m.Coordinate[0], m.Coordinate[1], m.Coordinate[2]), Level: pl}
	h, err := ss.srv.world.Submit(t)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, world.ErrClosed) {
			code = protocol.ErrWorldClosed
		}
		ss.send(ctx, protocol.NewError(id, code, err.Error()))
		return
	}

	// The new ticket is submitted before the old one is released so chunks
	// both cover never become ticketless.
	ss.mu.Lock()
	prev := ss.holds[id]
	ss.holds[id] = h
	ss.mu.Unlock()
	if prev != nil {
		prev.Release()
	} else {
		ss.srv.holds.Add(1)
	}
	ss.srv.world.TrackTicket(ss.trackID(id), "ws", t, time.Now().UTC())

	ss.send(ctx, protocol.HeldMsg{
		Type:            protocol.TypeHeld,
		ProtocolVersion: protocol.Version,
		HoldID:          id,
		Ticket:          t.String(),
		Chunks:          t.CoordinateCount(),
	})
	go ss.awaitOutcome(ctx, id, h)
}

func (ss *session) awaitOutcome(ctx context.Context, id string, h *chunk.Handle) {
	out, err := h.Wait(ctx)
	if err != nil {
		return
	}
	msg := protocol.RealizedMsg{
		Type:            protocol.TypeRealized,
		ProtocolVersion: protocol.Version,
		HoldID:          id,
		Outcome:         out.Status.String(),
		Loaded:          out.Loaded,
		Reused:          out.Reused,
		Failed:          out.Failed,
	}
	if out.Err != nil {
		msg.Error = out.Err.Error()
	}
	ss.send(ctx, msg)
}

func (ss *session) release(ctx context.Context, m protocol.ReleaseMsg) {
	id := strings.TrimSpace(m.HoldID)
	ss.mu.Lock()
	h, ok := ss.holds[id]
	delete(ss.holds, id)
	ss.mu.Unlock()
	if !ok {
		ss.send(ctx, protocol.NewError(id, protocol.ErrUnknownHold, "no such hold"))
		return
	}
	h.Release()
	ss.srv.holds.Add(-1)
	ss.srv.world.UntrackTicket(ss.trackID(id))
	ss.send(ctx, protocol.ReleasedMsg{Type: protocol.TypeReleased, ProtocolVersion: protocol.Version, HoldID: id})
}

func (ss *session) releaseAll() int {
	ss.mu.Lock()
	holds := ss.holds
	ss.holds = map[string]*chunk.Handle{}
	ss.mu.Unlock()
	for id, h := range holds {
		h.Release()
		ss.srv.world.UntrackTicket(ss.trackID(id))
	}
	ss.srv.holds.Add(-int64(len(holds)))
	return len(holds)
}

func (ss *session) trackID(holdID string) string { return ss.id + "/" + holdID }

func (ss *session) send(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ss.out <- b:
	case <-ctx.Done():
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
