package loader

import (
	"context"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// Totals are monotonically increasing counters.
type Totals struct {
	TicketsProcessed uint64 `json:"tickets_processed"`
	TicketsVoid      uint64 `json:"tickets_void"`
	ChunksLoaded     uint64 `json:"chunks_loaded"`
	ChunksReused     uint64 `json:"chunks_reused"`
	ChunksEvicted    uint64 `json:"chunks_evicted"`
	ChunksDropped    uint64 `json:"chunks_dropped"`
	LoadFailures     uint64 `json:"load_failures"`
	SaveFailures     uint64 `json:"save_failures"`
}

// Metrics is a point-in-time view published by the loader goroutine.
type Metrics struct {
	At               time.Time      `json:"at"`
	Tickets          int            `json:"tickets"`
	States           int            `json:"states"`
	CachedChunks     int            `json:"cached_chunks"`
	Levels           map[string]int `json:"levels"`
	PendingEvictions int            `json:"pending_evictions"`
	QueuedTickets    int            `json:"queued_tickets"`
	Disconnected     bool           `json:"disconnected"`
	StepMS           float64        `json:"step_ms"`
	Totals           Totals         `json:"totals"`
}

// Metrics returns the last published snapshot. Safe from any goroutine.
func (l *Loader) Metrics() Metrics {
	if v := l.metrics.Load(); v != nil {
		if m, ok := v.(Metrics); ok {
			return m
		}
	}
	return Metrics{}
}

func (l *Loader) publishMetrics(now time.Time) {
	levels := make(map[string]int, len(chunk.Levels))
	for _, lv := range chunk.Levels {
		levels[lv.String()] = 0
	}
	pending := 0
	for _, st := range l.states {
		if len(st.claims) == 0 {
			pending++
		}
		if st.level.Valid() {
			levels[st.level.String()]++
		}
	}
	l.metrics.Store(Metrics{
		At:               now,
		Tickets:          len(l.bindings),
		States:           len(l.states),
		CachedChunks:     l.cache.Len(),
		Levels:           levels,
		PendingEvictions: pending,
		QueuedTickets:    l.rx.Len(),
		Disconnected:     l.disconnected,
		StepMS:           float64(l.lastStep.Microseconds()) / 1000,
		Totals:           l.totals,
	})
	l.lastPublished = now
}

// StateInfo describes one chunk state for inspection.
type StateInfo struct {
	Coord           chunk.Coord `json:"coord"`
	Level           chunk.Level `json:"level"`
	Tickets         int         `json:"tickets"`
	Dirty           bool        `json:"dirty"`
	Digest          string      `json:"digest"`
	TicketlessSince *time.Time  `json:"ticketless_since,omitempty"`
	EvictsAt        *time.Time  `json:"evicts_at,omitempty"`
	SaveAttempts    int         `json:"save_attempts,omitempty"`
}

type inspectReq struct {
	coord chunk.Coord
	resp  chan inspectResp
}

type inspectResp struct {
	info StateInfo
	ok   bool
}

// Inspect asks the loader goroutine for the state of coord. It returns false
// when the coordinate has no state. Blocks until the loader answers or ctx
// ends, so it needs a running loader.
func (l *Loader) Inspect(ctx context.Context, coord chunk.Coord) (StateInfo, bool, error) {
	req := inspectReq{coord: coord, resp: make(chan inspectResp, 1)}
	select {
	case l.inspect <- req:
	case <-ctx.Done():
		return StateInfo{}, false, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.info, r.ok, nil
	case <-ctx.Done():
		return StateInfo{}, false, ctx.Err()
	}
}

func (l *Loader) serveInspections() {
	for {
		select {
		case req := <-l.inspect:
			info, ok := l.stateInfo(req.coord)
			req.resp <- inspectResp{info: info, ok: ok}
		default:
			return
		}
	}
}

func (l *Loader) stateInfo(coord chunk.Coord) (StateInfo, bool) {
	st, ok := l.states[coord]
	if !ok {
		return StateInfo{}, false
	}
	info := StateInfo{
		Coord:        coord,
		Level:        st.level,
		Tickets:      len(st.claims),
		Dirty:        st.chunk.Dirty(),
		Digest:       digestHex(st.chunk),
		SaveAttempts: st.saveAttempts,
	}
	if len(st.claims) == 0 && !st.ticketlessSince.IsZero() {
		since := st.ticketlessSince
		evicts := since.Add(l.cfg.ExpirationDelay)
		info.TicketlessSince = &since
		info.EvictsAt = &evicts
	}
	return info, true
}
