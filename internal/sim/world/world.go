package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chunkhost.ai/internal/persistence/chunkfile"
	"chunkhost.ai/internal/persistence/indexdb"
	plog "chunkhost.ai/internal/persistence/log"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/gen"
	"chunkhost.ai/internal/sim/chunk/loader"
	"chunkhost.ai/internal/sim/tuning"
)

// ErrClosed is returned by Submit and Hold after Close.
var ErrClosed = errors.New("world closed")

type Config struct {
	// Dir is the world directory: settings.yaml, chunks/ and events/.
	Dir    string
	Tuning tuning.Tuning
	Logger *log.Logger
	// Index, if set, receives loader events and ticket holds. The caller owns it.
	Index *indexdb.SQLiteIndex
	// Now defaults to time.Now.
	Now func() time.Time
}

// World is the chunk database of one world. It owns the ticket sender, the
// cache, the loader and the tickets the world itself holds (the origin
// ticket and admin holds). Closing the world closes the sender; the loader
// keeps evicting until its context ends.
type World struct {
	cfg      Config
	tune     tuning.Tuning
	settings Settings
	log      *log.Logger

	cache    *chunk.Cache
	tx       *chunk.TicketSender
	loader   *loader.Loader
	store    *chunkfile.Store
	eventLog *plog.EventLogger
	index    *indexdb.SQLiteIndex

	mu     sync.Mutex
	holds  map[string]*Hold
	closed bool
}

// Hold is a ticket held by the world on behalf of an operator or the world
// itself. It lives until released or until the world closes.
type Hold struct {
	ID        string       `json:"id"`
	Origin    string       `json:"origin"`
	Ticket    chunk.Ticket `json:"-"`
	CreatedAt time.Time    `json:"created_at"`

	handle *chunk.Handle
}

func (h *Hold) Handle() *chunk.Handle { return h.handle }

const OriginHoldID = "origin"

func New(cfg Config) (*World, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("world dir is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tune := cfg.Tuning
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		return nil, err
	}

	settings, err := LoadSettings(cfg.Dir, cfg.Now())
	if err != nil {
		return nil, err
	}
	store, err := chunkfile.NewStore(cfg.Dir, gen.Classic(gen.SeedFromString(settings.Seed)))
	if err != nil {
		return nil, err
	}

	cache := chunk.NewCache()
	tx, rx := chunk.NewTicketChannel()
	ld := loader.New(tune.LoaderConfig(), store, cache, rx, cfg.Logger)

	w := &World{
		cfg:      cfg,
		tune:     tune,
		settings: settings,
		log:      cfg.Logger,
		cache:    cache,
		tx:       tx,
		loader:   ld,
		store:    store,
		eventLog: plog.NewEventLogger(cfg.Dir, !tune.Loader.LogLoadedEvents),
		index:    cfg.Index,
		holds:    map[string]*Hold{},
	}
	sinks := loader.MultiSink{w.eventLog}
	if cfg.Index != nil {
		sinks = append(sinks, cfg.Index)
	}
	ld.SetEventSink(sinks)
	if cfg.Index != nil {
		if err := cfg.Index.SetMeta(context.Background(), "seed", settings.Seed); err != nil {
			return nil, fmt.Errorf("index meta: %w", err)
		}
	}

	if tune.Origin.Enabled {
		if _, err := w.hold(OriginHoldID, "world", tune.Origin.Ticket(), false); err != nil {
			return nil, fmt.Errorf("origin ticket: %w", err)
		}
	}
	w.logf("world %s ready (seed=%s)", cfg.Dir, settings.Seed)
	return w, nil
}

// Run drives the loader until ctx ends, then flushes chunks and closes the
// event log.
func (w *World) Run(ctx context.Context) error {
	err := w.loader.Run(ctx)
	if cerr := w.eventLog.Close(); cerr != nil {
		w.logf("close event log: %v", cerr)
	}
	return err
}

// Close releases every world hold and disconnects the ticket channel.
func (w *World) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	holds := w.holds
	w.holds = map[string]*Hold{}
	w.mu.Unlock()

	now := w.cfg.Now()
	for id, h := range holds {
		h.handle.Release()
		w.index.RecordRelease(id, now)
	}
	w.tx.Close()
}

func (w *World) Settings() Settings    { return w.settings }
func (w *World) Tuning() tuning.Tuning { return w.tune }
func (w *World) Cache() *chunk.Cache   { return w.cache }
func (w *World) Dir() string           { return w.cfg.Dir }

// Submit validates t against the world's limits and submits it. The caller
// owns the returned handle.
func (w *World) Submit(t chunk.Ticket) (*chunk.Handle, error) {
	if err := t.Level.Validate(); err != nil {
		return nil, err
	}
	if err := w.tune.CheckRadius(t.Level); err != nil {
		return nil, err
	}
	h, err := t.Submit(w.tx)
	if errors.Is(err, chunk.ErrDisconnected) {
		return nil, ErrClosed
	}
	return h, err
}

// Hold submits t and keeps its handle in the world until Release.
func (w *World) Hold(origin string, t chunk.Ticket) (*Hold, error) {
	return w.hold(uuid.NewString(), origin, t, true)
}

func (w *World) hold(id, origin string, t chunk.Ticket, capRadius bool) (*Hold, error) {
	var (
		h   *chunk.Handle
		err error
	)
	if capRadius {
		h, err = w.Submit(t)
	} else {
		h, err = t.Submit(w.tx)
	}
	if err != nil {
		return nil, err
	}
	hold := &Hold{ID: id, Origin: origin, Ticket: t, CreatedAt: w.cfg.Now().UTC(), handle: h}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		h.Release()
		return nil, ErrClosed
	}
	prev := w.holds[id]
	w.holds[id] = hold
	w.mu.Unlock()

	if prev != nil {
		prev.handle.Release()
	}
	w.TrackTicket(id, origin, t, hold.CreatedAt)
	return hold, nil
}

// Release drops a world hold. It reports whether the hold existed.
func (w *World) Release(id string) bool {
	w.mu.Lock()
	h, ok := w.holds[id]
	delete(w.holds, id)
	w.mu.Unlock()
	if !ok {
		return false
	}
	h.handle.Release()
	w.UntrackTicket(id)
	return true
}

// Holds lists the world's holds, oldest first.
func (w *World) Holds() []*Hold {
	w.mu.Lock()
	out := make([]*Hold, 0, len(w.holds))
	for _, h := range w.holds {
		out = append(out, h)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TrackTicket records a ticket hold in the index, if there is one.
func (w *World) TrackTicket(id, origin string, t chunk.Ticket, at time.Time) {
	w.index.RecordTicket(indexdb.TicketRow{
		ID:        id,
		Coord:     t.Coordinate,
		Level:     t.Level.String(),
		Origin:    origin,
		CreatedAt: at,
	})
}

func (w *World) UntrackTicket(id string) {
	w.index.RecordRelease(id, w.cfg.Now().UTC())
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
