package loader

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// Source loads chunks from disk or generates them, and persists them before
// eviction. Both calls run synchronously on the loader goroutine.
type Source interface {
	LoadOrGenerate(coord chunk.Coord, level chunk.Level) (*chunk.Chunk, error)
	Save(ch *chunk.Chunk) error
}

type Config struct {
	// ExpirationDelay is how long a chunk may sit without tickets before it is
	// saved and dropped.
	ExpirationDelay time.Duration
	// PollInterval is the nap between loader iterations.
	PollInterval time.Duration
	// MaxSaveAttempts bounds how often eviction retries a failing save before
	// dropping the chunk anyway.
	MaxSaveAttempts int
	// MetricsInterval throttles metrics publication.
	MetricsInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExpirationDelay: 60 * time.Second,
		PollInterval:    time.Millisecond,
		MaxSaveAttempts: 3,
		MetricsInterval: 100 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ExpirationDelay < 0 {
		c.ExpirationDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxSaveAttempts <= 0 {
		c.MaxSaveAttempts = d.MaxSaveAttempts
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	return c
}

// Loader turns tickets into loaded chunks. Everything except the cache, the
// metrics snapshot and the inspect channel is owned by the Run goroutine.
type Loader struct {
	cfg   Config
	src   Source
	cache *chunk.Cache
	rx    *chunk.TicketReceiver
	log   *log.Logger
	sink  EventSink

	// bindings records which coordinates each live ticket touched, so a dead
	// ticket only re-evaluates its own chunk states.
	bindings []ticketBinding
	states   map[chunk.Coord]*ChunkState

	// ticketless holds coordinates whose last ticket died, oldest first.
	ticketless []pendingEviction
	// earliest is the oldest timestamp in ticketless; zero when empty.
	earliest time.Time

	// disconnected is set once the ticket channel is closed and drained.
	disconnected bool

	inspect chan inspectReq

	totals        Totals
	lastPublished time.Time
	lastStep      time.Duration
	metrics       atomic.Value
	running       atomic.Bool
}

func New(cfg Config, src Source, cache *chunk.Cache, rx *chunk.TicketReceiver, logger *log.Logger) *Loader {
	l := &Loader{
		cfg:     cfg.normalized(),
		src:     src,
		cache:   cache,
		rx:      rx,
		log:     logger,
		states:  map[chunk.Coord]*ChunkState{},
		inspect: make(chan inspectReq, 64),
	}
	l.metrics.Store(Metrics{Levels: map[string]int{}})
	return l
}

// SetEventSink must be called before Run.
func (l *Loader) SetEventSink(s EventSink) { l.sink = s }

// Run processes tickets and evictions until ctx ends. On the way out every
// loaded chunk is saved and the cache is cleared.
func (l *Loader) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("chunk loader already running")
	}
	defer l.running.Store(false)

	l.logf("starting chunk loader (expiration=%s poll=%s)", l.cfg.ExpirationDelay, l.cfg.PollInterval)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown(time.Now())
			l.logf("chunk loader stopped")
			return ctx.Err()
		case <-ticker.C:
		}
		start := time.Now()
		l.step(start)
		l.lastStep = time.Since(start)
		if start.Sub(l.lastPublished) >= l.cfg.MetricsInterval {
			l.publishMetrics(start)
		}
	}
}

// step runs one loader iteration.
func (l *Loader) step(now time.Time) {
	l.processNewTickets(now)
	l.updateDroppedTickets(now)
	if l.hasExpiredChunks(now) {
		l.unloadExpiredChunks(now, l.findExpiredChunks(now))
	}
	l.serveInspections()
}

func (l *Loader) logf(format string, args ...any) {
	if l.log != nil {
		l.log.Printf(format, args...)
	}
}

func (l *Loader) emit(e Event) {
	if l.sink == nil {
		return
	}
	if err := l.sink.WriteEvent(e); err != nil {
		l.logf("chunk event %s %s: %v", e.Kind, e.Coord, err)
	}
}
