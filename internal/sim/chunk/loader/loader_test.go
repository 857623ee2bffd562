package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkhost.ai/internal/sim/chunk"
)

type fakeSource struct {
	mu        sync.Mutex
	loads     map[chunk.Coord]int
	saves     map[chunk.Coord]int
	saved     map[chunk.Coord]*chunk.Chunk
	failLoad  map[chunk.Coord]bool
	saveError error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		loads:    map[chunk.Coord]int{},
		saves:    map[chunk.Coord]int{},
		saved:    map[chunk.Coord]*chunk.Chunk{},
		failLoad: map[chunk.Coord]bool{},
	}
}

func (f *fakeSource) LoadOrGenerate(coord chunk.Coord, level chunk.Level) (*chunk.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad[coord] {
		return nil, errors.New("disk on fire")
	}
	f.loads[coord]++
	return chunk.New(coord, level), nil
}

func (f *fakeSource) Save(ch *chunk.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves[ch.Coordinate()]++
	if f.saveError != nil {
		return f.saveError
	}
	f.saved[ch.Coordinate()] = ch
	return nil
}

func (f *fakeSource) totalLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.loads {
		n += v
	}
	return n
}

func (f *fakeSource) totalSaves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.saves {
		n += v
	}
	return n
}

type harness struct {
	l     *Loader
	src   *fakeSource
	cache *chunk.Cache
	tx    *chunk.TicketSender
	rec   *Recorder
}

const testDelay = time.Minute

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := newFakeSource()
	cache := chunk.NewCache()
	tx, rx := chunk.NewTicketChannel()
	cfg := DefaultConfig()
	cfg.ExpirationDelay = testDelay
	l := New(cfg, src, cache, rx, nil)
	rec := &Recorder{}
	l.SetEventSink(rec)
	return &harness{l: l, src: src, cache: cache, tx: tx, rec: rec}
}

func (h *harness) submit(t *testing.T, at chunk.Coord, level chunk.ParameterizedLevel) *chunk.Handle {
	t.Helper()
	handle, err := chunk.Ticket{Coordinate: at, Level: level}.Submit(h.tx)
	require.NoError(t, err)
	return handle
}

func (h *harness) levelCounts() map[chunk.Level]int {
	out := map[chunk.Level]int{}
	for _, st := range h.l.states {
		out[st.level]++
	}
	return out
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestTickingZeroLoadsFourShells(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	defer handle.Release()

	h.l.step(t0)

	out, ok := handle.Outcome()
	require.True(t, ok)
	assert.Equal(t, chunk.OutcomeRealized, out.Status)
	assert.Equal(t, 343, out.Loaded)
	assert.Equal(t, 0, out.Reused)
	assert.Equal(t, 0, out.Failed)

	assert.Len(t, h.l.states, 343)
	assert.Equal(t, 343, h.cache.Len())
	assert.Equal(t, map[chunk.Level]int{
		chunk.Ticking: 1,
		chunk.Active:  26,
		chunk.Minimal: 98,
		chunk.Loaded:  218,
	}, h.levelCounts())

	ch := h.cache.Get(chunk.C(1, 1, 1))
	require.NotNil(t, ch)
	assert.Equal(t, chunk.Active, ch.Level())
	assert.Equal(t, 343, h.rec.Count(EventLoaded))
}

func TestTickingOneLevelDistribution(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(5, -3, 2), chunk.TickingRadius(1))
	defer handle.Release()

	h.l.step(t0)

	assert.Equal(t, map[chunk.Level]int{
		chunk.Ticking: 27,
		chunk.Active:  98,
		chunk.Minimal: 218,
		chunk.Loaded:  386,
	}, h.levelCounts())
}

func TestReleasedBeforeProcessingIsVoid(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(2))
	handle.Release()

	h.l.step(t0)

	out, ok := handle.Outcome()
	require.True(t, ok)
	assert.Equal(t, chunk.OutcomeVoid, out.Status)
	assert.Zero(t, h.src.totalLoads())
	assert.Empty(t, h.l.states)
	assert.Equal(t, uint64(1), h.l.totals.TicketsVoid)
}

func TestNonTickingTicketCoversCentreOnly(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(7, 7, 7), chunk.At(chunk.Minimal))
	defer handle.Release()

	h.l.step(t0)

	require.Len(t, h.l.states, 1)
	st := h.l.states[chunk.C(7, 7, 7)]
	require.NotNil(t, st)
	assert.Equal(t, chunk.Minimal, st.Level())
	assert.Equal(t, 1, st.Tickets())
}

func TestOverlappingTicketsTakeStrongestLevel(t *testing.T) {
	h := newHarness(t)
	a := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	defer a.Release()
	b := h.submit(t, chunk.C(1, 0, 0), chunk.TickingRadius(0))

	h.l.step(t0)

	out, _ := b.Outcome()
	assert.Greater(t, out.Reused, 0)
	assert.Equal(t, 343, out.Loaded+out.Reused)

	shared := chunk.C(1, 0, 0)
	assert.Equal(t, chunk.Ticking, h.l.states[shared].Level())
	assert.Equal(t, chunk.Ticking, h.cache.Get(shared).Level())

	b.Release()
	h.l.step(t0.Add(time.Second))

	assert.Equal(t, chunk.Active, h.l.states[shared].Level())
	assert.Equal(t, chunk.Active, h.cache.Get(shared).Level())
	assert.Equal(t, 1, h.l.states[shared].Tickets())

	// Only B reached x = 4.
	far := h.l.states[chunk.C(4, 0, 0)]
	require.NotNil(t, far)
	assert.Zero(t, far.Tickets())
	assert.NotEmpty(t, h.l.ticketless)
	assert.Greater(t, h.rec.Count(EventLevelChanged), 0)
}

func TestEvictionWaitsForExpirationDelay(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	h.l.step(t0)

	handle.Release()
	t1 := t0.Add(time.Second)
	h.l.step(t1)
	assert.Len(t, h.l.ticketless, 343)
	assert.Zero(t, h.src.totalSaves())

	h.l.step(t1.Add(testDelay))
	assert.Zero(t, h.src.totalSaves(), "not strictly past the delay yet")
	assert.Len(t, h.l.states, 343)

	h.l.step(t1.Add(testDelay + time.Nanosecond))
	assert.Equal(t, 343, h.src.totalSaves())
	assert.Empty(t, h.l.states)
	assert.Empty(t, h.l.ticketless)
	assert.Zero(t, h.cache.Len())
	assert.True(t, h.l.earliest.IsZero())
	assert.Equal(t, 343, h.rec.Count(EventEvicted))
}

func TestRenewalCancelsEviction(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	h.l.step(t0)
	first.Release()
	t1 := t0.Add(time.Second)
	h.l.step(t1)

	second := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	defer second.Release()
	h.l.step(t1.Add(30 * time.Second))

	out, _ := second.Outcome()
	assert.Equal(t, 0, out.Loaded)
	assert.Equal(t, 343, out.Reused)

	h.l.step(t1.Add(testDelay + time.Second))
	assert.Zero(t, h.src.totalSaves())
	assert.Len(t, h.l.states, 343)
	assert.Empty(t, h.l.ticketless)
	assert.Equal(t, 343, h.src.totalLoads())
}

func TestRenewedThenReleasedRestartsDelay(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Active))
	h.l.step(t0)
	first.Release()
	t1 := t0.Add(time.Second)
	h.l.step(t1)

	t2 := t1.Add(30 * time.Second)
	second := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Loaded))
	h.l.step(t2)
	assert.Equal(t, chunk.Loaded, h.l.states[chunk.C(0, 0, 0)].Level(), "renewal resets the level")
	second.Release()
	h.l.step(t2)

	h.l.step(t1.Add(testDelay + time.Second))
	assert.Zero(t, h.src.totalSaves(), "stale entry must not evict")
	assert.Len(t, h.l.states, 1)

	h.l.step(t2.Add(testDelay + time.Second))
	assert.Equal(t, 1, h.src.totalSaves())
	assert.Empty(t, h.l.states)
}

func TestSaveFailureRetriesThenDrops(t *testing.T) {
	h := newHarness(t)
	h.src.saveError = errors.New("read-only filesystem")
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Minimal))
	h.l.step(t0)
	handle.Release()
	h.l.step(t0)

	now := t0
	for attempt := 1; attempt < 3; attempt++ {
		now = now.Add(testDelay + time.Second)
		h.l.step(now)
		require.Len(t, h.l.states, 1, "attempt %d", attempt)
		assert.Equal(t, attempt, h.l.states[chunk.C(0, 0, 0)].saveAttempts)
	}
	assert.Equal(t, 2, h.rec.Count(EventSaveFailed))

	now = now.Add(testDelay + time.Second)
	h.l.step(now)
	assert.Empty(t, h.l.states)
	assert.Zero(t, h.cache.Len())
	assert.Equal(t, 1, h.rec.Count(EventDropped))
	assert.Equal(t, uint64(3), h.l.totals.SaveFailures)
	assert.Equal(t, uint64(1), h.l.totals.ChunksDropped)
	for _, e := range h.rec.Events() {
		if e.Kind == EventDropped {
			assert.Contains(t, e.Error, "discarded unsaved")
			assert.Contains(t, e.Error, "read-only filesystem")
		}
	}
}

func TestSharedChunkQueuedOnceWhenAllTicketsDie(t *testing.T) {
	h := newHarness(t)
	h.src.saveError = errors.New("read-only filesystem")
	first := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Minimal))
	second := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Minimal))
	h.l.step(t0)
	first.Release()
	second.Release()
	h.l.step(t0)
	assert.Len(t, h.l.ticketless, 1)

	now := t0
	for attempt := 1; attempt < 3; attempt++ {
		now = now.Add(testDelay + time.Second)
		h.l.step(now)
		require.Len(t, h.l.states, 1, "attempt %d", attempt)
		assert.Equal(t, attempt, h.l.states[chunk.C(0, 0, 0)].saveAttempts)
		assert.Len(t, h.l.ticketless, 1)
	}

	now = now.Add(testDelay + time.Second)
	h.l.step(now)
	assert.Empty(t, h.l.states)
	assert.Equal(t, 3, h.src.totalSaves())
	assert.Equal(t, 1, h.rec.Count(EventDropped))
}

func TestLoadFailureSkipsCoordinate(t *testing.T) {
	h := newHarness(t)
	h.src.failLoad[chunk.C(0, 0, 0)] = true
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	defer handle.Release()

	h.l.step(t0)

	out, ok := handle.Outcome()
	require.True(t, ok)
	assert.Equal(t, chunk.OutcomeRealized, out.Status)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 342, out.Loaded)
	assert.Error(t, out.Err)
	assert.NotContains(t, h.l.states, chunk.C(0, 0, 0))
	assert.Len(t, h.l.states, 342)
	assert.Equal(t, 1, h.rec.Count(EventLoadFailed))
}

func TestDisconnectedChannelStillDrainsQueue(t *testing.T) {
	h := newHarness(t)
	a := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Loaded))
	defer a.Release()
	b := h.submit(t, chunk.C(9, 9, 9), chunk.At(chunk.Loaded))
	defer b.Release()
	h.tx.Close()

	h.l.step(t0)

	assert.True(t, h.l.disconnected)
	assert.Len(t, h.l.states, 2)
	_, err := chunk.Ticket{Coordinate: chunk.C(1, 1, 1), Level: chunk.At(chunk.Loaded)}.Submit(h.tx)
	assert.ErrorIs(t, err, chunk.ErrDisconnected)
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	h.l.step(t0)
	handle.Release()
	h.l.step(t0.Add(time.Second))
	h.l.publishMetrics(t0.Add(time.Second))

	m := h.l.Metrics()
	assert.Equal(t, 343, m.States)
	assert.Equal(t, 343, m.PendingEvictions)
	assert.Equal(t, 0, m.Tickets)
	assert.Equal(t, 1, m.Levels["Ticking"])
	assert.Equal(t, 218, m.Levels["Loaded"])
	assert.Equal(t, uint64(1), m.Totals.TicketsProcessed)
	assert.Equal(t, uint64(343), m.Totals.ChunksLoaded)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.l.cfg.ExpirationDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.l.Run(ctx) }()

	handle := h.submit(t, chunk.C(0, 0, 0), chunk.TickingRadius(0))
	defer handle.Release()
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	out, err := handle.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, 343, out.Loaded)

	info, ok, err := h.l.Inspect(wctx, chunk.C(0, 0, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chunk.Ticking, info.Level)
	assert.Equal(t, 1, info.Tickets)
	assert.Len(t, info.Digest, 64)
	assert.Nil(t, info.EvictsAt)

	_, ok, err = h.l.Inspect(wctx, chunk.C(100, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loader did not stop")
	}
	assert.Equal(t, 343, h.src.totalSaves())
	assert.Zero(t, h.cache.Len())
}

func TestShutdownResolvesQueuedTickets(t *testing.T) {
	h := newHarness(t)
	handle := h.submit(t, chunk.C(0, 0, 0), chunk.At(chunk.Loaded))
	defer handle.Release()

	h.l.shutdown(t0)

	out, ok := handle.Outcome()
	require.True(t, ok)
	assert.Equal(t, chunk.OutcomeVoid, out.Status)
	assert.Zero(t, h.src.totalLoads())
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	failing := sinkFunc(func(Event) error { return errors.New("full") })
	sink := MultiSink{a, nil, failing, b}

	err := sink.WriteEvent(Event{Kind: EventLoaded})
	assert.EqualError(t, err, "full")
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

type sinkFunc func(Event) error

func (f sinkFunc) WriteEvent(e Event) error { return f(e) }
