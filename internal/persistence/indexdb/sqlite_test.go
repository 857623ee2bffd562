package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/loader"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	_ = s.WriteEvent(loader.Event{Kind: loader.EventLoaded})
	s.RecordTicket(TicketRow{ID: "t1"})
	s.RecordRelease("t1", time.Now())
	s.RecordTicket(TicketRow{})

	st := s.Stats()
	if st.DropEventTotal != 1 {
		t.Fatalf("DropEventTotal=%d want=1", st.DropEventTotal)
	}
	if st.DropTicketTotal != 2 {
		t.Fatalf("DropTicketTotal=%d want=2", st.DropTicketTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func openTemp(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "chunks.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteIndex_ChunkLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := chunk.C(2, -1, 7)

	events := []loader.Event{
		{Time: at, Kind: loader.EventLoaded, Coord: c, Level: chunk.Minimal},
		{Time: at.Add(time.Second), Kind: loader.EventLevelChanged, Coord: c, Level: chunk.Ticking, Previous: chunk.Minimal},
		{Time: at.Add(time.Minute), Kind: loader.EventEvicted, Coord: c, Level: chunk.Ticking, Digest: "abc"},
		{Time: at.Add(2 * time.Minute), Kind: loader.EventLoaded, Coord: c, Level: chunk.Loaded},
	}
	for _, e := range events {
		if err := s.WriteEvent(e); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	row, ok, err := s.Chunk(ctx, c)
	if err != nil || !ok {
		t.Fatalf("Chunk: ok=%v err=%v", ok, err)
	}
	if row.State != "loaded" || row.Level != "Loaded" || row.Loads != 2 || row.Evictions != 1 || row.Digest != "abc" {
		t.Fatalf("row: %+v", row)
	}
	if !row.UpdatedAt.Equal(at.Add(2 * time.Minute)) {
		t.Fatalf("updated_at: %s", row.UpdatedAt)
	}

	if _, ok, err := s.Chunk(ctx, chunk.C(0, 0, 0)); err != nil || ok {
		t.Fatalf("missing chunk: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteIndex_FailuresAreDeadLettered(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := chunk.C(0, 0, 0)

	_ = s.WriteEvent(loader.Event{Time: at, Kind: loader.EventLoaded, Coord: c, Level: chunk.Active})
	_ = s.WriteEvent(loader.Event{Time: at.Add(time.Minute), Kind: loader.EventSaveFailed, Coord: c, Level: chunk.Active, Attempt: 1, Error: "disk full"})
	_ = s.WriteEvent(loader.Event{Time: at.Add(2 * time.Minute), Kind: loader.EventDropped, Coord: c, Level: chunk.Active, Attempt: 2, Error: "disk full"})
	_ = s.WriteEvent(loader.Event{Time: at.Add(3 * time.Minute), Kind: loader.EventLoadFailed, Coord: chunk.C(1, 0, 0), Level: chunk.Loaded, Error: "corrupt"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	fails, err := s.Failures(ctx, 10)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if len(fails) != 3 {
		t.Fatalf("failures: %+v", fails)
	}
	if fails[0].Kind != "load_failed" || fails[2].Kind != "save_failed" || fails[1].Attempt != 2 {
		t.Fatalf("failure order: %+v", fails)
	}

	dropped, err := s.Chunks(ctx, "dropped", 10)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Coord != c {
		t.Fatalf("dropped: %+v", dropped)
	}
	all, err := s.Chunks(ctx, "", 10)
	if err != nil || len(all) != 1 {
		t.Fatalf("all chunks: %+v err=%v", all, err)
	}
}

func TestSQLiteIndex_Tickets(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	s.RecordTicket(TicketRow{ID: "a", Coord: chunk.C(1, 2, 3), Level: "TICKING", Origin: "admin", CreatedAt: at})
	s.RecordTicket(TicketRow{ID: "b", Coord: chunk.C(0, 0, 0), Level: "LOADED", Origin: "ws", CreatedAt: at.Add(time.Second)})
	s.RecordRelease("a", at.Add(time.Minute))
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	all, err := s.Tickets(ctx, false, 10)
	if err != nil {
		t.Fatalf("Tickets: %v", err)
	}
	if len(all) != 2 || all[0].ID != "b" || all[1].ReleasedAt == nil {
		t.Fatalf("tickets: %+v", all)
	}
	active, err := s.Tickets(ctx, true, 10)
	if err != nil {
		t.Fatalf("Tickets: %v", err)
	}
	if len(active) != 1 || active[0].ID != "b" || active[0].Coord != chunk.C(0, 0, 0) {
		t.Fatalf("active: %+v", active)
	}
}

func TestSQLiteIndex_Meta(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	v, err := s.Meta(ctx, "schema_version")
	if err != nil || v != schemaVersion {
		t.Fatalf("schema_version=%q err=%v", v, err)
	}
	if err := s.SetMeta(ctx, "seed", "20260101000000"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if v, _ := s.Meta(ctx, "seed"); v != "20260101000000" {
		t.Fatalf("seed=%q", v)
	}
	if v, _ := s.Meta(ctx, "missing"); v != "" {
		t.Fatalf("missing=%q", v)
	}
}

func TestSQLiteIndex_ReadWithoutFlush(t *testing.T) {
	s := openTemp(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.RecordTicket(TicketRow{ID: "solo", Coord: chunk.C(4, 5, 6), Level: "FULL", Origin: "admin", CreatedAt: at})

	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		rows, err := s.Tickets(ctx, true, 10)
		cancel()
		if err != nil {
			t.Fatalf("Tickets blocked behind the writer: %v", err)
		}
		if len(rows) == 1 && rows[0].ID == "solo" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ticket never became visible: %+v", rows)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
