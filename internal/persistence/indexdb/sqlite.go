package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/loader"
)

const schemaVersion = "1"

// SQLiteIndex is a queryable secondary record of chunk lifecycle events,
// save failures and ticket holds. Writes are queued and applied by a single
// goroutine in batched transactions; the event log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent   atomic.Uint64
	dropTicket  atomic.Uint64
	writeErrors atomic.Uint64
	applied     atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqTicket
	reqRelease
	reqFlush
)

type req struct {
	kind reqKind

	event  loader.Event
	ticket TicketRow
	done   chan struct{}
}

// TicketRow is one recorded hold.
type TicketRow struct {
	ID         string      `json:"id"`
	Coord      chunk.Coord `json:"coord"`
	Level      string      `json:"level"`
	Origin     string      `json:"origin"`
	CreatedAt  time.Time   `json:"created_at"`
	ReleasedAt *time.Time  `json:"released_at,omitempty"`
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropEventTotal  uint64 `json:"drop_event_total"`
	DropTicketTotal uint64 `json:"drop_ticket_total"`
	WriteErrorTotal uint64 `json:"write_error_total"`
	AppliedTotal    uint64 `json:"applied_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Ticket bursts produce one event per chunk; keep room for several
		// large tickets without stalling the loader.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			state TEXT NOT NULL,
			level TEXT NOT NULL,
			digest TEXT NOT NULL DEFAULT '',
			loads INTEGER NOT NULL DEFAULT 0,
			evictions INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_state ON chunks(state);`,
		`CREATE TABLE IF NOT EXISTS failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			kind TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_pos ON failures(x, y, z);`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			level TEXT NOT NULL,
			origin TEXT NOT NULL,
			created_at TEXT NOT NULL,
			released_at TEXT
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent queues a loader event. Events are dropped, and counted, when
// the writer falls behind.
func (s *SQLiteIndex) WriteEvent(e loader.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordTicket(row TicketRow) {
	if s == nil || s.closed.Load() || row.ID == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqTicket, ticket: row}:
	default:
		s.dropTicket.Add(1)
	}
}

func (s *SQLiteIndex) RecordRelease(id string, at time.Time) {
	if s == nil || s.closed.Load() || id == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqRelease, ticket: TicketRow{ID: id, ReleasedAt: &at}}:
	default:
		s.dropTicket.Add(1)
	}
}

// Flush blocks until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropEventTotal:  s.dropEvent.Load(),
		DropTicketTotal: s.dropTicket.Load(),
		WriteErrorTotal: s.writeErrors.Load(),
		AppliedTotal:    s.applied.Load(),
	}
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertLoaded, _ := s.db.Prepare(`INSERT INTO chunks(x,y,z,state,level,loads,updated_at) VALUES(?,?,?,'loaded',?,1,?)
		ON CONFLICT(x,y,z) DO UPDATE SET state='loaded', level=excluded.level, loads=loads+1, updated_at=excluded.updated_at`)
	upsertLevel, _ := s.db.Prepare(`UPDATE chunks SET level=?, updated_at=? WHERE x=? AND y=? AND z=?`)
	upsertEvicted, _ := s.db.Prepare(`INSERT INTO chunks(x,y,z,state,level,digest,evictions,updated_at) VALUES(?,?,?,?,?,?,1,?)
		ON CONFLICT(x,y,z) DO UPDATE SET state=excluded.state, level=excluded.level, digest=CASE WHEN excluded.digest='' THEN digest ELSE excluded.digest END, evictions=evictions+1, updated_at=excluded.updated_at`)
	insertFailure, _ := s.db.Prepare(`INSERT INTO failures(x,y,z,kind,attempt,error,at) VALUES(?,?,?,?,?,?,?)`)
	insertTicket, _ := s.db.Prepare(`INSERT OR REPLACE INTO tickets(id,x,y,z,level,origin,created_at) VALUES(?,?,?,?,?,?,?)`)
	releaseTicket, _ := s.db.Prepare(`UPDATE tickets SET released_at=? WHERE id=? AND released_at IS NULL`)
	stmts := []*sql.Stmt{upsertLoaded, upsertLevel, upsertEvicted, insertFailure, insertTicket, releaseTicket}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		s.applied.Add(1)
		return true
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			c := e.Coord
			at := ts(e.Time)
			switch e.Kind {
			case loader.EventLoaded:
				exec(upsertLoaded, c.X, c.Y, c.Z, e.Level.String(), at)
			case loader.EventLevelChanged:
				exec(upsertLevel, e.Level.String(), at, c.X, c.Y, c.Z)
			case loader.EventEvicted:
				exec(upsertEvicted, c.X, c.Y, c.Z, "evicted", e.Level.String(), e.Digest, at)
			case loader.EventDropped:
				if exec(upsertEvicted, c.X, c.Y, c.Z, "dropped", e.Level.String(), "", at) {
					exec(insertFailure, c.X, c.Y, c.Z, string(e.Kind), e.Attempt, e.Error, at)
				}
			case loader.EventLoadFailed, loader.EventSaveFailed:
				exec(insertFailure, c.X, c.Y, c.Z, string(e.Kind), e.Attempt, e.Error, at)
			}
		case reqTicket:
			t := r.ticket
			exec(insertTicket, t.ID, t.Coord.X, t.Coord.Y, t.Coord.Z, t.Level, t.Origin, ts(t.CreatedAt))
		case reqRelease:
			exec(releaseTicket, ts(*r.ticket.ReleasedAt), r.ticket.ID)
		}
		// Readers share the single connection, so an idle queue must not
		// leave a transaction open.
		if tx != nil && (len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
