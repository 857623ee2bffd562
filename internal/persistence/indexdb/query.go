package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

// ChunkRow is the indexed history of one coordinate.
type ChunkRow struct {
	Coord     chunk.Coord `json:"coord"`
	State     string      `json:"state"`
	Level     string      `json:"level"`
	Digest    string      `json:"digest,omitempty"`
	Loads     int         `json:"loads"`
	Evictions int         `json:"evictions"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type FailureRow struct {
	ID      int64       `json:"id"`
	Coord   chunk.Coord `json:"coord"`
	Kind    string      `json:"kind"`
	Attempt int         `json:"attempt"`
	Error   string      `json:"error"`
	At      time.Time   `json:"at"`
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteIndex) Chunk(ctx context.Context, c chunk.Coord) (ChunkRow, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT x,y,z,state,level,digest,loads,evictions,updated_at FROM chunks WHERE x=? AND y=? AND z=?`,
		c.X, c.Y, c.Z)
	r, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkRow{}, false, nil
	}
	if err != nil {
		return ChunkRow{}, false, err
	}
	return r, true, nil
}

// Chunks lists indexed chunks, most recently updated first. An empty state
// matches every state.
func (s *SQLiteIndex) Chunks(ctx context.Context, state string, limit int) ([]ChunkRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT x,y,z,state,level,digest,loads,evictions,updated_at FROM chunks`
	args := []any{}
	if state != "" {
		q += ` WHERE state=?`
		args = append(args, state)
	}
	q += ` ORDER BY updated_at DESC, x, y, z LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		r, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(sc scanner) (ChunkRow, error) {
	var r ChunkRow
	var updated string
	if err := sc.Scan(&r.Coord.X, &r.Coord.Y, &r.Coord.Z, &r.State, &r.Level, &r.Digest, &r.Loads, &r.Evictions, &updated); err != nil {
		return ChunkRow{}, err
	}
	r.UpdatedAt = parseTS(updated)
	return r, nil
}

// Failures lists recorded load and save failures, newest first.
func (s *SQLiteIndex) Failures(ctx context.Context, limit int) ([]FailureRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,x,y,z,kind,attempt,error,at FROM failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailureRow
	for rows.Next() {
		var r FailureRow
		var at string
		if err := rows.Scan(&r.ID, &r.Coord.X, &r.Coord.Y, &r.Coord.Z, &r.Kind, &r.Attempt, &r.Error, &at); err != nil {
			return nil, err
		}
		r.At = parseTS(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tickets lists recorded holds, newest first. With activeOnly, released
// holds are skipped.
func (s *SQLiteIndex) Tickets(ctx context.Context, activeOnly bool, limit int) ([]TicketRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id,x,y,z,level,origin,created_at,released_at FROM tickets`
	if activeOnly {
		q += ` WHERE released_at IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TicketRow
	for rows.Next() {
		var r TicketRow
		var created string
		var released sql.NullString
		if err := rows.Scan(&r.ID, &r.Coord.X, &r.Coord.Y, &r.Coord.Z, &r.Level, &r.Origin, &created, &released); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTS(created)
		if released.Valid {
			t := parseTS(released.String)
			r.ReleasedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Meta returns a meta value, or "" when unset.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta writes directly, bypassing the queue. Used at startup.
func (s *SQLiteIndex) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}
