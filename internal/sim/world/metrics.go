package world

import (
	"context"
	"encoding/hex"

	"chunkhost.ai/internal/persistence/chunkfile"
	"chunkhost.ai/internal/persistence/indexdb"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/loader"
)

// WorldMetrics is a read-only view assembled from the loader's published
// snapshot and the persistence counters. Safe from any goroutine.
type WorldMetrics struct {
	Seed   string          `json:"seed"`
	Holds  int             `json:"holds"`
	Loader loader.Metrics  `json:"loader"`
	Store  chunkfile.Stats `json:"store"`
	Index  *indexdb.Stats  `json:"index,omitempty"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	w.mu.Lock()
	holds := len(w.holds)
	w.mu.Unlock()
	m := WorldMetrics{
		Seed:   w.settings.Seed,
		Holds:  holds,
		Loader: w.loader.Metrics(),
		Store:  w.store.Stats(),
	}
	if w.index != nil {
		st := w.index.Stats()
		m.Index = &st
	}
	return m
}

// ChunkInfo combines what the cache, the loader and the index know about
// one coordinate.
type ChunkInfo struct {
	Coord   chunk.Coord       `json:"coord"`
	Cached  bool              `json:"cached"`
	Level   chunk.Level       `json:"level,omitempty"`
	Digest  string            `json:"digest,omitempty"`
	OnDisk  bool              `json:"on_disk"`
	State   *loader.StateInfo `json:"state,omitempty"`
	Indexed *indexdb.ChunkRow `json:"indexed,omitempty"`
}

// Inspect asks the loader goroutine for its bookkeeping first, so a chunk
// with a state is always reported as cached at the state's level. It needs a
// running world.
func (w *World) Inspect(ctx context.Context, c chunk.Coord) (ChunkInfo, error) {
	info := ChunkInfo{Coord: c}
	st, ok, err := w.loader.Inspect(ctx, c)
	if err != nil {
		return info, err
	}
	if ok {
		info.State = &st
		info.Cached = true
		info.Level = st.Level
		info.Digest = st.Digest
	} else if ch := w.cache.Get(c); ch != nil {
		d := ch.Digest()
		info.Cached = true
		info.Level = ch.Level()
		info.Digest = hex.EncodeToString(d[:])
	}
	if h, err := chunkfile.ReadHeader(w.store.Path(c)); err == nil {
		info.OnDisk = true
		if info.Digest == "" {
			info.Digest = h.Digest
		}
	}
	if w.index != nil {
		row, ok, err := w.index.Chunk(ctx, c)
		if err != nil {
			return info, err
		}
		if ok {
			info.Indexed = &row
		}
	}
	return info, nil
}
