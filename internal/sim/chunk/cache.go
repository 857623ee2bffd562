package chunk

import (
	"encoding/binary"
	"sort"
	"sync"
	"weak"

	"github.com/cespare/xxhash/v2"
)

const defaultCacheShards = 16

// Cache maps coordinates to weak handles of loaded chunks. Any goroutine may
// read it; only the loader inserts and removes. Holding a *Chunk obtained from
// the cache does not keep the chunk in the loader's bookkeeping: it may be
// evicted (saved and dropped from the cache) moments later.
type Cache struct {
	shards []*cacheShard
}

type cacheShard struct {
	mu     sync.RWMutex
	chunks map[Coord]weak.Pointer[Chunk]
}

func NewCache() *Cache {
	return NewShardedCache(defaultCacheShards)
}

// NewShardedCache spreads coordinates over n independently locked shards.
func NewShardedCache(n int) *Cache {
	if n <= 0 {
		n = 1
	}
	c := &Cache{shards: make([]*cacheShard, n)}
	for i := range c.shards {
		c.shards[i] = &cacheShard{chunks: make(map[Coord]weak.Pointer[Chunk])}
	}
	return c
}

func (c *Cache) shard(coord Coord) *cacheShard {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(coord.X))
	binary.LittleEndian.PutUint64(b[8:], uint64(coord.Y))
	binary.LittleEndian.PutUint64(b[16:], uint64(coord.Z))
	return c.shards[xxhash.Sum64(b[:])%uint64(len(c.shards))]
}

// Find returns the weak handle stored for coord.
func (c *Cache) Find(coord Coord) (weak.Pointer[Chunk], bool) {
	s := c.shard(coord)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.chunks[coord]
	return p, ok
}

// Get upgrades the cached handle. It returns nil when nothing is cached or the
// chunk has already been collected.
func (c *Cache) Get(coord Coord) *Chunk {
	p, ok := c.Find(coord)
	if !ok {
		return nil
	}
	return p.Value()
}

func (c *Cache) Insert(coord Coord, ch *Chunk) {
	s := c.shard(coord)
	s.mu.Lock()
	s.chunks[coord] = weak.Make(ch)
	s.mu.Unlock()
}

func (c *Cache) Remove(coord Coord) {
	s := c.shard(coord)
	s.mu.Lock()
	delete(s.chunks, coord)
	s.mu.Unlock()
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.chunks)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns the cached coordinates sorted by X, then Y, then Z.
func (c *Cache) Keys() []Coord {
	var keys []Coord
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.chunks {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}

// Clear drops every entry.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		clear(s.chunks)
		s.mu.Unlock()
	}
}
