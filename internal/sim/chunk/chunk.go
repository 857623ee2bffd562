package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Size is the edge length of a chunk in blocks.
const Size = 16

const Volume = Size * Size * Size

// Chunk is a 16x16x16 block volume. Block contents are guarded by an RWMutex
// so cache readers can inspect them; the level is written only by the loader.
type Chunk struct {
	coord Coord
	level atomic.Uint32

	mu     sync.RWMutex
	blocks []uint16 // len = Volume, index x + z*16 + y*256
	dirty  bool
	hash   [32]byte
}

// New returns an empty (all air) chunk.
func New(coord Coord, level Level) *Chunk {
	c := &Chunk{
		coord:  coord,
		blocks: make([]uint16, Volume),
	}
	c.level.Store(uint32(level))
	return c
}

// FromBlocks wraps decoded block data; the chunk starts clean.
func FromBlocks(coord Coord, level Level, blocks []uint16) (*Chunk, error) {
	if len(blocks) != Volume {
		return nil, fmt.Errorf("chunk %s: blocks length mismatch: got %d want %d", coord, len(blocks), Volume)
	}
	c := &Chunk{coord: coord, blocks: blocks}
	c.level.Store(uint32(level))
	c.hash = digestBlocks(blocks)
	return c, nil
}

func (c *Chunk) Coordinate() Coord { return c.coord }

func (c *Chunk) Level() Level { return Level(c.level.Load()) }

// SetLevel is reserved for the loader goroutine.
func (c *Chunk) SetLevel(l Level) { c.level.Store(uint32(l)) }

func index(x, y, z int) int { return x + z*Size + y*Size*Size }

func inChunk(x, y, z int) bool {
	return x >= 0 && x < Size && y >= 0 && y < Size && z >= 0 && z < Size
}

func (c *Chunk) Get(x, y, z int) uint16 {
	if !inChunk(x, y, z) {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	if !inChunk(x, y, z) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := index(x, y, z)
	if c.blocks[i] == b {
		return
	}
	c.blocks[i] = b
	c.dirty = true
}

// Blocks returns a copy of the block data.
func (c *Chunk) Blocks() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint16, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Dirty reports whether blocks changed since the chunk was loaded or last saved.
func (c *Chunk) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

func (c *Chunk) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

func (c *Chunk) MarkClean() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

func (c *Chunk) Digest() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty || c.hash == ([32]byte{}) {
		c.hash = digestBlocks(c.blocks)
	}
	return c.hash
}

func digestBlocks(blocks []uint16) [32]byte {
	h := sha256.New()
	var tmp [2]byte
	for _, v := range blocks {
		binary.LittleEndian.PutUint16(tmp[:], v)
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
