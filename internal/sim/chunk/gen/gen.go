package gen

import (
	"github.com/cespare/xxhash/v2"

	"chunkhost.ai/internal/sim/chunk"
)

// Block ids produced by the flat generator.
const (
	Air uint16 = iota
	Bedrock
	Stone
	Dirt
	Grass
	Glass
	Debug
)

var palette = []string{"AIR", "BEDROCK", "STONE", "DIRT", "GRASS", "GLASS", "DEBUG"}

// BlockName returns the palette name of a block id.
func BlockName(id uint16) string {
	if int(id) < len(palette) {
		return palette[id]
	}
	return "UNKNOWN"
}

// Flat generates layered terrain: each chunk-y row maps block-y layers to a block.
type Flat struct {
	Seed int64
	// Layers[chunkY][blockY] = block id.
	Layers map[int64]map[int]uint16
	// GlassPermille replaces that share of non-bottom layer blocks with glass.
	GlassPermille int
	// DebugMarker places a debug block in the origin chunk.
	DebugMarker bool
}

// Classic is bedrock, three stone, two dirt and a grass layer in chunk-y 0.
func Classic(seed int64) *Flat {
	f := &Flat{
		Seed:          seed,
		Layers:        map[int64]map[int]uint16{},
		GlassPermille: 150,
		DebugMarker:   true,
	}
	f.Insert(0, 0, Bedrock)
	f.Insert(0, 1, Stone)
	f.Insert(0, 2, Stone)
	f.Insert(0, 3, Stone)
	f.Insert(0, 4, Dirt)
	f.Insert(0, 5, Dirt)
	f.Insert(0, 6, Grass)
	return f
}

func (f *Flat) Insert(chunkY int64, blockY int, id uint16) {
	if blockY < 0 || blockY >= chunk.Size {
		return
	}
	layer, ok := f.Layers[chunkY]
	if !ok {
		layer = map[int]uint16{}
		f.Layers[chunkY] = layer
	}
	layer[blockY] = id
}

// Generate builds the chunk at coord. Output depends only on the seed and coord.
func (f *Flat) Generate(coord chunk.Coord, level chunk.Level) *chunk.Chunk {
	ch := chunk.New(coord, level)
	if layers, ok := f.Layers[coord.Y]; ok {
		for y := 0; y < chunk.Size; y++ {
			id, ok := layers[y]
			if !ok {
				continue
			}
			for x := 1; x < chunk.Size-1; x++ {
				for z := 1; z < chunk.Size-1; z++ {
					b := id
					if y > 0 && f.GlassPermille > 0 {
						wx := coord.X*chunk.Size + int64(x)
						wy := coord.Y*chunk.Size + int64(y)
						wz := coord.Z*chunk.Size + int64(z)
						if Hash3(f.Seed, wx, wy, wz)%1000 < uint64(f.GlassPermille) {
							b = Glass
						}
					}
					ch.Set(x, y, z, b)
				}
			}
		}
	}
	if f.DebugMarker && coord == (chunk.Coord{}) {
		ch.Set(8, 10, 8, Debug)
	}
	ch.MarkDirty()
	return ch
}

// SeedFromString maps a settings seed string onto a generator seed.
func SeedFromString(s string) int64 {
	return int64(xxhash.Sum64String(s))
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash3(seed int64, x, y, z int64) uint64 {
	v := uint64(seed) ^ (uint64(x) * 0x9e3779b97f4a7c15) ^ (uint64(y) * 0xc2b2ae3d27d4eb4f) ^ (uint64(z) * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
