package gen

import (
	"testing"

	"chunkhost.ai/internal/sim/chunk"
)

func TestClassicLayers(t *testing.T) {
	f := Classic(42)
	f.GlassPermille = 0
	ch := f.Generate(chunk.C(3, 0, -2), chunk.Loaded)

	want := map[int]uint16{0: Bedrock, 1: Stone, 3: Stone, 4: Dirt, 6: Grass, 7: Air}
	for y, id := range want {
		if got := ch.Get(5, y, 5); got != id {
			t.Fatalf("y=%d: got %s want %s", y, BlockName(got), BlockName(id))
		}
	}
	if got := ch.Get(0, 0, 5); got != Air {
		t.Fatalf("border column should stay air, got %s", BlockName(got))
	}
	if ch.Level() != chunk.Loaded {
		t.Fatalf("level=%s", ch.Level())
	}
	if !ch.Dirty() {
		t.Fatalf("generated chunk must be dirty so it gets saved")
	}
}

func TestGenerateOnlyChunkRowZero(t *testing.T) {
	f := Classic(1)
	ch := f.Generate(chunk.C(0, 1, 0), chunk.Loaded)
	for _, b := range ch.Blocks() {
		if b != Air {
			t.Fatalf("chunk-y 1 should be empty, found %s", BlockName(b))
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Classic(7).Generate(chunk.C(1, 0, 1), chunk.Active)
	b := Classic(7).Generate(chunk.C(1, 0, 1), chunk.Active)
	if a.Digest() != b.Digest() {
		t.Fatalf("same seed and coordinate must generate the same chunk")
	}
	c := Classic(8).Generate(chunk.C(1, 0, 1), chunk.Active)
	if a.Digest() == c.Digest() {
		t.Fatalf("different seeds should scatter glass differently")
	}
}

func TestDebugMarkerAtOrigin(t *testing.T) {
	ch := Classic(1).Generate(chunk.Coord{}, chunk.Ticking)
	if got := ch.Get(8, 10, 8); got != Debug {
		t.Fatalf("origin marker: got %s", BlockName(got))
	}
}

func TestSeedFromString(t *testing.T) {
	if SeedFromString("20240101000000") == SeedFromString("20240101000001") {
		t.Fatalf("seeds should differ")
	}
	if SeedFromString("abc") != SeedFromString("abc") {
		t.Fatalf("seed hashing must be stable")
	}
}
