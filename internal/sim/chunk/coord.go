package chunk

import "fmt"

// Coord is a chunk coordinate (one unit = one chunk).
type Coord struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

func C(x, y, z int64) Coord { return Coord{X: x, Y: y, Z: z} }

func (c Coord) Add(o Coord) Coord {
	return Coord{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

// Chebyshev returns the shell index of o around c.
func (c Coord) Chebyshev(o Coord) int64 {
	return max(absInt64(o.X-c.X), absInt64(o.Y-c.Y), absInt64(o.Z-c.Z))
}

func (c Coord) Array() [3]int64 { return [3]int64{c.X, c.Y, c.Z} }

func (c Coord) String() string {
	return fmt.Sprintf("<%d, %d, %d>", c.X, c.Y, c.Z)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
