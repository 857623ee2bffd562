package chunk

// CoordLevel pairs a coordinate with the level a ticket demands for it.
type CoordLevel struct {
	Coord Coord
	Level Level
}

// CoordinateLevels lists every coordinate the ticket covers and at which level.
// Shell 0 (the centre) gets the ticket's level. For Ticking(r), shells 1..=r
// are Ticking too and shells r+1, r+2, r+3 get Active, Minimal and Loaded.
// Other levels only cover the centre.
func (t Ticket) CoordinateLevels() []CoordLevel {
	level := t.Level.Plain()
	if level != Ticking {
		return []CoordLevel{{Coord: t.Coordinate, Level: level}}
	}

	radius := t.Level.Radius
	successive := level.SuccessiveLevels()
	outer := radius + len(successive)
	side := int64(2*outer + 1)
	points := make([]CoordLevel, 0, side*side*side)

	points = append(points, CoordLevel{Coord: t.Coordinate, Level: level})
	for layer := 1; layer <= radius; layer++ {
		VisitHollowCube(layer, func(p Coord) {
			points = append(points, CoordLevel{Coord: t.Coordinate.Add(p), Level: Ticking})
		})
	}
	layer := radius
	for _, sub := range successive {
		layer++
		VisitHollowCube(layer, func(p Coord) {
			points = append(points, CoordLevel{Coord: t.Coordinate.Add(p), Level: sub})
		})
	}
	return points
}

// CoordinateCount is len(t.CoordinateLevels()) without building the list.
func (t Ticket) CoordinateCount() int {
	if t.Level.Plain() != Ticking {
		return 1
	}
	side := 2*(t.Level.Radius+len(Ticking.SuccessiveLevels())) + 1
	return side * side * side
}

// HollowCubeSize is the number of coordinates VisitHollowCube(radius) visits.
func HollowCubeSize(radius int) int {
	if radius <= 0 {
		return 0
	}
	outer := 2*radius + 1
	inner := 2*radius - 1
	return outer*outer*outer - inner*inner*inner
}

// VisitHollowCube calls fn once for every offset on the surface of the cube
// with the given Chebyshev radius around the origin: corners first, then edges
// without their corners, then faces without their edges. Interior offsets are
// never visited, so generating shells for increasing radii does no repeated
// work. Radius 0 visits nothing; the centre belongs to the caller.
func VisitHollowCube(radius int, fn func(Coord)) {
	if radius <= 0 {
		return
	}
	e := int64(radius)
	extrema := [2]int64{-e, e}
	inner := e - 1

	// corners
	for _, x := range extrema {
		for _, z := range extrema {
			for _, y := range extrema {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}

	// edges: one axis varies
	for _, y := range extrema {
		for _, x := range extrema {
			for z := -inner; z <= inner; z++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
		for _, z := range extrema {
			for x := -inner; x <= inner; x++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}
	for _, x := range extrema {
		for _, z := range extrema {
			for y := -inner; y <= inner; y++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}

	// faces: two axes vary
	for _, x := range extrema {
		for y := -inner; y <= inner; y++ {
			for z := -inner; z <= inner; z++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}
	for _, y := range extrema {
		for x := -inner; x <= inner; x++ {
			for z := -inner; z <= inner; z++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}
	for _, z := range extrema {
		for y := -inner; y <= inner; y++ {
			for x := -inner; x <= inner; x++ {
				fn(Coord{X: x, Y: y, Z: z})
			}
		}
	}
}
