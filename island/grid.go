package island

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Grid lays islands out on a square spiral around the origin. Slot 0 is at
// the origin, slots 1-8 form the first ring around it and so on.
type Grid struct {
	// Spacing is the distance between the centres of neighbouring slots.
	Spacing int
	// Size is the width of the protected box of each island.
	Size int
	// Y is the height of the starter platform.
	Y int
	// Range is the vertical range of the world.
	Range cube.Range
}

// Box is the area protected by an island.
type Box struct {
	Min, Max cube.Pos
}

// Contains reports whether pos is within the box, bounds included.
func (b Box) Contains(pos cube.Pos) bool {
	return pos[0] >= b.Min[0] && pos[0] <= b.Max[0] &&
		pos[1] >= b.Min[1] && pos[1] <= b.Max[1] &&
		pos[2] >= b.Min[2] && pos[2] <= b.Max[2]
}

// BBox returns the box as an entity bounding box, for entity queries.
func (b Box) BBox() cube.BBox {
	return cube.Box(
		float64(b.Min[0]), float64(b.Min[1]), float64(b.Min[2]),
		float64(b.Max[0]+1), float64(b.Max[1]+1), float64(b.Max[2]+1),
	)
}

// Centre returns the block at the centre of the slot's starter platform.
func (g Grid) Centre(slot int) cube.Pos {
	x, z := spiral(slot)
	return cube.Pos{x * g.Spacing, g.Y, z * g.Spacing}
}

// Home returns the default spawn point of a slot: on top of the centre block.
func (g Grid) Home(slot int) mgl64.Vec3 {
	c := g.Centre(slot)
	return mgl64.Vec3{float64(c[0]) + 0.5, float64(c[1] + 1), float64(c[2]) + 0.5}
}

// Bounds returns the protected box of a slot.
func (g Grid) Bounds(slot int) Box {
	c := g.Centre(slot)
	half := g.Size / 2
	return Box{
		Min: cube.Pos{c[0] - half, g.Range.Min(), c[2] - half},
		Max: cube.Pos{c[0] - half + g.Size - 1, g.Range.Max(), c[2] - half + g.Size - 1},
	}
}

// SlotAt returns the slot whose box contains pos.
func (g Grid) SlotAt(pos cube.Pos) (int, bool) {
	if g.Spacing <= 0 {
		return 0, false
	}
	gx := int(math.Floor(float64(pos[0])/float64(g.Spacing) + 0.5))
	gz := int(math.Floor(float64(pos[2])/float64(g.Spacing) + 0.5))
	slot := unspiral(gx, gz)
	if !g.Bounds(slot).Contains(pos) {
		return 0, false
	}
	return slot, true
}

// spiral returns the grid coordinates of the n-th cell of a square spiral.
func spiral(n int) (x, z int) {
	if n <= 0 {
		return 0, 0
	}
	k := int(math.Ceil((math.Sqrt(float64(n+1)) - 1) / 2))
	t := 2*k + 1
	m := t*t - 1
	t--
	if n >= m-t {
		return k - (m - n), -k
	}
	m -= t
	if n >= m-t {
		return -k, -k + (m - n)
	}
	m -= t
	if n >= m-t {
		return -k + (m - n), k
	}
	return k, k - (m - n - t)
}

// unspiral is the inverse of spiral.
func unspiral(x, z int) int {
	k := max(abs(x), abs(z))
	if k == 0 {
		return 0
	}
	t := 2 * k
	m := (t+1)*(t+1) - 1
	switch {
	case z == -k:
		return m - (k - x)
	case x == -k:
		return m - t - (z + k)
	case z == k:
		return m - 2*t - (x + k)
	default:
		return m - 3*t - (k - z)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
