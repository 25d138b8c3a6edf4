package portal

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/island"
)

const (
	minWidth  = 2
	maxWidth  = 21
	minHeight = 3
	maxHeight = 21
)

// BlockSource provides the blocks a frame is detected in. *world.Tx
// implements it.
type BlockSource interface {
	Block(pos cube.Pos) world.Block
}

// Detect looks for an empty obsidian frame whose interior contains origin,
// trying both horizontal axes.
func Detect(src BlockSource, rng cube.Range, origin cube.Pos) (island.Portal, bool) {
	for _, axis := range []cube.Axis{cube.X, cube.Z} {
		if p, ok := detect(src, rng, origin, axis); ok {
			return p, true
		}
	}
	return island.Portal{}, false
}

func detect(src BlockSource, rng cube.Range, origin cube.Pos, axis cube.Axis) (island.Portal, bool) {
	if origin.OutOfBounds(rng) || !isInterior(src.Block(origin), axis) {
		return island.Portal{}, false
	}
	current := origin
	for current[1] > rng.Min() {
		below := current.Side(cube.FaceDown)
		if !isInterior(src.Block(below), axis) {
			break
		}
		current = below
	}
	if below := current.Side(cube.FaceDown); below.OutOfBounds(rng) || !isFrame(src.Block(below)) {
		return island.Portal{}, false
	}

	left, ok := span(src, rng, current, axis, -1)
	if !ok {
		return island.Portal{}, false
	}
	right, ok := span(src, rng, current, axis, 1)
	if !ok {
		return island.Portal{}, false
	}
	width := left + right + 1
	if width < minWidth || width > maxWidth {
		return island.Portal{}, false
	}

	corner := current.Add(axisOffset(axis, -left))
	height := 0
rows:
	for height < maxHeight {
		row := corner.Add(cube.Pos{0, height, 0})
		if row.OutOfBounds(rng) {
			return island.Portal{}, false
		}
		for x := range width {
			if !isInterior(src.Block(row.Add(axisOffset(axis, x))), axis) {
				break rows
			}
		}
		height++
	}
	if height < minHeight {
		return island.Portal{}, false
	}

	for y := range height {
		l := corner.Add(axisOffset(axis, -1)).Add(cube.Pos{0, y, 0})
		r := corner.Add(axisOffset(axis, width)).Add(cube.Pos{0, y, 0})
		if !isFrame(src.Block(l)) || !isFrame(src.Block(r)) {
			return island.Portal{}, false
		}
	}
	for x := -1; x <= width; x++ {
		bottom := corner.Add(axisOffset(axis, x)).Add(cube.Pos{0, -1, 0})
		top := corner.Add(axisOffset(axis, x)).Add(cube.Pos{0, height, 0})
		if top.OutOfBounds(rng) || !isFrame(src.Block(bottom)) || !isFrame(src.Block(top)) {
			return island.Portal{}, false
		}
	}
	return island.Portal{Corner: corner, Axis: axis, Width: width, Height: height}, true
}

// span counts the interior blocks next to pos in direction dir until a frame
// block is hit.
func span(src BlockSource, rng cube.Range, pos cube.Pos, axis cube.Axis, dir int) (int, bool) {
	n := 0
	for n < maxWidth {
		c := pos.Add(axisOffset(axis, dir*(n+1)))
		if c.OutOfBounds(rng) {
			return 0, false
		}
		b := src.Block(c)
		if isFrame(b) {
			return n, true
		}
		if !isInterior(b, axis) {
			return 0, false
		}
		n++
	}
	return 0, false
}

// OnFrame reports whether pos is one of the obsidian blocks framing p.
func OnFrame(p island.Portal, pos cube.Pos) bool {
	local := pos.Sub(p.Corner)
	along, across := local[2], local[0]
	if p.Axis == cube.X {
		along, across = local[0], local[2]
	}
	if across != 0 || along < -1 || along > p.Width || local[1] < -1 || local[1] > p.Height {
		return false
	}
	return along == -1 || along == p.Width || local[1] == -1 || local[1] == p.Height
}

// Fill places portal blocks in the interior of p. It reports false if the
// server has no portal block.
func Fill(tx *world.Tx, p island.Portal) bool {
	b, ok := portalBlock(p.Axis)
	if !ok {
		return false
	}
	for y := range p.Height {
		for x := range p.Width {
			tx.SetBlock(p.Corner.Add(axisOffset(p.Axis, x)).Add(cube.Pos{0, y, 0}), b, nil)
		}
	}
	return true
}

func portalBlock(axis cube.Axis) (world.Block, bool) {
	props := map[string]any{"portal_axis": axis.String()}
	if b, ok := world.BlockByName("minecraft:portal", props); ok {
		return b, true
	}
	return world.BlockByName("minecraft:nether_portal", props)
}

func axisOffset(axis cube.Axis, n int) cube.Pos {
	if axis == cube.X {
		return cube.Pos{n, 0, 0}
	}
	return cube.Pos{0, 0, n}
}

func isFrame(b world.Block) bool {
	name, _ := b.EncodeBlock()
	return name == "minecraft:obsidian"
}

func isInterior(b world.Block, axis cube.Axis) bool {
	name, props := b.EncodeBlock()
	switch name {
	case "minecraft:air", "minecraft:fire", "minecraft:soul_fire":
		return true
	case "minecraft:portal", "minecraft:nether_portal":
		s, _ := props["portal_axis"].(string)
		return s == axis.String()
	}
	return false
}
