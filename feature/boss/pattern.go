package boss

import (
	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
)

// BlockSource is the part of a world transaction needed to look for a
// summoning pattern.
type BlockSource interface {
	Block(pos cube.Pos) world.Block
}

// placed shows b at pos on top of a BlockSource, for checking a pattern
// before the block that completes it is actually placed.
type placed struct {
	BlockSource
	pos cube.Pos
	b   world.Block
}

func (p placed) Block(pos cube.Pos) world.Block {
	if pos == p.pos {
		return p.b
	}
	return p.BlockSource.Block(pos)
}

// Pattern is a complete wither summoning pattern.
type Pattern struct {
	// Blocks holds the skulls followed by the soul blocks.
	Blocks []cube.Pos
	// Base is the bottom soul block, where the Wither appears.
	Base cube.Pos
}

// WitherPattern looks for a wither pattern that contains pos: three wither
// skeleton skulls on a T of four soul sand or soul soil blocks, with air
// below the arms of the T.
func WitherPattern(src BlockSource, pos cube.Pos) (Pattern, bool) {
	if !isWitherSkull(src.Block(pos)) {
		return Pattern{}, false
	}
	for _, axis := range []cube.Axis{cube.X, cube.Z} {
		for k := -1; k <= 1; k++ {
			head := pos.Sub(axisOffset(axis, k))
			if p, ok := witherPatternAt(src, head, axis); ok {
				return p, true
			}
		}
	}
	return Pattern{}, false
}

func witherPatternAt(src BlockSource, head cube.Pos, axis cube.Axis) (Pattern, bool) {
	base := head.Sub(cube.Pos{0, 2, 0})
	body := base.Add(cube.Pos{0, 1, 0})
	var p Pattern
	for x := -1; x <= 1; x++ {
		skull := head.Add(axisOffset(axis, x))
		if !isWitherSkull(src.Block(skull)) {
			return Pattern{}, false
		}
		p.Blocks = append(p.Blocks, skull)
	}
	for x := -1; x <= 1; x++ {
		soul := body.Add(axisOffset(axis, x))
		if !isSoulBlock(src.Block(soul)) {
			return Pattern{}, false
		}
		p.Blocks = append(p.Blocks, soul)
	}
	if !isSoulBlock(src.Block(base)) {
		return Pattern{}, false
	}
	for _, x := range []int{-1, 1} {
		if !isAir(src.Block(base.Add(axisOffset(axis, x)))) {
			return Pattern{}, false
		}
	}
	p.Blocks = append(p.Blocks, base)
	p.Base = base
	return p, true
}

func axisOffset(axis cube.Axis, n int) cube.Pos {
	if axis == cube.X {
		return cube.Pos{n, 0, 0}
	}
	return cube.Pos{0, 0, n}
}

func isWitherSkull(b world.Block) bool {
	s, ok := b.(block.Skull)
	return ok && s.Type == block.WitherSkeletonSkull()
}

func isSoulBlock(b world.Block) bool {
	name, _ := b.EncodeBlock()
	return name == "minecraft:soul_sand" || name == "minecraft:soul_soil"
}

func isAir(b world.Block) bool {
	name, _ := b.EncodeBlock()
	return name == "minecraft:air"
}
