package island

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
)

// placement is a single block of the starter platform, named the way it is
// encoded so that it can be resolved with world.BlockByName.
type placement struct {
	Pos   cube.Pos
	Name  string
	Props map[string]any
}

func floorBlock(t Theme) string {
	switch t {
	case ThemeCrimson:
		return "minecraft:crimson_nylium"
	case ThemeSoul:
		return "minecraft:soul_soil"
	default:
		return "minecraft:netherrack"
	}
}

// starterLayout returns the blocks of the starter platform of an island: an
// inverted pyramid of netherrack topped with the theme's floor, a glowstone
// core and two lava sources far enough apart to build a generator between
// them.
func starterLayout(g Grid, isl *Island) []placement {
	c := g.Centre(isl.Slot)
	var out []placement
	for layer, radius := range []int{3, 2, 1} {
		y := c[1] - layer
		for x := -radius; x <= radius; x++ {
			for z := -radius; z <= radius; z++ {
				name := "minecraft:netherrack"
				switch {
				case layer == 0:
					name = floorBlock(isl.Theme)
				case radius == 1 && x == 0 && z == 0:
					name = "minecraft:glowstone"
				}
				out = append(out, placement{Pos: cube.Pos{c[0] + x, y, c[2] + z}, Name: name})
			}
		}
	}

	lava := map[string]any{"liquid_depth": int32(0)}
	for _, dx := range []int{-2, 2} {
		pos := cube.Pos{c[0] + dx, c[1], c[2] + 2}
		for i := range out {
			if out[i].Pos == pos {
				out[i] = placement{Pos: pos, Name: "minecraft:lava", Props: lava}
			}
		}
	}
	return out
}

// BuildStarter places the starter platform of isl. Blocks unknown to the
// server are skipped. It returns the number of blocks placed.
func BuildStarter(tx *world.Tx, g Grid, isl *Island) int {
	n := 0
	for _, p := range starterLayout(g, isl) {
		b, ok := world.BlockByName(p.Name, p.Props)
		if !ok {
			continue
		}
		tx.SetBlock(p.Pos, b, nil)
		n++
	}
	return n
}

// ClearBox removes every block of the island's box between the lowest layer
// of the starter platform and the top of the world. It is used when an island
// is reset or deleted.
func ClearBox(tx *world.Tx, g Grid, slot int) {
	b := g.Bounds(slot)
	bottom := max(b.Min[1], g.Y-8)
	for x := b.Min[0]; x <= b.Max[0]; x++ {
		for z := b.Min[2]; z <= b.Max[2]; z++ {
			top := tx.HighestBlock(x, z)
			for y := bottom; y <= top && y <= b.Max[1]; y++ {
				tx.SetBlock(cube.Pos{x, y, z}, nil, nil)
			}
		}
	}
}
