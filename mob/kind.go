// Package mob defines the nether mobs spawned on hellblock islands and keeps
// track of their health so that kills can be attributed to players.
package mob

import (
	"fmt"
	"strings"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// Kind is a kind of hellblock mob.
type Kind uint8

const (
	Piglin Kind = iota
	ZombifiedPiglin
	WitherSkeleton
	Blaze
	MagmaCube
	Ghast
	Hoglin
	Wither
	Wraith
)

// Kinds returns every kind.
func Kinds() []Kind {
	return []Kind{Piglin, ZombifiedPiglin, WitherSkeleton, Blaze, MagmaCube, Ghast, Hoglin, Wither, Wraith}
}

// Drop is an item dropped on death, resolved by its encoded name.
type Drop struct {
	Item     string
	Min, Max int
}

// Spec describes how a kind is represented in the world.
type Spec struct {
	Name string
	// Identifier is the vanilla entity the kind is sent to clients as.
	Identifier    string
	Width, Height float64
	MaxHealth     float64
	Drops         []Drop
	// Floats is true for mobs unaffected by gravity.
	Floats bool
	Boss   bool
}

var specs = [...]Spec{
	Piglin: {
		Name: "piglin", Identifier: "minecraft:piglin",
		Width: 0.6, Height: 1.95, MaxHealth: 16,
		Drops: []Drop{{Item: "minecraft:gold_nugget", Min: 0, Max: 2}},
	},
	ZombifiedPiglin: {
		Name: "zombified_piglin", Identifier: "minecraft:zombie_pigman",
		Width: 0.6, Height: 1.95, MaxHealth: 20,
		Drops: []Drop{{Item: "minecraft:rotten_flesh", Min: 0, Max: 1}, {Item: "minecraft:gold_nugget", Min: 0, Max: 1}},
	},
	WitherSkeleton: {
		Name: "wither_skeleton", Identifier: "minecraft:wither_skeleton",
		Width: 0.7, Height: 2.4, MaxHealth: 20,
		Drops: []Drop{{Item: "minecraft:coal", Min: 0, Max: 1}, {Item: "minecraft:bone", Min: 0, Max: 2}},
	},
	Blaze: {
		Name: "blaze", Identifier: "minecraft:blaze",
		Width: 0.6, Height: 1.8, MaxHealth: 20, Floats: true,
		Drops: []Drop{{Item: "minecraft:blaze_rod", Min: 0, Max: 1}},
	},
	MagmaCube: {
		Name: "magma_cube", Identifier: "minecraft:magma_cube",
		Width: 2.04, Height: 2.04, MaxHealth: 16,
		Drops: []Drop{{Item: "minecraft:magma_cream", Min: 0, Max: 1}},
	},
	Ghast: {
		Name: "ghast", Identifier: "minecraft:ghast",
		Width: 4, Height: 4, MaxHealth: 10, Floats: true,
		Drops: []Drop{{Item: "minecraft:ghast_tear", Min: 0, Max: 1}, {Item: "minecraft:gunpowder", Min: 0, Max: 2}},
	},
	Hoglin: {
		Name: "hoglin", Identifier: "minecraft:hoglin",
		Width: 1.4, Height: 1.4, MaxHealth: 40,
		Drops: []Drop{{Item: "minecraft:porkchop", Min: 2, Max: 4}, {Item: "minecraft:leather", Min: 0, Max: 1}},
	},
	Wither: {
		Name: "wither", Identifier: "minecraft:wither",
		Width: 0.9, Height: 3.5, MaxHealth: 300, Floats: true, Boss: true,
	},
	Wraith: {
		Name: "wraith", Identifier: "minecraft:stray",
		Width: 0.6, Height: 1.99, MaxHealth: 120, Boss: true,
	},
}

// Spec returns the spec of the kind.
func (k Kind) Spec() Spec {
	if int(k) >= len(specs) {
		panic("should never happen")
	}
	return specs[k]
}

func (k Kind) String() string { return k.Spec().Name }

// Boss reports whether the kind is a boss.
func (k Kind) Boss() bool { return k.Spec().Boss }

// BBox returns the bounding box of the kind centred on the origin.
func (k Kind) BBox() cube.BBox {
	s := k.Spec()
	w := s.Width / 2
	return cube.Box(-w, 0, -w, w, s.Height, w)
}

// ParseKind parses the name of a kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mob %q", s)
}
