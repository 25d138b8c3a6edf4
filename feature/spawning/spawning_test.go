package spawning

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/internal/hbtest"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/google/uuid"
)

func TestThemeTables(t *testing.T) {
	for _, theme := range island.Themes() {
		entries := Table(theme)
		if len(entries) == 0 {
			t.Fatalf("theme %s has no mobs", theme)
		}
		total := 0
		for _, e := range entries {
			if e.Kind.Boss() {
				t.Fatalf("theme %s spawns boss %s", theme, e.Kind)
			}
			total += e.Weight
		}
		seen := make(map[mob.Kind]bool)
		for n := range total {
			k, ok := PickKind(theme, func(int) int { return n })
			if !ok {
				t.Fatalf("PickKind(%s) found nothing for %d", theme, n)
			}
			seen[k] = true
		}
		if len(seen) != len(entries) {
			t.Fatalf("theme %s: picked %d kinds, want %d", theme, len(seen), len(entries))
		}
	}
	if _, ok := PickKind(island.Theme("basalt"), func(int) int { return 0 }); ok {
		t.Fatalf("unknown theme picked a mob")
	}
}

func TestBonusAt(t *testing.T) {
	cfg := config.Spawning{BaseChance: 0.5, ChancePerTier: 0.2, BaseCap: 4, CapPerTier: 2}
	if b := BonusAt(cfg, 0); b.Chance != 0.5 || b.Cap != 4 {
		t.Fatalf("BonusAt(0) = %+v", b)
	}
	if b := BonusAt(cfg, 5); b.Chance != 1 || b.Cap != 14 {
		t.Fatalf("BonusAt(5) = %+v", b)
	}
}

func TestBonusCacheFollowsUpgrades(t *testing.T) {
	ctx := context.Background()
	l := hbtest.Locator(t, hbtest.Config(t))
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	feat, _ := m.Feature(Name)
	f := feat.(*Feature)

	owner := uuid.New()
	isl, err := l.Islands.Create(ctx, owner, island.ThemeSoul)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := f.Bonus(isl)
	if f.bonus.Len() != 1 {
		t.Fatalf("bonus not cached")
	}
	isl, err = l.Islands.Upgrade(ctx, owner, island.UpgradeSpawning, 5)
	if err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}
	after := f.Bonus(isl)
	if after.Cap <= before.Cap || after.Chance <= before.Chance {
		t.Fatalf("bonus after upgrade = %+v, before = %+v", after, before)
	}
}

type column struct {
	blocks  map[cube.Pos]world.Block
	highest map[[2]int]int
}

func (c column) Block(pos cube.Pos) world.Block {
	if b, ok := c.blocks[pos]; ok {
		return b
	}
	return block.Air{}
}

func (c column) HighestBlock(x, z int) int {
	if y, ok := c.highest[[2]int{x, z}]; ok {
		return y
	}
	return 0
}

func TestFindSpawn(t *testing.T) {
	box := island.Box{Min: cube.Pos{0, 0, 0}, Max: cube.Pos{0, 127, 0}}
	r := rand.New(rand.NewPCG(1, 2))

	src := column{blocks: map[cube.Pos]world.Block{}, highest: map[[2]int]int{}}
	if _, ok := FindSpawn(src, box, r); ok {
		t.Fatalf("spawned on air")
	}

	src.blocks[cube.Pos{0, 64, 0}] = block.Lava{Still: true, Depth: 8}
	src.highest[[2]int{0, 0}] = 64
	if _, ok := FindSpawn(src, box, r); ok {
		t.Fatalf("spawned on lava")
	}

	src.blocks[cube.Pos{0, 64, 0}] = block.Netherrack{}
	src.blocks[cube.Pos{0, 66, 0}] = block.Netherrack{}
	if _, ok := FindSpawn(src, box, r); ok {
		t.Fatalf("spawned without head room")
	}

	delete(src.blocks, cube.Pos{0, 66, 0})
	pos, ok := FindSpawn(src, box, r)
	if !ok {
		t.Fatalf("no spawn found on netherrack")
	}
	if pos[0] != 0.5 || pos[1] != 65 || pos[2] != 0.5 {
		t.Fatalf("spawn position = %v", pos)
	}
}

func TestDisabledSpawning(t *testing.T) {
	cfg := hbtest.Config(t)
	cfg.Spawning.Enabled = false
	l := hbtest.Locator(t, cfg)
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if l.Scheduler.Pending() != 0 {
		t.Fatalf("spawn loop scheduled while disabled")
	}
}
