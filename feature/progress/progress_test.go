package progress

import (
	"context"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/internal/hbtest"
	"github.com/dm-vev/hellblock/mob"
	"github.com/google/uuid"
)

func TestDisableFlushesProgress(t *testing.T) {
	l, store := hbtest.Services(t, hbtest.Config(t))
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	id := uuid.New()
	if err := l.Challenges.Load(context.Background(), id); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	l.Challenges.Advance(id, challenge.TriggerMine, "minecraft:quartz_ore", 3)

	if _, err := m.Disable(Name); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	records, err := store.Progress(context.Background(), id)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if records["quartz_miner"].Count != 3 {
		t.Fatalf("saved quartz_miner count = %d, want 3", records["quartz_miner"].Count)
	}
}

func TestPlacedBlocksAreRemembered(t *testing.T) {
	l := hbtest.Locator(t, hbtest.Config(t))
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	feat, ok := m.Feature(Name)
	if !ok {
		t.Fatalf("feature not enabled")
	}
	f := feat.(*Feature)
	id, pos := uuid.New(), cube.Pos{1, 2, 3}
	f.placed.Add(placement{player: id, pos: pos})
	if !f.Placed(id, pos) {
		t.Fatalf("placed block forgotten")
	}
	if f.Placed(uuid.New(), pos) {
		t.Fatalf("block placed by someone else counted as own")
	}
}

func TestKillWithoutWorldIsIgnored(t *testing.T) {
	l := hbtest.Locator(t, hbtest.Config(t))
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	feat, _ := m.Feature(Name)
	// Must not panic without a transaction or killer.
	feat.(*Feature).kill(nil, mob.Death{Kind: mob.Blaze, Killer: uuid.New()})
	feat.(*Feature).kill(nil, mob.Death{Kind: mob.Blaze})
}
