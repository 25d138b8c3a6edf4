package portal

import (
	"context"
	"errors"
	"testing"

	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/internal/hbtest"
	"github.com/dm-vev/hellblock/island"
	"github.com/google/uuid"
)

// blocks is a block source holding air everywhere except where set.
type blocks map[cube.Pos]world.Block

func (b blocks) Block(pos cube.Pos) world.Block {
	if bl, ok := b[pos]; ok {
		return bl
	}
	return block.Air{}
}

var testRange = cube.Range{0, 255}

// frame builds an obsidian frame with an interior of w x h blocks whose
// bottom-left interior block is corner.
func frame(b blocks, corner cube.Pos, axis cube.Axis, w, h int) {
	for x := -1; x <= w; x++ {
		b[corner.Add(axisOffset(axis, x)).Add(cube.Pos{0, -1, 0})] = block.Obsidian{}
		b[corner.Add(axisOffset(axis, x)).Add(cube.Pos{0, h, 0})] = block.Obsidian{}
	}
	for y := range h {
		b[corner.Add(axisOffset(axis, -1)).Add(cube.Pos{0, y, 0})] = block.Obsidian{}
		b[corner.Add(axisOffset(axis, w)).Add(cube.Pos{0, y, 0})] = block.Obsidian{}
	}
}

func TestDetectFrame(t *testing.T) {
	for _, axis := range []cube.Axis{cube.X, cube.Z} {
		b := blocks{}
		corner := cube.Pos{10, 64, 10}
		frame(b, corner, axis, 2, 3)

		origin := corner.Add(axisOffset(axis, 1)).Add(cube.Pos{0, 2, 0})
		p, ok := Detect(b, testRange, origin)
		if !ok {
			t.Fatalf("axis %v: frame not detected", axis)
		}
		want := island.Portal{Corner: corner, Axis: axis, Width: 2, Height: 3}
		if p != want {
			t.Fatalf("axis %v: Detect() = %+v, want %+v", axis, p, want)
		}
		if !p.Contains(origin) || p.Contains(corner.Add(axisOffset(axis, 2))) {
			t.Fatalf("axis %v: Contains() wrong", axis)
		}
	}
}

func TestDetectLargeFrame(t *testing.T) {
	b := blocks{}
	corner := cube.Pos{0, 10, 0}
	frame(b, corner, cube.Z, 21, 21)
	p, ok := Detect(b, testRange, corner.Add(cube.Pos{0, 5, 7}))
	if !ok || p.Width != 21 || p.Height != 21 {
		t.Fatalf("Detect() = %+v, %v", p, ok)
	}

	b = blocks{}
	frame(b, corner, cube.Z, 22, 3)
	if _, ok := Detect(b, testRange, corner); ok {
		t.Fatalf("frame wider than 21 detected")
	}
}

func TestDetectRejects(t *testing.T) {
	corner := cube.Pos{0, 64, 0}

	b := blocks{}
	frame(b, corner, cube.X, 2, 3)
	delete(b, corner.Add(cube.Pos{2, 3, 0}))
	if _, ok := Detect(b, testRange, corner); ok {
		t.Fatalf("frame missing a corner block of the cap detected")
	}

	b = blocks{}
	frame(b, corner, cube.X, 1, 3)
	if _, ok := Detect(b, testRange, corner); ok {
		t.Fatalf("frame one block wide detected")
	}

	b = blocks{}
	frame(b, corner, cube.X, 2, 2)
	if _, ok := Detect(b, testRange, corner); ok {
		t.Fatalf("frame two blocks high detected")
	}

	b = blocks{}
	frame(b, corner, cube.X, 2, 3)
	b[corner.Add(cube.Pos{1, 1, 0})] = block.Netherrack{}
	if _, ok := Detect(b, testRange, corner); ok {
		t.Fatalf("obstructed frame detected")
	}

	if _, ok := Detect(blocks{}, testRange, corner); ok {
		t.Fatalf("portal detected in open air")
	}
}

func TestOnFrame(t *testing.T) {
	p := island.Portal{Corner: cube.Pos{0, 64, 0}, Axis: cube.X, Width: 2, Height: 3}
	tests := map[cube.Pos]bool{
		{-1, 64, 0}: true,
		{2, 66, 0}:  true,
		{0, 63, 0}:  true,
		{2, 67, 0}:  true,
		{0, 64, 0}:  false,
		{1, 66, 0}:  false,
		{-1, 64, 1}: false,
		{3, 64, 0}:  false,
	}
	for pos, want := range tests {
		if got := OnFrame(p, pos); got != want {
			t.Fatalf("OnFrame(%v) = %v, want %v", pos, got, want)
		}
	}
}

func TestLinkRules(t *testing.T) {
	ctx := context.Background()
	l := hbtest.Locator(t, hbtest.Config(t))
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, owner := range []uuid.UUID{a, b, c} {
		if _, err := l.Islands.Create(ctx, owner, island.ThemeWastes); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if _, err := Link(ctx, l.Islands, a, a); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("self link error = %v", err)
	}
	if _, err := Link(ctx, l.Islands, a, uuid.New()); !errors.Is(err, island.ErrNoIsland) {
		t.Fatalf("link to missing island error = %v", err)
	}
	if _, err := l.Islands.Update(ctx, b, func(isl *island.Island) error {
		isl.Locked = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := Link(ctx, l.Islands, a, b); !errors.Is(err, island.ErrLocked) {
		t.Fatalf("link to locked island error = %v", err)
	}
	isl, err := Link(ctx, l.Islands, a, c)
	if err != nil || isl.Link != c {
		t.Fatalf("Link() = %v, %v", isl, err)
	}
	if isl, err = Unlink(ctx, l.Islands, a); err != nil || isl.Link != uuid.Nil {
		t.Fatalf("Unlink() = %v, %v", isl, err)
	}
}

func TestDestination(t *testing.T) {
	ctx := context.Background()
	l := hbtest.Locator(t, hbtest.Config(t))
	a, b := uuid.New(), uuid.New()
	own, err := l.Islands.Create(ctx, a, island.ThemeWastes)
	if err != nil {
		t.Fatal(err)
	}
	other, err := l.Islands.Create(ctx, b, island.ThemeSoul)
	if err != nil {
		t.Fatal(err)
	}

	if pos, to, ok := Destination(l.Islands, own, a); !ok || pos != own.Home || to != a {
		t.Fatalf("unlinked portal leads to %v (%v, %v)", pos, to, ok)
	}
	if pos, _, ok := Destination(l.Islands, own, uuid.New()); ok {
		t.Fatalf("visitor without island sent to %v", pos)
	}

	linked, err := Link(ctx, l.Islands, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if pos, to, ok := Destination(l.Islands, linked, a); !ok || pos != other.Home || to != b {
		t.Fatalf("linked portal without exit leads to %v (%v, %v)", pos, to, ok)
	}

	exit := island.Portal{Corner: cube.PosFromVec3(other.Home).Add(cube.Pos{3, 0, 0}), Axis: cube.Z, Width: 2, Height: 3}
	if _, err := l.Islands.Update(ctx, b, func(isl *island.Island) error {
		isl.Portal = &exit
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if pos, _, _ := Destination(l.Islands, linked, a); pos != exit.Exit() {
		t.Fatalf("linked portal leads to %v, want portal exit %v", pos, exit.Exit())
	}

	if _, err := l.Islands.Update(ctx, b, func(isl *island.Island) error {
		isl.Locked = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if pos, to, _ := Destination(l.Islands, linked, a); pos != own.Home || to != a {
		t.Fatalf("locked destination not skipped: %v", pos)
	}
}

func TestCooldown(t *testing.T) {
	cfg := hbtest.Config(t)
	l := hbtest.Locator(t, cfg)
	m := hbtest.Manager(t, l)
	if _, err := m.Enable(Name, New); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	feat, _ := m.Feature(Name)
	f := feat.(*Feature)
	id := uuid.New()
	if !f.allow(id) || f.allow(id) {
		t.Fatalf("cooldown not enforced")
	}
	f.forget(id)
	if !f.allow(id) {
		t.Fatalf("cooldown kept after quitting")
	}

	if !f.enter(id) || f.enter(id) {
		t.Fatalf("warm-up started twice")
	}
	if l.Scheduler.Pending() != 1 {
		t.Fatalf("warm-up not scheduled")
	}
	f.leave(id)
	if l.Scheduler.Pending() != 0 {
		t.Fatalf("warm-up not cancelled on leaving")
	}
}
