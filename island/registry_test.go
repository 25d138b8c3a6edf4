package island

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"
)

func newTestRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	return NewRegistry(store, testGrid(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryCreateAllocatesLowestFreeSlot(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryStore())

	owners := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, owner := range owners {
		isl, err := r.Create(ctx, owner, ThemeWastes)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if isl.Slot != i {
			t.Fatalf("island %d got slot %d", i, isl.Slot)
		}
	}
	if err := r.Delete(ctx, owners[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	isl, err := r.Create(ctx, uuid.New(), ThemeSoul)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if isl.Slot != 1 {
		t.Fatalf("freed slot not reused: got %d", isl.Slot)
	}
	if _, err := r.Create(ctx, owners[0], ThemeWastes); !errors.Is(err, ErrHasIsland) {
		t.Fatalf("second Create() error = %v, want ErrHasIsland", err)
	}
}

func TestRegistryLookups(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryStore())
	owner, member := uuid.New(), uuid.New()

	isl, err := r.Create(ctx, owner, ThemeCrimson)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.AddMember(ctx, owner, member); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	got, ok := r.IslandOf(member)
	if !ok || got.Owner != owner {
		t.Fatalf("IslandOf(member) = %v, %v", got, ok)
	}
	if _, ok := r.Island(member); ok {
		t.Fatalf("Island(member) found an island the member does not own")
	}
	at, ok := r.IslandAt(r.Grid().Centre(isl.Slot))
	if !ok || at.Owner != owner {
		t.Fatalf("IslandAt(centre) = %v, %v", at, ok)
	}
	if _, ok := r.IslandAt(cube.Pos{256, 64, 256}); ok {
		t.Fatalf("IslandAt between islands found an island")
	}
	if _, err := r.Create(ctx, member, ThemeWastes); !errors.Is(err, ErrHasIsland) {
		t.Fatalf("member Create() error = %v, want ErrHasIsland", err)
	}

	if err := r.Delete(ctx, owner); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := r.IslandOf(member); ok {
		t.Fatalf("member still indexed after Delete")
	}
}

func TestRegistryMembers(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryStore())
	owner := uuid.New()
	if _, err := r.Create(ctx, owner, ThemeWastes); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, m := range []uuid.UUID{a, b} {
		if _, err := r.AddMember(ctx, owner, m); err != nil {
			t.Fatalf("AddMember() error = %v", err)
		}
	}
	if _, err := r.AddMember(ctx, owner, c); !errors.Is(err, ErrMemberLimit) {
		t.Fatalf("AddMember over limit error = %v, want ErrMemberLimit", err)
	}
	if _, err := r.AddMember(ctx, owner, a); !errors.Is(err, ErrHasIsland) {
		t.Fatalf("AddMember twice error = %v, want ErrHasIsland", err)
	}
	isl, err := r.RemoveMember(ctx, owner, a)
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if isl.IsMember(a) || !isl.IsMember(b) || !isl.IsMember(owner) {
		t.Fatalf("members after removal = %v", isl.Members)
	}
	if _, ok := r.IslandOf(a); ok {
		t.Fatalf("removed member still indexed")
	}
	if _, err := r.RemoveMember(ctx, owner, a); !errors.Is(err, ErrNotMember) {
		t.Fatalf("RemoveMember twice error = %v, want ErrNotMember", err)
	}
}

func TestRegistryUpdateIsCopyOnWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	owner := uuid.New()
	before, err := r.Create(ctx, owner, ThemeWastes)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	after, err := r.Upgrade(ctx, owner, UpgradeHopper, 1)
	if err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}
	if before.Tier(UpgradeHopper) != 0 || after.Tier(UpgradeHopper) != 1 {
		t.Fatalf("tiers before/after = %d/%d", before.Tier(UpgradeHopper), after.Tier(UpgradeHopper))
	}
	if _, err := r.Upgrade(ctx, owner, UpgradeHopper, 1); !errors.Is(err, ErrMaxTier) {
		t.Fatalf("Upgrade past max error = %v, want ErrMaxTier", err)
	}

	store.SetErr(errors.New("disk full"))
	if _, err := r.Update(ctx, owner, func(isl *Island) error {
		isl.Locked = true
		return nil
	}); err == nil {
		t.Fatalf("Update() with failing store succeeded")
	}
	cur, _ := r.Island(owner)
	if cur.Locked {
		t.Fatalf("failed update was applied")
	}
}

func TestRegistryUpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryStore())
	owner := uuid.New()
	if _, err := r.Create(ctx, owner, ThemeWastes); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	isl, err := r.Update(ctx, owner, func(isl *Island) error {
		isl.Owner = uuid.New()
		isl.Slot = 40
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if isl.Owner != owner || isl.Slot != 0 {
		t.Fatalf("Update changed identity to %s/%d", isl.Owner, isl.Slot)
	}
}

func TestRegistryLoadAllSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	good := &Island{Owner: uuid.New(), Slot: 0}
	clash := &Island{Owner: uuid.New(), Slot: 0}
	_ = store.SaveIsland(ctx, good)
	_ = store.SaveIsland(ctx, clash)
	_ = store.SaveIsland(ctx, &Island{Owner: uuid.New(), Slot: 5})

	r := newTestRegistry(t, store)
	if err := r.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	all := r.Islands()
	if all[0].Slot != 0 || all[1].Slot != 5 {
		t.Fatalf("Islands() not ordered by slot: %d, %d", all[0].Slot, all[1].Slot)
	}
}

func TestRegistryRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	owner := uuid.New()

	_ = store.SaveIsland(ctx, &Island{Owner: owner, Slot: 2, Locked: true})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Refresh(ctx, owner); err != nil {
				t.Errorf("Refresh() error = %v", err)
			}
		}()
	}
	wg.Wait()
	isl, ok := r.Island(owner)
	if !ok || !isl.Locked || isl.Slot != 2 {
		t.Fatalf("refreshed island = %+v, %v", isl, ok)
	}

	_ = store.DeleteIsland(ctx, owner)
	if _, err := r.Refresh(ctx, owner); !errors.Is(err, ErrNoIsland) {
		t.Fatalf("Refresh of deleted island error = %v, want ErrNoIsland", err)
	}
	if _, ok := r.Island(owner); ok {
		t.Fatalf("deleted island still indexed after Refresh")
	}
}

func TestConcurrentCreatesGetDistinctSlots(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryStore())
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Create(ctx, uuid.New(), ThemeWastes); err != nil {
				t.Errorf("Create() error = %v", err)
			}
		}()
	}
	wg.Wait()
	slots := make(map[int]bool)
	for _, isl := range r.Islands() {
		if slots[isl.Slot] {
			t.Fatalf("slot %d allocated twice", isl.Slot)
		}
		slots[isl.Slot] = true
	}
	if len(slots) != 20 {
		t.Fatalf("got %d islands, want 20", len(slots))
	}
}

func TestFormulas(t *testing.T) {
	if got := HopperLimit(8, 4, 2); got != 16 {
		t.Fatalf("HopperLimit = %d", got)
	}
	if got := SpawnChance(0.2, 0.1, 3); got < 0.499 || got > 0.501 {
		t.Fatalf("SpawnChance = %v", got)
	}
	if got := SpawnChance(0.5, 0.3, 5); got != 1 {
		t.Fatalf("SpawnChance not clamped: %v", got)
	}
	if got := MobCap(6, 2, 3); got != 12 {
		t.Fatalf("MobCap = %d", got)
	}
	if got := UpgradeCost(16, 0); got != 16 {
		t.Fatalf("UpgradeCost(16, 0) = %d", got)
	}
	if got := UpgradeCost(16, 2); got != 48 {
		t.Fatalf("UpgradeCost(16, 2) = %d", got)
	}
	for _, u := range Upgrades() {
		parsed, err := ParseUpgrade(u.String())
		if err != nil || parsed != u {
			t.Fatalf("ParseUpgrade(%q) = %v, %v", u, parsed, err)
		}
	}
	if _, err := ParseTheme("Crimson "); err != nil {
		t.Fatalf("ParseTheme error = %v", err)
	}
	if _, err := ParseTheme("end"); err == nil {
		t.Fatalf("ParseTheme accepted unknown theme")
	}
	if Seed(uuid.Nil) == Seed(uuid.New()) {
		t.Fatalf("Seed collides")
	}
}
