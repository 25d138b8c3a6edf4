package mob

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

func newTestTracker() *Tracker {
	return NewTracker(map[Kind]float64{Wither: 50}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestKindTable(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range Kinds() {
		s := k.Spec()
		if s.Name == "" || s.Identifier == "" || s.MaxHealth <= 0 {
			t.Fatalf("kind %d has an incomplete spec: %+v", k, s)
		}
		if seen[s.Name] {
			t.Fatalf("duplicate kind name %s", s.Name)
		}
		seen[s.Name] = true
		parsed, err := ParseKind(s.Name)
		if err != nil || parsed != k {
			t.Fatalf("ParseKind(%q) = %v, %v", s.Name, parsed, err)
		}
		box := k.BBox()
		if box.Height() != s.Height || box.Width() != s.Width {
			t.Fatalf("%s bbox = %v", s.Name, box)
		}
	}
	if !Wither.Boss() || !Wraith.Boss() || Blaze.Boss() {
		t.Fatalf("boss flags wrong")
	}
	if Wraith.Spec().Identifier != "minecraft:stray" {
		t.Fatalf("wraith identifier = %s", Wraith.Spec().Identifier)
	}
	if _, err := ParseKind("ender_dragon"); err == nil {
		t.Fatalf("ParseKind accepted unknown mob")
	}
	if len(Types()) != len(Kinds()) {
		t.Fatalf("Types() has %d entries, want %d", len(Types()), len(Kinds()))
	}
}

func TestMaxHealthOverride(t *testing.T) {
	tr := newTestTracker()
	if got := tr.MaxHealth(Wither); got != 50 {
		t.Fatalf("MaxHealth(Wither) = %v, want 50", got)
	}
	if got := tr.MaxHealth(Blaze); got != 20 {
		t.Fatalf("MaxHealth(Blaze) = %v, want 20", got)
	}
}

func TestTrackerAttributesKiller(t *testing.T) {
	tr := newTestTracker()
	id, first, second := uuid.New(), uuid.New(), uuid.New()
	tr.track(id, Blaze)

	var deaths []Death
	tr.OnDeath(func(_ *world.Tx, d Death) { deaths = append(deaths, d) })
	var hurts []Hurt
	tr.OnHurt(func(h Hurt) { hurts = append(hurts, h) })

	pos := mgl64.Vec3{1, 2, 3}
	tr.hurt(id, nil, Blaze, pos, 20, 8, false, nil, first)
	if h, m, ok := tr.Health(id); !ok || h != 12 || m != 20 {
		t.Fatalf("Health() = %v, %v, %v", h, m, ok)
	}
	tr.hurt(id, nil, Blaze, pos, 12, 4, true, nil, second)
	if h, _, _ := tr.Health(id); h != 12 {
		t.Fatalf("immune hit changed health to %v", h)
	}
	tr.hurt(id, nil, Blaze, pos, 12, 20, false, nil, second)
	if len(hurts) != 2 || !hurts[1].Lethal {
		t.Fatalf("hurt events = %+v", hurts)
	}

	tr.despawned(nil, id, pos)
	if len(deaths) != 1 {
		t.Fatalf("got %d deaths, want 1", len(deaths))
	}
	if deaths[0].Killer != second || deaths[0].Kind != Blaze || deaths[0].Pos != pos {
		t.Fatalf("death = %+v", deaths[0])
	}
	if _, _, ok := tr.Health(id); ok {
		t.Fatalf("dead mob still tracked")
	}
}

func TestTrackerEnvironmentKeepsLastPlayerHit(t *testing.T) {
	tr := newTestTracker()
	id, p := uuid.New(), uuid.New()
	tr.track(id, Ghast)
	var killer uuid.UUID
	tr.OnDeath(func(_ *world.Tx, d Death) { killer = d.Killer })

	tr.hurt(id, nil, Ghast, mgl64.Vec3{}, 10, 3, false, nil, p)
	tr.hurt(id, nil, Ghast, mgl64.Vec3{}, 7, 10, false, nil, uuid.Nil)
	tr.despawned(nil, id, mgl64.Vec3{})
	if killer != p {
		t.Fatalf("killer = %v, want last player %v", killer, p)
	}
}

func TestTrackerDespawnWithoutLethalHit(t *testing.T) {
	tr := newTestTracker()
	id := uuid.New()
	tr.track(id, Hoglin)
	called := false
	tr.OnDeath(func(*world.Tx, Death) { called = true })
	tr.hurt(id, nil, Hoglin, mgl64.Vec3{}, 40, 5, false, nil, uuid.New())
	tr.despawned(nil, id, mgl64.Vec3{})
	if called {
		t.Fatalf("death reported for a mob that despawned alive")
	}
	if tr.Len(Hoglin) != 0 {
		t.Fatalf("despawned mob still tracked")
	}
}

func TestTrackerUntrackedMobIsAdopted(t *testing.T) {
	tr := newTestTracker()
	id := uuid.New()
	tr.hurt(id, nil, Wither, mgl64.Vec3{}, 50, 10, false, nil, uuid.Nil)
	if h, m, ok := tr.Health(id); !ok || h != 40 || m != 50 {
		t.Fatalf("Health() = %v, %v, %v", h, m, ok)
	}
	if tr.Len(Wither) != 1 {
		t.Fatalf("Len(Wither) = %d", tr.Len(Wither))
	}
}

func TestListenersUnregisterAndRecover(t *testing.T) {
	tr := newTestTracker()
	id := uuid.New()
	tr.track(id, Blaze)
	calls := 0
	stop := tr.OnDeath(func(*world.Tx, Death) { calls++ })
	tr.OnDeath(func(*world.Tx, Death) { panic("listener") })
	tr.OnDeath(func(*world.Tx, Death) { calls += 10 })
	stop()

	immunity := time.Duration(0)
	tr.OnHurt(func(h Hurt) { *h.Immunity = time.Second })
	tr.hurt(id, nil, Blaze, mgl64.Vec3{}, 20, 30, false, &immunity, uuid.Nil)
	if immunity != time.Second {
		t.Fatalf("hurt listener could not change immunity")
	}
	tr.despawned(nil, id, mgl64.Vec3{})
	if calls != 10 {
		t.Fatalf("calls = %d, want 10", calls)
	}
}

func TestListenersShrinkOnUnregister(t *testing.T) {
	tr := newTestTracker()
	for range 100 {
		stopDeath := tr.OnDeath(func(*world.Tx, Death) {})
		stopHurt := tr.OnHurt(func(Hurt) {})
		stopDeath()
		stopHurt()
	}
	keep := tr.OnDespawn(func(*world.Tx, uuid.UUID, Kind) {})
	if n := len(tr.onDeath.list) + len(tr.onHurt.list); n != 0 {
		t.Fatalf("%d listeners left after unregistering all", n)
	}
	stop := tr.OnDespawn(func(*world.Tx, uuid.UUID, Kind) {})
	stop()
	stop()
	if len(tr.onDespawn.list) != 1 {
		t.Fatalf("unregistering twice removed another listener")
	}
	keep()
	if len(tr.onDespawn.list) != 0 {
		t.Fatalf("despawn listener not removed")
	}
}

func TestTrackerReportsDespawnAlive(t *testing.T) {
	tr := newTestTracker()
	alive, dead := uuid.New(), uuid.New()
	tr.track(alive, Wither)
	tr.track(dead, Wither)
	var despawned []uuid.UUID
	tr.OnDespawn(func(_ *world.Tx, id uuid.UUID, k Kind) {
		if k != Wither {
			t.Errorf("despawn kind = %v", k)
		}
		despawned = append(despawned, id)
	})

	tr.hurt(dead, nil, Wither, mgl64.Vec3{}, 50, 60, false, nil, uuid.Nil)
	tr.despawned(nil, dead, mgl64.Vec3{})
	tr.despawned(nil, alive, mgl64.Vec3{})
	tr.despawned(nil, uuid.New(), mgl64.Vec3{})
	if len(despawned) != 1 || despawned[0] != alive {
		t.Fatalf("despawned = %v, want only %v", despawned, alive)
	}
}
