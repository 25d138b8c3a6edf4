package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/island"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]*Store {
	t.Helper()
	ctx := context.Background()
	stores := make(map[string]*Store)

	s, err := OpenSQLite(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	stores["sqlite"] = s

	if dsn := os.Getenv("HELLBLOCK_TEST_POSTGRES_DSN"); dsn != "" {
		p, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = p.db.Exec(`DELETE FROM islands`)
			_, _ = p.db.Exec(`DELETE FROM challenge_progress`)
			_ = p.Close()
		})
		stores["postgres"] = p
	}
	return stores
}

func sampleIsland(slot int) *island.Island {
	return &island.Island{
		Owner:    uuid.New(),
		Members:  []uuid.UUID{uuid.New()},
		Slot:     slot,
		Theme:    island.ThemeCrimson,
		Home:     mgl64.Vec3{512.5, 65, -511.5},
		Upgrades: map[island.Upgrade]int{island.UpgradeGenerator: 3},
		Hoppers:  []cube.Pos{{510, 64, -510}},
		Portal:   &island.Portal{Corner: cube.Pos{515, 65, -508}, Axis: cube.X, Width: 3, Height: 4},
		Link:     uuid.New(),
		Locked:   true,
		Created:  time.UnixMilli(time.Now().UnixMilli()),
	}
}

func TestOpenSQLiteRequiresFolder(t *testing.T) {
	_, err := OpenSQLite(context.Background(), " ")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	require.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.dialect = SQLite
	require.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestIslandRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleIsland(3)
			require.NoError(t, s.SaveIsland(ctx, want))

			got, err := s.Island(ctx, want.Owner)
			require.NoError(t, err)
			require.Equal(t, want.Owner, got.Owner)
			require.Equal(t, want.Members, got.Members)
			require.Equal(t, want.Slot, got.Slot)
			require.Equal(t, want.Theme, got.Theme)
			require.Equal(t, want.Home, got.Home)
			require.Equal(t, want.Upgrades, got.Upgrades)
			require.Equal(t, want.Hoppers, got.Hoppers)
			require.Equal(t, want.Portal, got.Portal)
			require.Equal(t, want.Link, got.Link)
			require.True(t, got.Locked)
			require.True(t, want.Created.Equal(got.Created))

			want.Locked = false
			want.Portal = nil
			want.Hoppers = nil
			require.NoError(t, s.SaveIsland(ctx, want))
			got, err = s.Island(ctx, want.Owner)
			require.NoError(t, err)
			require.False(t, got.Locked)
			require.Nil(t, got.Portal)
			require.Empty(t, got.Hoppers)
		})
	}
}

func TestIslandsAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			a, b := sampleIsland(10), sampleIsland(11)
			require.NoError(t, s.SaveIsland(ctx, a))
			require.NoError(t, s.SaveIsland(ctx, b))

			all, err := s.Islands(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, 10, all[0].Slot)

			require.NoError(t, s.DeleteIsland(ctx, a.Owner))
			_, err = s.Island(ctx, a.Owner)
			require.ErrorIs(t, err, island.ErrNoIsland)
		})
	}
}

func TestSlotIsUnique(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveIsland(ctx, sampleIsland(20)))
			require.Error(t, s.SaveIsland(ctx, sampleIsland(20)))
		})
	}
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			p := uuid.New()
			require.NoError(t, s.SaveProgress(ctx, p, map[string]challenge.Record{
				"gen":  {Count: 5},
				"rack": {Count: 1, Completions: 3},
			}))
			require.NoError(t, s.SaveProgress(ctx, p, map[string]challenge.Record{
				"gen": {Count: 6},
			}))
			got, err := s.Progress(ctx, p)
			require.NoError(t, err)
			require.Equal(t, map[string]challenge.Record{"gen": {Count: 6}}, got)

			got, err = s.Progress(ctx, uuid.New())
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}
