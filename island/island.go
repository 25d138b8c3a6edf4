// Package island models hellblock islands: their records, the grid they are
// laid out on in the nether and the registry that indexes them.
package island

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

var (
	// ErrNoIsland is returned when a player has no island.
	ErrNoIsland = errors.New("no island")
	// ErrHasIsland is returned when a player already owns or belongs to an
	// island.
	ErrHasIsland = errors.New("already on an island")
	// ErrMemberLimit is returned when an island cannot take more members.
	ErrMemberLimit = errors.New("member limit reached")
	// ErrNotMember is returned when removing a player that is not a member.
	ErrNotMember = errors.New("not a member")
	// ErrMaxTier is returned when upgrading past the highest tier.
	ErrMaxTier = errors.New("upgrade already at max tier")
	// ErrLocked is returned when linking to a locked island.
	ErrLocked = errors.New("island is locked")
)

// Theme controls the starter platform and the mobs spawned on an island.
type Theme string

const (
	ThemeWastes  Theme = "wastes"
	ThemeCrimson Theme = "crimson"
	ThemeSoul    Theme = "soul"
)

// Themes returns every theme.
func Themes() []Theme {
	return []Theme{ThemeWastes, ThemeCrimson, ThemeSoul}
}

// ParseTheme parses a theme name case-insensitively.
func ParseTheme(s string) (Theme, error) {
	t := Theme(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Themes(), t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

// Portal is the obsidian portal frame registered on an island.
type Portal struct {
	// Corner is the bottom-left interior block of the frame.
	Corner cube.Pos
	Axis   cube.Axis
	Width  int
	Height int
}

// Contains reports whether pos is inside the interior of the portal.
func (p Portal) Contains(pos cube.Pos) bool {
	local := pos.Sub(p.Corner)
	if local[1] < 0 || local[1] >= p.Height {
		return false
	}
	switch p.Axis {
	case cube.X:
		return local[2] == 0 && local[0] >= 0 && local[0] < p.Width
	default:
		return local[0] == 0 && local[2] >= 0 && local[2] < p.Width
	}
}

// Exit returns the position an entity arriving through the portal is placed
// at: the bottom centre of the interior.
func (p Portal) Exit() mgl64.Vec3 {
	off := float64(p.Width) / 2
	if p.Axis == cube.X {
		return mgl64.Vec3{float64(p.Corner[0]) + off, float64(p.Corner[1]), float64(p.Corner[2]) + 0.5}
	}
	return mgl64.Vec3{float64(p.Corner[0]) + 0.5, float64(p.Corner[1]), float64(p.Corner[2]) + off}
}

// Island is the persisted record of a hellblock island. Values handed out by
// the Registry are snapshots and must not be modified; use Registry.Update.
type Island struct {
	Owner   uuid.UUID
	Members []uuid.UUID
	Slot    int
	Theme   Theme
	Home    mgl64.Vec3
	// Upgrades holds the tier of every upgrade bought. Missing upgrades are
	// at tier 0.
	Upgrades map[Upgrade]int
	// Hoppers holds the positions of every hopper placed on the island.
	Hoppers []cube.Pos
	Portal  *Portal
	// Link is the owner of the island this island's portal leads to, or
	// uuid.Nil if the portal leads home.
	Link    uuid.UUID
	Locked  bool
	Created time.Time
}

// Clone returns a deep copy of i.
func (i *Island) Clone() *Island {
	c := *i
	c.Members = slices.Clone(i.Members)
	c.Hoppers = slices.Clone(i.Hoppers)
	c.Upgrades = make(map[Upgrade]int, len(i.Upgrades))
	for u, t := range i.Upgrades {
		c.Upgrades[u] = t
	}
	if i.Portal != nil {
		p := *i.Portal
		c.Portal = &p
	}
	return &c
}

// IsMember reports whether id is the owner or a member of the island.
func (i *Island) IsMember(id uuid.UUID) bool {
	return i.Owner == id || slices.Contains(i.Members, id)
}

// Tier returns the tier of the upgrade passed.
func (i *Island) Tier(u Upgrade) int {
	return i.Upgrades[u]
}

// HasHopper reports whether a hopper is registered at pos.
func (i *Island) HasHopper(pos cube.Pos) bool {
	return slices.Contains(i.Hoppers, pos)
}

// validate checks the invariants every stored island must satisfy.
func (i *Island) validate() error {
	if i.Owner == uuid.Nil {
		return fmt.Errorf("island in slot %d has no owner", i.Slot)
	}
	if i.Slot < 0 {
		return fmt.Errorf("island of %s has negative slot %d", i.Owner, i.Slot)
	}
	return nil
}
