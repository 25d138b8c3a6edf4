package plugin

import (
	"log/slog"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/google/uuid"
)

// Host exposes the subset of server functionality required by the manager and
// the APIs it hands out to features.
type Host interface {
	// Logger returns the logger used for structured diagnostics.
	Logger() *slog.Logger
	// Nether returns the nether world in which islands are placed.
	Nether() *world.World
	// Player looks up an online player by their UUID.
	Player(id uuid.UUID) (*world.EntityHandle, bool)
}
