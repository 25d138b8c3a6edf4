package hellblock

import (
	"log/slog"

	"github.com/df-mc/dragonfly/server"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/google/uuid"
)

// serverHost exposes a dragonfly server to the feature manager.
type serverHost struct {
	srv *server.Server
	log *slog.Logger
}

// NewHost returns a plugin.Host backed by srv.
func NewHost(srv *server.Server, log *slog.Logger) plugin.Host {
	return serverHost{srv: srv, log: log}
}

func (h serverHost) Logger() *slog.Logger {
	return h.log
}

func (h serverHost) Nether() *world.World {
	return h.srv.Nether()
}

func (h serverHost) Player(id uuid.UUID) (*world.EntityHandle, bool) {
	return h.srv.Player(id)
}
