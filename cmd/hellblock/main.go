package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/df-mc/dragonfly/server"
	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/player/chat"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/df-mc/dragonfly/server/world/biome"
	"github.com/df-mc/dragonfly/server/world/generator"
	"github.com/dm-vev/hellblock"
	"github.com/dm-vev/hellblock/command"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/feature/crafting"
	"github.com/dm-vev/hellblock/mob"
)

func main() {
	path := flag.String("config", "hellblock.toml", "path to the hellblock configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	chat.Global.Subscribe(chat.StdoutSubscriber{})

	uc, err := config.Load(*path)
	if err != nil {
		log.Error("Failed to load config.", "path", *path, "err", err)
		os.Exit(1)
	}
	cfg, err := uc.Config()
	if err != nil {
		log.Error("Invalid config.", "path", *path, "err", err)
		os.Exit(1)
	}

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error("Failed to create server.", "err", err)
		os.Exit(1)
	}
	srv.CloseOnProgramEnd()

	crafting.Register(log)
	p, err := hellblock.New(hellblock.NewHost(srv, log), cfg)
	if err != nil {
		log.Error("Failed to start hellblock.", "err", err)
		os.Exit(1)
	}
	command.Register(p.Services(), log)
	p.Handle(srv.Nether())

	srv.Listen()
	for pl := range srv.Accept() {
		p.Accept(pl)
	}
	if err := p.Close(); err != nil {
		log.Error("Failed to shut down hellblock.", "err", err)
	}
}

// newServer builds a dragonfly server whose nether is empty and whose entity
// registry knows the hellblock mobs.
func newServer(cfg config.Config, log *slog.Logger) (*server.Server, error) {
	uc := server.DefaultConfig()
	uc.Network.Address = cfg.Server.Address
	uc.Server.Name = cfg.Server.Name
	uc.Server.AuthEnabled = cfg.Server.AuthEnabled
	uc.World.Folder = cfg.Server.WorldFolder
	conf, err := uc.Config(log)
	if err != nil {
		return nil, err
	}
	types := append(entity.DefaultRegistry.Types(), mob.Types()...)
	conf.Entities = entity.DefaultRegistry.Config().New(types)
	conf.Generator = func(dim world.Dimension) world.Generator {
		switch dim {
		case world.Nether:
			return world.NopGenerator{}
		case world.End:
			return generator.NewFlat(biome.End{}, []world.Block{block.EndStone{}, block.Bedrock{}})
		}
		return generator.NewFlat(biome.Plains{}, []world.Block{block.Grass{}, block.Dirt{}, block.Dirt{}, block.Bedrock{}})
	}
	return conf.New(), nil
}
