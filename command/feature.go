package command

import (
	"slices"
	"strings"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/plugin"
)

type featureListCommand struct {
	consoleOnly
	List cmd.SubCommand `cmd:"list"`
	r    *runner
}

type featureReloadCommand struct {
	consoleOnly
	Reload cmd.SubCommand `cmd:"reload"`
	Name   string         `cmd:"name"`
	r      *runner
}

type featureDisableCommand struct {
	consoleOnly
	Disable cmd.SubCommand `cmd:"disable"`
	Name    string         `cmd:"name"`
	r       *runner
}

func (c featureListCommand) Run(_ cmd.Source, o *cmd.Output, _ *world.Tx) {
	if c.r.l.Features == nil {
		o.Error("Features are not running.")
		return
	}
	infos := slices.Clone(c.r.l.Features.Infos())
	if len(infos) == 0 {
		o.Print("No features enabled.")
		return
	}
	slices.SortFunc(infos, func(a, b plugin.Info) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	for _, info := range infos {
		o.Printf("%s (%s)", info.Name, info.Data)
	}
}

func (c featureReloadCommand) Run(_ cmd.Source, o *cmd.Output, _ *world.Tx) {
	name := strings.TrimSpace(c.Name)
	if name == "" || c.r.l.Features == nil {
		o.Error("Feature name is required.")
		return
	}
	info, err := c.r.l.Features.Reload(name)
	if err != nil {
		o.Error(err)
		return
	}
	c.r.log.Info("Feature reloaded from console.", "name", info.Name)
	o.Printf("Reloaded %s.", info.Name)
}

func (c featureDisableCommand) Run(_ cmd.Source, o *cmd.Output, _ *world.Tx) {
	name := strings.TrimSpace(c.Name)
	if name == "" || c.r.l.Features == nil {
		o.Error("Feature name is required.")
		return
	}
	info, err := c.r.l.Features.Disable(name)
	if err != nil {
		o.Error(err)
		return
	}
	c.r.log.Info("Feature disabled from console.", "name", info.Name)
	o.Printf("Disabled %s.", info.Name)
}
