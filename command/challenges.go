package command

import (
	"errors"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

type challengesCommand struct {
	playerOnly
	Challenges cmd.SubCommand `cmd:"challenges"`
	r          *runner
}

func (c challengesCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	statuses, err := c.r.l.Challenges.Progress(p.UUID())
	if errors.Is(err, challenge.ErrNotLoaded) {
		o.Error("Your challenge progress is still loading.")
		return
	} else if err != nil {
		o.Error(err)
		return
	}
	o.Print(text.Colourf("<gold>Challenges</gold>"))
	for _, s := range statuses {
		o.Print(statusLine(s))
	}
}

func statusLine(s challenge.Status) string {
	d := s.Definition
	switch {
	case s.Done():
		return text.Colourf("<green>[done]</green> %s <gray>- %s</gray>", d.Name, d.Description)
	case d.Repeatable && s.Record.Completions > 0:
		return text.Colourf("<yellow>[%d/%d]</yellow> %s <gray>- %s (completed %dx)</gray>", s.Record.Count, d.Amount, d.Name, d.Description, s.Record.Completions)
	}
	return text.Colourf("<yellow>[%d/%d]</yellow> %s <gray>- %s</gray>", s.Record.Count, d.Amount, d.Name, d.Description)
}
