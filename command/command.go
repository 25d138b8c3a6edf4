// Package command implements /hellblock, the island management command, and
// the console command managing hellblock features.
package command

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/service"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// storeTimeout bounds the storage calls made while running a command.
const storeTimeout = 5 * time.Second

// Register registers the hellblock commands.
func Register(l *service.Locator, log *slog.Logger) {
	r := newRunner(l, log)
	cmd.Register(r.hellblock())
	cmd.Register(r.feature())
}

// runner holds the state shared by every subcommand.
type runner struct {
	l        *service.Locator
	log      *slog.Logger
	throttle *throttle
}

func newRunner(l *service.Locator, log *slog.Logger) *runner {
	return &runner{
		l:        l,
		log:      log.With("component", "command"),
		throttle: newThrottle(l.Config.Island.ResetCooldown),
	}
}

func (r *runner) hellblock() cmd.Command {
	return cmd.New("hellblock", "Manages your hellblock island.", []string{"hb", "is"},
		createCommand{r: r},
		homeCommand{r: r},
		infoCommand{r: r},
		upgradeCommand{r: r},
		inviteCommand{r: r},
		kickCommand{r: r},
		leaveCommand{r: r},
		linkCommand{r: r},
		unlinkCommand{r: r},
		lockCommand{r: r},
		unlockCommand{r: r},
		resetCommand{r: r},
		challengesCommand{r: r},
	)
}

func (r *runner) feature() cmd.Command {
	return cmd.New("feature", "Manages hellblock features.", nil,
		featureListCommand{r: r},
		featureReloadCommand{r: r},
		featureDisableCommand{r: r},
	)
}

func (r *runner) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// throttle limits how often each player may run an expensive command.
type throttle struct {
	every time.Duration

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func newThrottle(every time.Duration) *throttle {
	return &throttle{every: every, limiters: make(map[uuid.UUID]*rate.Limiter)}
}

// Allow reports whether id may act now, consuming its allowance if so.
func (t *throttle) Allow(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[id] = lim
	}
	return lim.Allow()
}

// Wait returns how long id has to wait before Allow succeeds.
func (t *throttle) Wait(id uuid.UUID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[id]
	if !ok {
		return 0
	}
	res := lim.Reserve()
	defer res.Cancel()
	return res.Delay()
}

// playerOnly is embedded by subcommands that need a player source.
type playerOnly struct{}

func (playerOnly) Allow(src cmd.Source) bool {
	_, ok := src.(*player.Player)
	return ok
}

// consoleOnly is embedded by subcommands that must not be run by players.
type consoleOnly struct{}

func (consoleOnly) Allow(src cmd.Source) bool {
	_, ok := src.(*player.Player)
	return !ok
}

type themeName string

func (themeName) Type() string { return "theme" }

func (themeName) Options(cmd.Source) []string {
	themes := island.Themes()
	out := make([]string, len(themes))
	for i, t := range themes {
		out[i] = string(t)
	}
	return out
}

type upgradeName string

func (upgradeName) Type() string { return "upgrade" }

func (upgradeName) Options(cmd.Source) []string {
	upgrades := island.Upgrades()
	out := make([]string, len(upgrades))
	for i, u := range upgrades {
		out[i] = u.String()
	}
	return out
}

// displayName turns identifiers such as "minecraft:nether_gold_ore" into
// "Nether Gold Ore".
func displayName(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}
