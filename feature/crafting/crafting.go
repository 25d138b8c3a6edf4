// Package crafting adds the quartz and magma armour sets and the nether
// brews, and applies their effects.
package crafting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/entity/effect"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "crafting"

// bonusInterval is how often set bonuses are refreshed.
const bonusInterval = 2 * time.Second

// New enables the custom recipes and their effects.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{
		api:     api,
		l:       l,
		log:     api.Logger().With("component", Name),
		wearing: make(map[uuid.UUID]string),
		seen:    make(map[uuid.UUID]map[string]struct{}),
	}
	Register(f.log)
	f.unsub = append(f.unsub, api.Events().OnPlayer(playerHandler{f: f}))
	f.ticker = l.Scheduler.Every(bonusInterval, func() {
		l.Scheduler.Sync(l.Nether, func(tx *world.Tx) { api.Recover(func() { f.tick(tx) }) })
	})
	return f, nil
}

// Feature applies armour set bonuses and brew effects.
type Feature struct {
	api    *service.API
	l      *service.Locator
	log    *slog.Logger
	unsub  []func()
	ticker *scheduler.Task

	mu sync.Mutex
	// wearing holds the set each player wore on the last tick.
	wearing map[uuid.UUID]string
	// seen holds the sets activated this session.
	seen map[uuid.UUID]map[string]struct{}
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	f.ticker.Cancel()
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.log.Info("Shut down crafting.")
	return nil
}

func (f *Feature) tick(tx *world.Tx) {
	for e := range tx.Players() {
		p, ok := e.(*player.Player)
		if !ok {
			continue
		}
		a := p.Armour()
		s, ok := SetOf(a.Helmet(), a.Chestplate(), a.Leggings(), a.Boots())
		first, changed := f.wear(p.UUID(), s.ID, ok)
		if !ok {
			continue
		}
		p.AddEffect(effect.New(s.Bonus, 1, bonusInterval*2+time.Second))
		if changed {
			p.SendTip(text.Colourf("<gold>%s set bonus active.</gold>", s.Name))
		}
		if first {
			f.l.Advance(tx, p, challenge.TriggerArmourSet, s.ID, 1)
		}
	}
}

// wear records the set worn by a player. It reports whether the set is worn
// for the first time this session and whether it differs from the last tick.
func (f *Feature) wear(id uuid.UUID, set string, ok bool) (first, changed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ok {
		delete(f.wearing, id)
		return false, false
	}
	changed = f.wearing[id] != set
	f.wearing[id] = set
	seen, found := f.seen[id]
	if !found {
		seen = make(map[string]struct{})
		f.seen[id] = seen
	}
	if _, found := seen[set]; !found {
		seen[set] = struct{}{}
		first = true
	}
	return first, changed
}

func (f *Feature) forget(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wearing, id)
	delete(f.seen, id)
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleItemConsume(ctx *player.Context, it item.Stack) {
	brew, ok := PotionOf(it)
	if !ok {
		return
	}
	p := ctx.Val()
	for _, e := range brew.Effects {
		p.AddEffect(e)
	}
	h.f.l.Advance(p.Tx(), p, challenge.TriggerDrink, brew.ID, 1)
}

func (h playerHandler) HandleQuit(p *player.Player) {
	h.f.forget(p.UUID())
}
