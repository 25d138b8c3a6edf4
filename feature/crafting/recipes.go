package crafting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/entity/effect"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/item/potion"
	"github.com/df-mc/dragonfly/server/item/recipe"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

const (
	armourKey = "hellblock:armour"
	potionKey = "hellblock:potion"
)

// Set is a custom armour set.
type Set struct {
	// ID is stored on every piece of the set.
	ID   string
	Name string
	// Material is the crafting ingredient of the pieces.
	Material world.Item
	Tier     item.ArmourTier
	// Bonus is applied while all four pieces are worn.
	Bonus effect.LastingType
}

// Sets returns the armour sets.
func Sets() []Set {
	return []Set{
		{ID: "quartz", Name: "Quartz", Material: item.NetherQuartz{}, Tier: item.ArmourTierIron{}, Bonus: effect.Haste},
		{ID: "magma", Name: "Magma", Material: item.MagmaCream{}, Tier: item.ArmourTierGold{}, Bonus: effect.FireResistance},
	}
}

// SetByID returns the set with the ID passed.
func SetByID(id string) (Set, bool) {
	for _, s := range Sets() {
		if s.ID == id {
			return s, true
		}
	}
	return Set{}, false
}

// piece is an armour slot together with its crafting pattern. Rows are read
// top to bottom, 'x' marks the material.
type piece struct {
	name    string
	item    func(item.ArmourTier) world.Item
	pattern []string
}

var pieces = []piece{
	{"Helmet", func(t item.ArmourTier) world.Item { return item.Helmet{Tier: t} }, []string{"xxx", "x x"}},
	{"Chestplate", func(t item.ArmourTier) world.Item { return item.Chestplate{Tier: t} }, []string{"x x", "xxx", "xxx"}},
	{"Leggings", func(t item.ArmourTier) world.Item { return item.Leggings{Tier: t} }, []string{"xxx", "x x", "x x"}},
	{"Boots", func(t item.ArmourTier) world.Item { return item.Boots{Tier: t} }, []string{"x x", "x x"}},
}

// Pieces returns the four crafted pieces of the set.
func (s Set) Pieces() []item.Stack {
	out := make([]item.Stack, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, s.piece(p))
	}
	return out
}

func (s Set) piece(p piece) item.Stack {
	return item.NewStack(p.item(s.Tier), 1).
		WithCustomName(text.Colourf("<gold>%s %s</gold>", s.Name, p.name)).
		WithValue(armourKey, s.ID)
}

// shapedInput converts a pattern into the row-major input of a shaped recipe.
func shapedInput(pattern []string, material world.Item) ([]recipe.Item, recipe.Shape) {
	input := make([]recipe.Item, 0, len(pattern)*len(pattern[0]))
	for _, row := range pattern {
		for _, c := range row {
			if c == 'x' {
				input = append(input, item.NewStack(material, 1))
				continue
			}
			input = append(input, item.Stack{})
		}
	}
	return input, recipe.NewShape(len(pattern[0]), len(pattern))
}

// SetOf returns the set of which all four pieces are worn, if any.
func SetOf(helmet, chestplate, leggings, boots item.Stack) (Set, bool) {
	id, ok := armourID(helmet)
	if !ok {
		return Set{}, false
	}
	for _, s := range []item.Stack{chestplate, leggings, boots} {
		if other, ok := armourID(s); !ok || other != id {
			return Set{}, false
		}
	}
	return SetByID(id)
}

func armourID(s item.Stack) (string, bool) {
	if s.Empty() {
		return "", false
	}
	v, ok := s.Value(armourKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Potion is a custom brew.
type Potion struct {
	ID      string
	Name    string
	Reagent string
	Effects []effect.Effect
}

// Potions returns the custom brews.
func Potions() []Potion {
	return []Potion{
		{
			ID: "infernal_strength", Name: "Infernal Strength", Reagent: "minecraft:crimson_fungus",
			Effects: []effect.Effect{
				effect.New(effect.Strength, 2, 3*time.Minute),
				effect.New(effect.FireResistance, 1, 3*time.Minute),
			},
		},
		{
			ID: "soul_sight", Name: "Soul Sight", Reagent: "minecraft:warped_fungus",
			Effects: []effect.Effect{
				effect.New(effect.NightVision, 1, 3*time.Minute),
				effect.New(effect.Speed, 1, 3*time.Minute),
			},
		},
	}
}

// PotionByID returns the brew with the ID passed.
func PotionByID(id string) (Potion, bool) {
	for _, p := range Potions() {
		if p.ID == id {
			return p, true
		}
	}
	return Potion{}, false
}

// Stack returns the brewed potion.
func (p Potion) Stack() item.Stack {
	return item.NewStack(item.Potion{Type: potion.Awkward()}, 1).
		WithCustomName(text.Colourf("<dark-purple>%s</dark-purple>", p.Name)).
		WithValue(potionKey, p.ID)
}

// PotionOf returns the brew the stack holds, if any.
func PotionOf(s item.Stack) (Potion, bool) {
	if s.Empty() {
		return Potion{}, false
	}
	v, ok := s.Value(potionKey)
	if !ok {
		return Potion{}, false
	}
	id, _ := v.(string)
	return PotionByID(id)
}

var registerOnce sync.Once

// Register adds the armour and brewing recipes to the recipe registry. It
// must be called before players join; later calls do nothing. Brews whose
// reagent is unknown to the server are skipped.
func Register(log *slog.Logger) {
	registerOnce.Do(func() {
		n := 0
		for _, s := range Sets() {
			for _, p := range pieces {
				input, shape := shapedInput(p.pattern, s.Material)
				recipe.Register(recipe.NewShaped(input, s.piece(p), shape, "crafting_table"))
				n++
			}
		}
		awkward := item.NewStack(item.Potion{Type: potion.Awkward()}, 1)
		for _, p := range Potions() {
			reagent, ok := world.ItemByName(p.Reagent, 0)
			if !ok {
				log.Warn("Brewing reagent unknown to the server.", "potion", p.ID, "reagent", p.Reagent)
				continue
			}
			recipe.Register(recipe.NewPotion(awkward, item.NewStack(reagent, 1), p.Stack()))
			n++
		}
		log.Debug("Registered recipes.", "count", n)
	})
}
