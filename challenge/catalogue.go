// Package challenge tracks challenge progression: definitions loaded from a
// YAML catalogue and per-player progress advanced by gameplay triggers.
package challenge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trigger is the kind of gameplay action that advances a challenge.
type Trigger string

const (
	TriggerGenerate  Trigger = "generate"
	TriggerMine      Trigger = "mine"
	TriggerBarter    Trigger = "barter"
	TriggerKill      Trigger = "kill"
	TriggerBoss      Trigger = "boss"
	TriggerArmourSet Trigger = "armour_set"
	TriggerDrink     Trigger = "drink"
	TriggerHopper    Trigger = "hopper"
	TriggerPortal    Trigger = "portal"
)

var triggers = []Trigger{
	TriggerGenerate, TriggerMine, TriggerBarter, TriggerKill, TriggerBoss,
	TriggerArmourSet, TriggerDrink, TriggerHopper, TriggerPortal,
}

// Reward is an item stack handed out when a challenge is completed.
type Reward struct {
	Item  string `yaml:"item"`
	Meta  int16  `yaml:"meta"`
	Count int    `yaml:"count"`
}

// Definition describes a single challenge.
type Definition struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Trigger     Trigger `yaml:"trigger"`
	// Subject restricts the challenge to one subject of the trigger, such as
	// a block or mob name. An empty subject matches everything.
	Subject    string   `yaml:"subject"`
	Amount     int      `yaml:"amount"`
	Rewards    []Reward `yaml:"rewards"`
	Repeatable bool     `yaml:"repeatable"`
}

// Matches reports whether the definition counts the trigger and subject.
func (d Definition) Matches(t Trigger, subject string) bool {
	if d.Trigger != t {
		return false
	}
	return d.Subject == "" || strings.EqualFold(d.Subject, subject)
}

//go:embed default.yaml
var defaultCatalogue []byte

// Catalogue is an ordered, validated set of definitions.
type Catalogue struct {
	defs      []Definition
	byID      map[string]int
	byTrigger map[Trigger][]int
}

// DefaultCatalogue returns the built-in catalogue.
func DefaultCatalogue() *Catalogue {
	c, err := ParseCatalogue(defaultCatalogue)
	if err != nil {
		panic(fmt.Sprintf("built-in challenge catalogue: %v", err))
	}
	return c
}

// LoadCatalogue reads a catalogue from path. An empty path returns the
// built-in catalogue.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read challenges: %w", err)
	}
	c, err := ParseCatalogue(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalogue decodes and validates a YAML catalogue of the form
// {challenges: [...]}.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var doc struct {
		Challenges []Definition `yaml:"challenges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode challenges: %w", err)
	}
	c := &Catalogue{byID: make(map[string]int), byTrigger: make(map[Trigger][]int)}
	var errs []error
	for i, d := range doc.Challenges {
		d.ID = strings.TrimSpace(d.ID)
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("challenge %d has no id", i))
			continue
		case !slices.Contains(triggers, d.Trigger):
			errs = append(errs, fmt.Errorf("challenge %s: unknown trigger %q", d.ID, d.Trigger))
			continue
		case d.Amount <= 0:
			errs = append(errs, fmt.Errorf("challenge %s: amount must be positive", d.ID))
			continue
		}
		if _, ok := c.byID[d.ID]; ok {
			errs = append(errs, fmt.Errorf("duplicate challenge %s", d.ID))
			continue
		}
		for j := range d.Rewards {
			if d.Rewards[j].Count <= 0 {
				d.Rewards[j].Count = 1
			}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		c.byID[d.ID] = len(c.defs)
		c.byTrigger[d.Trigger] = append(c.byTrigger[d.Trigger], len(c.defs))
		c.defs = append(c.defs, d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid challenges: %w", err)
	}
	return c, nil
}

// Definitions returns every definition in catalogue order.
func (c *Catalogue) Definitions() []Definition {
	return slices.Clone(c.defs)
}

// Definition returns the definition with the id passed.
func (c *Catalogue) Definition(id string) (Definition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// matching returns the definitions counting the trigger and subject.
func (c *Catalogue) matching(t Trigger, subject string) []Definition {
	var out []Definition
	for _, i := range c.byTrigger[t] {
		if c.defs[i].Matches(t, subject) {
			out = append(out, c.defs[i])
		}
	}
	return out
}
