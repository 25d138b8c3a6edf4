package barter

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/world"
	"gopkg.in/yaml.v3"
)

// Loot is a weighted entry of a loot table.
type Loot struct {
	Item   string `yaml:"item"`
	Meta   int16  `yaml:"meta"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
	Weight int    `yaml:"weight"`
}

//go:embed loot.yaml
var defaultLoot []byte

// LootTable is a validated set of weighted loot.
type LootTable struct {
	entries []Loot
	total   int
}

// DefaultLootTable returns the built-in loot table.
func DefaultLootTable() *LootTable {
	t, err := ParseLootTable(defaultLoot)
	if err != nil {
		panic(fmt.Sprintf("built-in loot table: %v", err))
	}
	return t
}

// LoadLootTable reads the loot table at path, or returns the built-in one if
// path is empty.
func LoadLootTable(path string) (*LootTable, error) {
	if path == "" {
		return DefaultLootTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read loot table: %w", err)
	}
	return ParseLootTable(data)
}

// ParseLootTable parses a YAML loot table of the form {loot: [...]}. Counts
// default to exactly one item.
func ParseLootTable(data []byte) (*LootTable, error) {
	var doc struct {
		Loot []Loot `yaml:"loot"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode loot table: %w", err)
	}
	t := &LootTable{}
	var errs []error
	for i, l := range doc.Loot {
		if l.Item == "" {
			errs = append(errs, fmt.Errorf("entry %d: item is required", i))
			continue
		}
		if l.Weight <= 0 {
			errs = append(errs, fmt.Errorf("entry %d (%s): weight must be positive", i, l.Item))
			continue
		}
		l.Min = max(l.Min, 1)
		l.Max = max(l.Max, l.Min)
		t.entries = append(t.entries, l)
		t.total += l.Weight
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid loot table: %w", errors.Join(errs...))
	}
	if len(t.entries) == 0 {
		return nil, errors.New("loot table is empty")
	}
	return t, nil
}

// Len returns the number of entries.
func (t *LootTable) Len() int { return len(t.entries) }

// Roll picks one entry and a count within its range. intn returns a random
// number in [0, n).
func (t *LootTable) Roll(intn func(n int) int) (Loot, int) {
	n := intn(t.total)
	for _, l := range t.entries {
		if n < l.Weight {
			return l, l.Min + intn(l.Max-l.Min+1)
		}
		n -= l.Weight
	}
	l := t.entries[len(t.entries)-1]
	return l, l.Min
}

// Stack resolves a rolled entry into an item stack.
func Stack(l Loot, count int) (item.Stack, bool) {
	it, ok := world.ItemByName(l.Item, l.Meta)
	if !ok {
		return item.Stack{}, false
	}
	return item.NewStack(it, count), true
}

// Rolls returns the number of loot rolls of a barter at a barter tier: one,
// plus one with a chance of tier*perTier.
func Rolls(tier int, perTier float64, float func() float64) int {
	if float() < min(float64(tier)*perTier, 1) {
		return 2
	}
	return 1
}
