package generator

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/config"
)

type result struct {
	block   world.Block
	name    string
	weight  int
	minTier int
}

// Table picks the block a generator produces, weighted by the configured
// results available at the generator tier of an island.
type Table struct {
	results []result
}

// NewTable resolves the configured results with resolve. Results naming
// blocks unknown to resolve are skipped and returned as an error alongside
// the table.
func NewTable(results []config.GeneratorResult, resolve func(name string) (world.Block, bool)) (*Table, error) {
	t := &Table{}
	var missing []string
	for _, r := range results {
		b, ok := resolve(r.Block)
		if !ok {
			missing = append(missing, r.Block)
			continue
		}
		t.results = append(t.results, result{block: b, name: r.Block, weight: r.Weight, minTier: r.MinTier})
	}
	if len(missing) > 0 {
		return t, fmt.Errorf("unknown generator blocks %v", missing)
	}
	return t, nil
}

// Pick returns a block available at tier. intn returns a random number in
// [0, n). Pick returns false if no result is available at tier.
func (t *Table) Pick(tier int, intn func(n int) int) (world.Block, string, bool) {
	total := 0
	for _, r := range t.results {
		if r.minTier <= tier {
			total += r.weight
		}
	}
	if total <= 0 {
		return nil, "", false
	}
	n := intn(total)
	for _, r := range t.results {
		if r.minTier > tier {
			continue
		}
		if n < r.weight {
			return r.block, r.name, true
		}
		n -= r.weight
	}
	// Unreachable as long as intn stays in range.
	return nil, "", false
}

// Chances returns the chance of each block name at tier.
func (t *Table) Chances(tier int) map[string]float64 {
	total := 0
	for _, r := range t.results {
		if r.minTier <= tier {
			total += r.weight
		}
	}
	out := make(map[string]float64)
	if total == 0 {
		return out
	}
	for _, r := range t.results {
		if r.minTier <= tier {
			out[r.name] += float64(r.weight) / float64(total)
		}
	}
	return out
}
