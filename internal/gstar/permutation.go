package gstar

import (
	"math"
	"math/rand/v2"

	"github.com/sells-group/hexspot/internal/hexgrid"
)

// seedStream is the PCG stream constant; only Seed varies between runs.
const seedStream = 0x9e3779b97f4a7c15

// permutationPValues replaces res.P with conditional randomization p-values.
// For each cell the own value stays fixed and its |N*|-1 neighbors are drawn
// without replacement from the other cells. The p-value is two-sided:
// (c+1)/(perms+1), c counting draws at least as far from the mean as the
// observed neighborhood. Draws are deterministic for a given Seed.
func permutationPValues(scores []float64, graph *hexgrid.NeighborGraph, m moments, opts Options, res *Result) {
	rng := rand.New(rand.NewPCG(opts.Seed, seedStream))
	n := m.n
	others := make([]int, n-1)

	for i := 0; i < n; i++ {
		rows := graph.NeighborRows(i)
		size := len(rows)
		if size >= n {
			continue
		}
		var obs float64
		for _, j := range rows {
			obs += scores[j]
		}
		// The variance term is constant per cell, so lags compare directly.
		observed := math.Abs(obs/float64(size)-m.mean) * (1 - 1e-12)

		k := 0
		for j := 0; j < n; j++ {
			if j != i {
				others[k] = j
				k++
			}
		}

		extreme := 0
		draw := size - 1
		for p := 0; p < opts.Permutations; p++ {
			sum := scores[i]
			for d := 0; d < draw; d++ {
				r := d + rng.IntN(len(others)-d)
				others[d], others[r] = others[r], others[d]
				sum += scores[others[d]]
			}
			if math.Abs(sum/float64(size)-m.mean) >= observed {
				extreme++
			}
		}
		res.P[i] = float64(extreme+1) / float64(opts.Permutations+1)
	}
}
