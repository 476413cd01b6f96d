// Package gstar computes the Getis-Ord Local G* statistic (star variant,
// row-standardized binary weights) over a neighbor graph.
package gstar

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

// degenerateTolerance is the relative standard deviation below which a
// score is treated as constant.
const degenerateTolerance = 1e-12

// Options tunes inference.
type Options struct {
	// Permutations > 0 switches p-values from the analytic normal
	// approximation to conditional randomization with that many draws.
	Permutations int    `json:"permutations,omitempty"`
	Seed         uint64 `json:"seed,omitempty"`
}

// Result holds one z-score and two-tailed p-value per graph row.
type Result struct {
	Z            []float64 `json:"z"`
	P            []float64 `json:"p"`
	Permutations int       `json:"permutations,omitempty"`
}

// Len returns the number of cells.
func (r *Result) Len() int { return len(r.Z) }

// moments are the global statistics every local G* shares.
type moments struct {
	n    int
	mean float64
	std  float64
}

// Local computes G* z-scores and p-values for scores, aligned with the rows
// of graph. For cell i with neighborhood N*(i) (i included) and weights
// 1/|N*(i)|:
//
//	z_i = (Σ w·x_j − x̄·Σw) / (S·sqrt((n·Σw² − (Σw)²)/(n−1)))
//
// where x̄ and S are the mean and population standard deviation over all n
// cells. A cell whose neighborhood is the whole extent sits exactly on its
// expectation and gets z=0, p=1.
func Local(scores []float64, graph *hexgrid.NeighborGraph, opts Options) (*Result, error) {
	if graph == nil || graph.Len() == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "gstar: no graph")
	}
	if len(scores) != graph.Len() {
		return nil, eris.Errorf("gstar: %d scores for %d graph cells", len(scores), graph.Len())
	}
	if opts.Permutations < 0 {
		return nil, eris.Errorf("gstar: negative permutation count %d", opts.Permutations)
	}
	if floats.HasNaN(scores) {
		return nil, eris.Wrap(model.ErrMissingFeatureData, "gstar: score contains NaN")
	}

	m, err := globalMoments(scores)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Z:            make([]float64, m.n),
		P:            make([]float64, m.n),
		Permutations: opts.Permutations,
	}
	for i := 0; i < m.n; i++ {
		rows := graph.NeighborRows(i)
		if len(rows) == 0 {
			return nil, eris.Wrapf(model.ErrEmptyNeighborhood, "gstar: cell %s", graph.IDs()[i])
		}
		var sum float64
		for _, j := range rows {
			sum += scores[j]
		}
		z, ok := m.z(sum/float64(len(rows)), len(rows))
		if !ok {
			res.Z[i], res.P[i] = 0, 1
			continue
		}
		res.Z[i] = z
		res.P[i] = TwoTailed(z)
	}

	if opts.Permutations > 0 {
		permutationPValues(scores, graph, m, opts, res)
	}
	return res, nil
}

// TwoTailed returns 2·(1 − Φ(|z|)) under the standard normal.
func TwoTailed(z float64) float64 {
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

func globalMoments(scores []float64) (moments, error) {
	n := len(scores)
	if n < 2 {
		return moments{}, eris.Wrapf(model.ErrDegenerateScore, "gstar: %d cell extent", n)
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	if std <= degenerateTolerance*math.Max(1, math.Abs(mean)) {
		return moments{}, eris.Wrapf(model.ErrDegenerateScore, "gstar: constant score %v", mean)
	}
	return moments{n: n, mean: mean, std: std}, nil
}

// z standardizes a neighborhood mean of size m. With row-standardized
// weights Σw = 1 and Σw² = 1/m. ok is false when the neighborhood covers the
// whole extent and the variance term vanishes.
func (m moments) z(lagMean float64, size int) (float64, bool) {
	n := float64(m.n)
	v := (n/float64(size) - 1) / (n - 1)
	if v <= 0 {
		return 0, false
	}
	return (lagMean - m.mean) / (m.std * math.Sqrt(v)), true
}
