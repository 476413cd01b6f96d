package gstar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

// torus is a 3x3 hexagonal grid wrapped on both axes, so every cell has
// exactly six neighbors and no edge effects.
type torus struct{}

func torusID(q, r int) model.CellID {
	return model.CellID(fmt.Sprintf("t%d%d", (q%3+3)%3, (r%3+3)%3))
}

func (torus) ids() []model.CellID {
	var out []model.CellID
	for q := 0; q < 3; q++ {
		for r := 0; r < 3; r++ {
			out = append(out, torusID(q, r))
		}
	}
	return out
}

func (t torus) Disk(id model.CellID, k int) ([]model.CellID, error) {
	var q, r int
	if _, err := fmt.Sscanf(string(id), "t%1d%1d", &q, &r); err != nil {
		return nil, err
	}
	if k == 0 {
		return []model.CellID{id}, nil
	}
	if k >= 2 {
		return t.ids(), nil
	}
	out := []model.CellID{id}
	for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, -1}, {-1, 1}} {
		out = append(out, torusID(q+d[0], r+d[1]))
	}
	return out, nil
}

func buildGraph(t *testing.T, grid hexgrid.RingProvider, ids []model.CellID, k int) *hexgrid.NeighborGraph {
	t.Helper()
	g, err := hexgrid.BuildGraph(context.Background(), grid, ids, k)
	require.NoError(t, err)
	return g
}

func TestLocal_CenterHotspot(t *testing.T) {
	grid := torus{}
	ids := grid.ids()
	graph := buildGraph(t, grid, ids, 1)

	center := torusID(1, 1)
	scores := make([]float64, len(ids))
	for i, id := range ids {
		if id == center {
			scores[i] = 1
		}
	}

	res, err := Local(scores, graph, Options{})
	require.NoError(t, err)

	ci, _ := graph.Index(center)
	assert.Greater(t, res.Z[ci], 0.0)
	for i := range ids {
		assert.GreaterOrEqual(t, res.Z[ci], res.Z[i]-1e-12, "cell %s", ids[i])
		assert.GreaterOrEqual(t, res.P[i], 0.0)
		assert.LessOrEqual(t, res.P[i], 1.0)
	}

	// n=9, |N*|=7, x̄=1/9, S=√8/9: z = (1/7−1/9) / (S·√(1/28)).
	want := (1.0/7 - 1.0/9) / (math.Sqrt(8) / 9 * math.Sqrt(1.0/28))
	assert.InDelta(t, want, res.Z[ci], 1e-9)
}

// referenceZ evaluates the general G* formula with explicit weights.
func referenceZ(scores []float64, graph *hexgrid.NeighborGraph, i int) float64 {
	n := float64(len(scores))
	var mean float64
	for _, x := range scores {
		mean += x
	}
	mean /= n
	var ss float64
	for _, x := range scores {
		ss += (x - mean) * (x - mean)
	}
	s := math.Sqrt(ss / n)

	rows := graph.NeighborRows(i)
	w := 1 / float64(len(rows))
	var lag, sw, sw2 float64
	for _, j := range rows {
		lag += w * scores[j]
		sw += w
		sw2 += w * w
	}
	return (lag - mean*sw) / (s * math.Sqrt((n*sw2-sw*sw)/(n-1)))
}

func TestLocal_MatchesReferenceFormula(t *testing.T) {
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 8)
	require.NoError(t, err)
	ids, err := grid.Disk(center, 4)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 7))
	scores := make([]float64, len(ids))
	for i := range scores {
		scores[i] = rng.Float64()
	}

	for _, k := range []int{1, 2, 3} {
		graph := buildGraph(t, grid, ids, k)
		res, err := Local(scores, graph, Options{})
		require.NoError(t, err)
		require.Equal(t, len(ids), res.Len())
		for i := range ids {
			assert.InDelta(t, referenceZ(scores, graph, i), res.Z[i], 1e-9, "k=%d cell %d", k, i)
			assert.InDelta(t, TwoTailed(res.Z[i]), res.P[i], 1e-12)
		}
	}
}

func TestTwoTailed(t *testing.T) {
	assert.InDelta(t, 1.0, TwoTailed(0), 1e-12)
	assert.InDelta(t, 0.05, TwoTailed(1.959964), 1e-6)
	assert.InDelta(t, TwoTailed(2.5), TwoTailed(-2.5), 1e-15)
	assert.InDelta(t, 0.0124, TwoTailed(2.5), 1e-4)
}

func TestLocal_Errors(t *testing.T) {
	grid := torus{}
	ids := grid.ids()
	graph := buildGraph(t, grid, ids, 1)

	tests := []struct {
		name   string
		scores []float64
		opts   Options
		want   error
	}{
		{name: "constant", scores: []float64{.1, .1, .1, .1, .1, .1, .1, .1, .1}, want: model.ErrDegenerateScore},
		{name: "nan", scores: []float64{0, 1, 0, 1, math.NaN(), 0, 1, 0, 1}, want: model.ErrMissingFeatureData},
		{name: "length mismatch", scores: []float64{0, 1}},
		{name: "negative permutations", scores: []float64{0, 1, 0, 1, 0, 0, 1, 0, 1}, opts: Options{Permutations: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Local(tt.scores, graph, tt.opts)
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
		})
	}

	_, err := Local(nil, nil, Options{})
	assert.True(t, errors.Is(err, model.ErrEmptyExtent))
}

func TestLocal_SingleCellIsDegenerate(t *testing.T) {
	graph := buildGraph(t, torus{}, []model.CellID{torusID(0, 0)}, 1)
	_, err := Local([]float64{0.4}, graph, Options{})
	assert.True(t, errors.Is(err, model.ErrDegenerateScore))
}

func TestLocal_WholeExtentNeighborhood(t *testing.T) {
	grid := torus{}
	ids := grid.ids()
	graph := buildGraph(t, grid, ids, 2)

	res, err := Local([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8}, graph, Options{Permutations: 19})
	require.NoError(t, err)
	for i := range ids {
		assert.Equal(t, 0.0, res.Z[i])
		assert.Equal(t, 1.0, res.P[i])
	}
}

func hotspotFixture(t *testing.T) ([]float64, *hexgrid.NeighborGraph, int) {
	t.Helper()
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 8)
	require.NoError(t, err)
	ids, err := grid.Disk(center, 3)
	require.NoError(t, err)
	inner, err := grid.Disk(center, 1)
	require.NoError(t, err)
	hot := map[model.CellID]bool{}
	for _, id := range inner {
		hot[id] = true
	}

	rng := rand.New(rand.NewPCG(3, 3))
	scores := make([]float64, len(ids))
	for i, id := range ids {
		if hot[id] {
			scores[i] = 10
			continue
		}
		scores[i] = rng.Float64()
	}
	graph := buildGraph(t, grid, ids, 1)
	ci, _ := graph.Index(center)
	return scores, graph, ci
}

func TestLocal_Permutations(t *testing.T) {
	scores, graph, ci := hotspotFixture(t)

	analytic, err := Local(scores, graph, Options{})
	require.NoError(t, err)

	opts := Options{Permutations: 199, Seed: 42}
	a, err := Local(scores, graph, opts)
	require.NoError(t, err)
	b, err := Local(scores, graph, opts)
	require.NoError(t, err)

	assert.Equal(t, a.P, b.P, "same seed must give identical p-values")
	assert.Equal(t, analytic.Z, a.Z, "permutations only change p")
	assert.Equal(t, 199, a.Permutations)

	for i := range a.P {
		assert.GreaterOrEqual(t, a.P[i], 1.0/200)
		assert.LessOrEqual(t, a.P[i], 1.0)
	}

	assert.Less(t, analytic.P[ci], 0.05)
	assert.Less(t, a.P[ci], 0.05)
	assert.InDelta(t, 1.0/200, a.P[ci], 1e-12)
}

func TestLocal_PermutationSeedsDiffer(t *testing.T) {
	scores, graph, _ := hotspotFixture(t)
	a, err := Local(scores, graph, Options{Permutations: 99, Seed: 1})
	require.NoError(t, err)
	b, err := Local(scores, graph, Options{Permutations: 99, Seed: 2})
	require.NoError(t, err)
	assert.NotEqual(t, a.P, b.P)
}
