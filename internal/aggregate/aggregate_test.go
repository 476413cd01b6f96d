package aggregate

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

func childTable(t *testing.T, grid hexgrid.H3) (model.CellID, *model.Table) {
	t.Helper()
	parent, err := grid.CellAt(-1.4558, -48.4902, 7)
	require.NoError(t, err)
	children, err := grid.Children(parent, 8)
	require.NoError(t, err)
	require.Len(t, children, 7)

	tbl, err := model.NewTable(8, children)
	require.NoError(t, err)
	tbl, err = tbl.WithColumn("F", []float64{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	return parent, tbl
}

func TestAggregate_SevenChildren(t *testing.T) {
	grid := hexgrid.NewH3()
	parent, tbl := childTable(t, grid)

	res, err := Aggregate(context.Background(), grid, tbl, 7, []string{"F"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Table.Len())
	assert.Equal(t, parent, res.Table.ID(0))
	assert.Equal(t, 7, res.Table.Resolution())

	f, ok := res.Table.Column("F")
	require.True(t, ok)
	assert.Equal(t, []float64{28}, f)

	n, ok := res.Table.Column(ChildCountColumn)
	require.True(t, ok)
	assert.Equal(t, []float64{7}, n)

	want, err := grid.Boundary(parent)
	require.NoError(t, err)
	assert.Equal(t, want, res.Boundaries[parent])
}

func TestAggregate_FinerTargetFails(t *testing.T) {
	grid := hexgrid.NewH3()
	_, tbl := childTable(t, grid)

	for _, target := range []int{8, 9, -1} {
		_, err := Aggregate(context.Background(), grid, tbl, target, []string{"F"})
		assert.True(t, errors.Is(err, model.ErrResolutionMismatch), "target %d: %v", target, err)
	}
}

func TestAggregate_Conservation(t *testing.T) {
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 9)
	require.NoError(t, err)
	ids, err := grid.Disk(center, 6)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(5, 5))
	pop := make([]float64, len(ids))
	seats := make([]float64, len(ids))
	var totalPop, totalSeats float64
	for i := range ids {
		pop[i] = float64(rng.IntN(1000))
		seats[i] = float64(rng.IntN(50))
		totalPop += pop[i]
		totalSeats += seats[i]
	}
	tbl, err := model.NewTable(9, ids)
	require.NoError(t, err)
	tbl, err = tbl.WithColumn("population", pop)
	require.NoError(t, err)
	tbl, err = tbl.WithColumn("seats", seats)
	require.NoError(t, err)

	for _, target := range []int{8, 7, 5} {
		res, err := Aggregate(context.Background(), grid, tbl, target, nil)
		require.NoError(t, err)

		var gotPop, gotSeats, gotChildren float64
		p, _ := res.Table.Column("population")
		s, _ := res.Table.Column("seats")
		c, _ := res.Table.Column(ChildCountColumn)
		for i := 0; i < res.Table.Len(); i++ {
			gotPop += p[i]
			gotSeats += s[i]
			gotChildren += c[i]
		}
		assert.Equal(t, totalPop, gotPop, "target %d", target)
		assert.Equal(t, totalSeats, gotSeats, "target %d", target)
		assert.Equal(t, float64(len(ids)), gotChildren)
		assert.Len(t, res.Boundaries, res.Table.Len())

		out := res.Table.IDs()
		for i := 1; i < len(out); i++ {
			assert.Less(t, out[i-1], out[i], "rows sorted by id")
		}
	}

	// Rolling up twice keeps the child counts of the first pass.
	first, err := Aggregate(context.Background(), grid, tbl, 8, nil)
	require.NoError(t, err)
	second, err := Aggregate(context.Background(), grid, first.Table, 6, nil)
	require.NoError(t, err)
	c, _ := second.Table.Column(ChildCountColumn)
	var total float64
	for _, v := range c {
		total += v
	}
	assert.Equal(t, float64(len(ids)), total)
}

func TestAggregate_Errors(t *testing.T) {
	grid := hexgrid.NewH3()
	_, tbl := childTable(t, grid)

	_, err := Aggregate(context.Background(), grid, tbl, 7, []string{"missing"})
	assert.True(t, errors.Is(err, model.ErrUnknownFeature))

	empty, err := model.NewTable(8, nil)
	require.NoError(t, err)
	_, err = Aggregate(context.Background(), grid, empty, 7, nil)
	assert.True(t, errors.Is(err, model.ErrEmptyExtent))
}

func TestAggregate_Cancelled(t *testing.T) {
	grid := hexgrid.NewH3()
	_, tbl := childTable(t, grid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Aggregate(ctx, grid, tbl, 7, []string{"F"})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}
