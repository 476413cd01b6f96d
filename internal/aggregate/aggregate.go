// Package aggregate rolls a cell table up to a coarser grid resolution.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

// ChildCountColumn holds the number of input cells folded into each parent.
// When the input already carries it as a summed field the sums are kept.
const ChildCountColumn = "child_count"

// Result is a coarser table plus the boundary of each of its cells.
type Result struct {
	Table      *model.Table
	Boundaries map[model.CellID]orb.Polygon
}

// Aggregate maps every cell of t to its ancestor at target and sums fields
// across each group. An empty fields list sums every column. Parent
// boundaries come from the grid, never from the children. target must be
// strictly coarser than t. The context is checked between cells and a
// cancelled run returns no partial result.
func Aggregate(ctx context.Context, grid hexgrid.Grid, t *model.Table, target int, fields []string) (*Result, error) {
	if t == nil || t.Len() == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "aggregate: no cells")
	}
	if target < 0 || target >= t.Resolution() {
		return nil, eris.Wrapf(model.ErrResolutionMismatch, "aggregate: res %d to res %d", t.Resolution(), target)
	}
	if len(fields) == 0 {
		fields = t.Columns()
	}

	cols := make([][]float64, len(fields))
	for f, name := range fields {
		col, ok := t.Column(name)
		if !ok {
			return nil, eris.Wrapf(model.ErrUnknownFeature, "aggregate: field %q", name)
		}
		for _, v := range col {
			if math.IsNaN(v) {
				return nil, eris.Wrapf(model.ErrMissingFeatureData, "aggregate: field %q", name)
			}
		}
		cols[f] = col
	}

	groups := make(map[model.CellID][]int)
	for i := 0; i < t.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "aggregate: cancelled")
		}
		parent, err := grid.Parent(t.ID(i), target)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: parent of %s", t.ID(i))
		}
		groups[parent] = append(groups[parent], i)
	}

	parents := make([]model.CellID, 0, len(groups))
	for id := range groups {
		parents = append(parents, id)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	out, err := model.NewTable(target, parents)
	if err != nil {
		return nil, err
	}
	counts := make([]float64, len(parents))
	sums := make([][]float64, len(fields))
	for f := range sums {
		sums[f] = make([]float64, len(parents))
	}
	boundaries := make(map[model.CellID]orb.Polygon, len(parents))
	for p, id := range parents {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "aggregate: cancelled")
		}
		rows := groups[id]
		counts[p] = float64(len(rows))
		for f, col := range cols {
			for _, r := range rows {
				sums[f][p] += col[r]
			}
		}
		poly, err := grid.Boundary(id)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: boundary of %s", id)
		}
		boundaries[id] = poly
	}

	for f, name := range fields {
		if out, err = out.WithColumn(name, sums[f]); err != nil {
			return nil, err
		}
	}
	if !out.Has(ChildCountColumn) {
		if out, err = out.WithColumn(ChildCountColumn, counts); err != nil {
			return nil, err
		}
	}
	return &Result{Table: out, Boundaries: boundaries}, nil
}
