package hexgrid

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/model"
)

// Neighborhood radii.
const (
	DefaultHotspotK   = 3
	DefaultAdjacencyK = 1
)

// NeighborGraph maps each cell of an extent to the cells of the same extent
// within K rings, itself included. It is symmetric and read-only.
type NeighborGraph struct {
	K         int
	ids       []model.CellID
	index     map[model.CellID]int
	neighbors [][]int
}

// BuildGraph computes the k-ring neighbor graph of ids. Rings are taken on
// the unbounded grid and intersected with ids, so cells outside the extent
// are never neighbors. The context is checked between cells.
func BuildGraph(ctx context.Context, grid RingProvider, ids []model.CellID, k int) (*NeighborGraph, error) {
	if len(ids) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "hexgrid: build graph")
	}
	if k < 0 {
		return nil, eris.Errorf("hexgrid: negative ring radius %d", k)
	}

	g := &NeighborGraph{
		K:         k,
		ids:       append([]model.CellID(nil), ids...),
		index:     make(map[model.CellID]int, len(ids)),
		neighbors: make([][]int, len(ids)),
	}
	for i, id := range ids {
		if _, dup := g.index[id]; dup {
			return nil, eris.Wrapf(model.ErrInvalidCell, "hexgrid: duplicate cell %s", id)
		}
		g.index[id] = i
	}

	sets := make([]map[int]struct{}, len(ids))
	for i := range sets {
		sets[i] = map[int]struct{}{i: {}}
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "hexgrid: build graph cancelled")
		}
		disk, err := grid.Disk(id, k)
		if err != nil {
			return nil, eris.Wrapf(err, "hexgrid: ring of %s", id)
		}
		for _, n := range disk {
			j, ok := g.index[n]
			if !ok {
				continue
			}
			// Mirror every edge so the graph is symmetric even where a
			// grid's disks are not.
			sets[i][j] = struct{}{}
			sets[j][i] = struct{}{}
		}
	}

	for i, set := range sets {
		row := make([]int, 0, len(set))
		for j := range set {
			row = append(row, j)
		}
		sort.Ints(row)
		g.neighbors[i] = row
	}
	return g, nil
}

// Len returns the number of cells in the extent.
func (g *NeighborGraph) Len() int { return len(g.ids) }

// IDs returns the extent's cells in graph order.
func (g *NeighborGraph) IDs() []model.CellID { return append([]model.CellID(nil), g.ids...) }

// Index returns the graph row of id.
func (g *NeighborGraph) Index(id model.CellID) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// NeighborRows returns the sorted rows adjacent to row i, i included.
// The slice is shared and must not be modified.
func (g *NeighborGraph) NeighborRows(i int) []int { return g.neighbors[i] }

// Neighbors returns the neighbors of id, id included.
func (g *NeighborGraph) Neighbors(id model.CellID) []model.CellID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]model.CellID, len(g.neighbors[i]))
	for n, j := range g.neighbors[i] {
		out[n] = g.ids[j]
	}
	return out
}

// Adjacent reports whether b is in the neighborhood of a.
func (g *NeighborGraph) Adjacent(a, b model.CellID) bool {
	i, ok := g.index[a]
	if !ok {
		return false
	}
	j, ok := g.index[b]
	if !ok {
		return false
	}
	row := g.neighbors[i]
	n := sort.SearchInts(row, j)
	return n < len(row) && row[n] == j
}

// AlignsWith reports whether the graph rows match the table rows one to one.
func (g *NeighborGraph) AlignsWith(t *model.Table) bool {
	if t.Len() != len(g.ids) {
		return false
	}
	for i, id := range g.ids {
		if t.ID(i) != id {
			return false
		}
	}
	return true
}
