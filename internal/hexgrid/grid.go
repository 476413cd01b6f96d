// Package hexgrid wraps the hierarchical hexagonal grid and builds k-ring
// neighbor graphs over a set of cells.
package hexgrid

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"

	"github.com/sells-group/hexspot/internal/model"
)

// MaxResolution is the finest grid level.
const MaxResolution = 15

// RingProvider returns every cell within k grid steps of id, id included.
type RingProvider interface {
	Disk(id model.CellID, k int) ([]model.CellID, error)
}

// Grid is the geometry provider for cells: identity, hierarchy and shape.
type Grid interface {
	RingProvider
	Resolution(id model.CellID) (int, error)
	Parent(id model.CellID, res int) (model.CellID, error)
	Boundary(id model.CellID) (orb.Polygon, error)
	Center(id model.CellID) (orb.Point, error)
}

// H3 implements Grid on Uber's H3 index. Cell ids are the lowercase hex
// strings H3 uses ("8928308280fffff").
type H3 struct{}

var _ Grid = H3{}

// NewH3 returns an H3 grid.
func NewH3() H3 { return H3{} }

func (H3) parse(id model.CellID) (h3.Cell, error) {
	c := h3.Cell(h3.IndexFromString(string(id)))
	if !c.IsValid() {
		return 0, eris.Wrapf(model.ErrInvalidCell, "hexgrid: %q is not an H3 cell", id)
	}
	return c, nil
}

// Valid reports whether id is a well-formed H3 cell.
func (g H3) Valid(id model.CellID) bool {
	_, err := g.parse(id)
	return err == nil
}

// Resolution implements Grid.
func (g H3) Resolution(id model.CellID) (int, error) {
	c, err := g.parse(id)
	if err != nil {
		return 0, err
	}
	return c.Resolution(), nil
}

// Disk implements RingProvider.
func (g H3) Disk(id model.CellID, k int) ([]model.CellID, error) {
	if k < 0 {
		return nil, eris.Errorf("hexgrid: negative ring radius %d", k)
	}
	c, err := g.parse(id)
	if err != nil {
		return nil, err
	}
	cells, err := c.GridDisk(k)
	if err != nil {
		return nil, eris.Wrapf(err, "hexgrid: grid disk of %s", id)
	}
	return toIDs(cells), nil
}

// Parent implements Grid.
func (g H3) Parent(id model.CellID, res int) (model.CellID, error) {
	c, err := g.parse(id)
	if err != nil {
		return "", err
	}
	if res < 0 || res > c.Resolution() {
		return "", eris.Wrapf(model.ErrResolutionMismatch, "hexgrid: parent of res-%d cell at res %d", c.Resolution(), res)
	}
	p, err := c.Parent(res)
	if err != nil {
		return "", eris.Wrapf(err, "hexgrid: parent of %s", id)
	}
	return model.CellID(p.String()), nil
}

// Children returns the descendants of id at the finer resolution res.
func (g H3) Children(id model.CellID, res int) ([]model.CellID, error) {
	c, err := g.parse(id)
	if err != nil {
		return nil, err
	}
	if res < c.Resolution() || res > MaxResolution {
		return nil, eris.Wrapf(model.ErrResolutionMismatch, "hexgrid: children of res-%d cell at res %d", c.Resolution(), res)
	}
	cells, err := c.Children(res)
	if err != nil {
		return nil, eris.Wrapf(err, "hexgrid: children of %s", id)
	}
	return toIDs(cells), nil
}

// Boundary implements Grid. The ring is closed and in lng/lat order.
func (g H3) Boundary(id model.CellID) (orb.Polygon, error) {
	c, err := g.parse(id)
	if err != nil {
		return nil, err
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, eris.Wrapf(err, "hexgrid: boundary of %s", id)
	}
	ring := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

// Center implements Grid.
func (g H3) Center(id model.CellID) (orb.Point, error) {
	c, err := g.parse(id)
	if err != nil {
		return orb.Point{}, err
	}
	ll, err := c.LatLng()
	if err != nil {
		return orb.Point{}, eris.Wrapf(err, "hexgrid: center of %s", id)
	}
	return orb.Point{ll.Lng, ll.Lat}, nil
}

// CellAt returns the cell containing a coordinate at resolution res.
func (g H3) CellAt(lat, lng float64, res int) (model.CellID, error) {
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), res)
	if err != nil {
		return "", eris.Wrapf(err, "hexgrid: cell at %f,%f", lat, lng)
	}
	return model.CellID(c.String()), nil
}

// RingArea is the number of cells within k steps of a hexagon: 3k²+3k+1.
func RingArea(k int) int {
	return 3*k*k + 3*k + 1
}

func toIDs(cells []h3.Cell) []model.CellID {
	ids := make([]model.CellID, 0, len(cells))
	for _, c := range cells {
		if c == 0 {
			continue
		}
		ids = append(ids, model.CellID(c.String()))
	}
	return ids
}
