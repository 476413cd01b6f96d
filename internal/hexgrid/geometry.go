package hexgrid

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/hexspot/internal/model"
)

// SRID of every boundary the grid produces (WGS84).
const SRID = 4326

// DefaultClipBuffer pads an extent's bounding box, in degrees.
const DefaultClipBuffer = 0.005

// GeomPolygon converts an orb polygon to a go-geom polygon with SRID 4326.
func GeomPolygon(p orb.Polygon) *geom.Polygon {
	flat := make([]float64, 0, 16)
	ends := make([]int, 0, len(p))
	for _, ring := range p {
		for _, pt := range ring {
			flat = append(flat, pt[0], pt[1])
		}
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends).SetSRID(SRID)
}

// EncodeEWKB encodes a boundary as little-endian EWKB for PostGIS.
func EncodeEWKB(p orb.Polygon) ([]byte, error) {
	if len(p) == 0 {
		return nil, eris.New("hexgrid: encode empty polygon")
	}
	data, err := ewkb.Marshal(GeomPolygon(p), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: encode EWKB")
	}
	return data, nil
}

// Boundaries looks up the boundary of every id.
func Boundaries(grid Grid, ids []model.CellID) (map[model.CellID]orb.Polygon, error) {
	out := make(map[model.CellID]orb.Polygon, len(ids))
	for _, id := range ids {
		p, err := grid.Boundary(id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Clip returns the rows of t whose cell centers fall inside bound padded by
// buffer degrees, e.g. the cells of one micro-region.
func Clip(grid Grid, t *model.Table, bound orb.Bound, buffer float64) (*model.Table, error) {
	padded := bound.Pad(buffer)
	var keep []model.CellID
	for i := 0; i < t.Len(); i++ {
		c, err := grid.Center(t.ID(i))
		if err != nil {
			return nil, err
		}
		if padded.Contains(c) {
			keep = append(keep, t.ID(i))
		}
	}
	if len(keep) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "hexgrid: clip")
	}
	return t.Subset(keep)
}

// Within returns the rows of t whose cell centers fall inside region, which
// must be a polygon or multipolygon.
func Within(grid Grid, t *model.Table, region orb.Geometry) (*model.Table, error) {
	var contains func(orb.Point) bool
	switch g := region.(type) {
	case orb.Polygon:
		contains = func(p orb.Point) bool { return planar.PolygonContains(g, p) }
	case orb.MultiPolygon:
		contains = func(p orb.Point) bool { return planar.MultiPolygonContains(g, p) }
	default:
		return nil, eris.Errorf("hexgrid: clip region must be a polygon, got %T", region)
	}

	bound := region.Bound()
	var keep []model.CellID
	for i := 0; i < t.Len(); i++ {
		c, err := grid.Center(t.ID(i))
		if err != nil {
			return nil, err
		}
		if bound.Contains(c) && contains(c) {
			keep = append(keep, t.ID(i))
		}
	}
	if len(keep) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "hexgrid: clip to region")
	}
	return t.Subset(keep)
}
