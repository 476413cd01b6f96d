package dataset

import (
	"encoding/json"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/model"
)

// BoundaryProvider returns the polygon of a cell.
type BoundaryProvider interface {
	Boundary(id model.CellID) (orb.Polygon, error)
}

// Boundaries serves precomputed cell polygons.
type Boundaries map[model.CellID]orb.Polygon

// Boundary implements BoundaryProvider.
func (b Boundaries) Boundary(id model.CellID) (orb.Polygon, error) {
	p, ok := b[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrInvalidCell, "dataset: no boundary for %s", id)
	}
	return p, nil
}

// FeatureCollection builds one polygon feature per cell with the id, every
// column and the label (when labels is non-nil) as properties. NaN values are
// written as null.
func FeatureCollection(grid BoundaryProvider, t *model.Table, labels []model.ClusterLabel) (*geojson.FeatureCollection, error) {
	if labels != nil && len(labels) != t.Len() {
		return nil, eris.Errorf("dataset: %d labels for %d cells", len(labels), t.Len())
	}
	names := t.Columns()
	cols := columnsOf(t, names)

	fc := geojson.NewFeatureCollection()
	for i := 0; i < t.Len(); i++ {
		poly, err := grid.Boundary(t.ID(i))
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: boundary of %s", t.ID(i))
		}
		f := geojson.NewFeature(poly)
		f.ID = string(t.ID(i))
		f.Properties[DefaultIDColumn] = string(t.ID(i))
		for c, name := range names {
			if v := cols[c][i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				f.Properties[name] = v
			} else {
				f.Properties[name] = nil
			}
		}
		if labels != nil {
			f.Properties[LabelColumn] = string(labels[i])
		}
		fc.Append(f)
	}
	return fc, nil
}

// WriteGeoJSON writes FeatureCollection as JSON.
func WriteGeoJSON(w io.Writer, grid BoundaryProvider, t *model.Table, labels []model.ClusterLabel) error {
	fc, err := FeatureCollection(grid, t, labels)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "dataset: marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "dataset: write geojson")
	}
	return nil
}

// Region is a named area used to clip an analysis, e.g. a micro-region.
type Region struct {
	Name     string       `json:"name"`
	Geometry orb.Geometry `json:"-"`
}

// Bound returns the region's bounding box.
func (r Region) Bound() orb.Bound { return r.Geometry.Bound() }

// Regions indexes regions by name.
type Regions map[string]Region

// Names returns the region names in sorted order.
func (rs Regions) Names() []string {
	out := make([]string, 0, len(rs))
	for name := range rs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns a region by name.
func (rs Regions) Get(name string) (Region, error) {
	r, ok := rs[name]
	if !ok {
		return Region{}, eris.Errorf("dataset: unknown region %q", name)
	}
	return r, nil
}

// LoadRegions reads a GeoJSON FeatureCollection of polygon or multipolygon
// features, naming each by the nameProperty property.
func LoadRegions(r io.Reader, nameProperty string) (Regions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read regions")
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: parse regions")
	}

	out := make(Regions, len(fc.Features))
	for i, f := range fc.Features {
		name := propertyString(f.Properties, nameProperty)
		if name == "" {
			return nil, eris.Errorf("dataset: region %d has no %q property", i, nameProperty)
		}
		if f.Geometry == nil {
			return nil, eris.Errorf("dataset: region %q has no geometry", name)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, eris.Errorf("dataset: region %q is a %s, want polygon", name, f.Geometry.GeoJSONType())
		}
		if _, dup := out[name]; dup {
			return nil, eris.Errorf("dataset: duplicate region %q", name)
		}
		out[name] = Region{Name: name, Geometry: f.Geometry}
	}
	return out, nil
}

// propertyString reads a string or numeric property as text.
func propertyString(p geojson.Properties, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}
