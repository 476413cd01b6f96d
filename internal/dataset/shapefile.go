package dataset

import (
	"fmt"
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/model"
)

// dBase limits field names to 10 bytes.
const shpFieldLen = 10

// WriteShapefile writes cell polygons with their columns and labels to
// path (.shp plus the .shx and .dbf siblings). Long column names are
// truncated and de-duplicated; the mapping from column to field name is
// returned.
func WriteShapefile(path string, grid BoundaryProvider, t *model.Table, labels []model.ClusterLabel) (map[string]string, error) {
	if labels != nil && len(labels) != t.Len() {
		return nil, eris.Errorf("dataset: %d labels for %d cells", len(labels), t.Len())
	}
	names := t.Columns()
	cols := columnsOf(t, names)

	fieldNames := ShapefileFieldNames(append([]string{DefaultIDColumn}, names...))
	fields := []shp.Field{shp.StringField(fieldNames[DefaultIDColumn], 16)}
	for _, name := range names {
		fields = append(fields, shp.FloatField(fieldNames[name], 24, 8))
	}
	if labels != nil {
		fieldNames[LabelColumn] = uniqueField(LabelColumn, fieldNames)
		fields = append(fields, shp.StringField(fieldNames[LabelColumn], 2))
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: create shapefile %s", path)
	}
	defer w.Close()
	if err := w.SetFields(fields); err != nil {
		return nil, eris.Wrap(err, "dataset: shapefile fields")
	}

	for i := 0; i < t.Len(); i++ {
		poly, err := grid.Boundary(t.ID(i))
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: boundary of %s", t.ID(i))
		}
		parts := make([][]shp.Point, len(poly))
		for r, ring := range poly {
			// Shapefile outer rings run clockwise.
			pts := make([]shp.Point, len(ring))
			for j, p := range ring {
				pts[len(ring)-1-j] = shp.Point{X: p[0], Y: p[1]}
			}
			parts[r] = pts
		}
		shape := shp.Polygon(*shp.NewPolyLine(parts))
		row := int(w.Write(&shape))

		if err := w.WriteAttribute(row, 0, string(t.ID(i))); err != nil {
			return nil, eris.Wrapf(err, "dataset: shapefile attribute of %s", t.ID(i))
		}
		for c := range names {
			v := cols[c][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if err := w.WriteAttribute(row, c+1, v); err != nil {
				return nil, eris.Wrapf(err, "dataset: shapefile attribute of %s", t.ID(i))
			}
		}
		if labels != nil {
			if err := w.WriteAttribute(row, len(fields)-1, string(labels[i])); err != nil {
				return nil, eris.Wrapf(err, "dataset: shapefile label of %s", t.ID(i))
			}
		}
	}
	return fieldNames, nil
}

// ShapefileFieldNames maps column names to unique dBase field names of at
// most 10 bytes.
func ShapefileFieldNames(columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		out[c] = uniqueField(c, out)
	}
	return out
}

func uniqueField(name string, taken map[string]string) string {
	used := make(map[string]bool, len(taken))
	for _, v := range taken {
		used[v] = true
	}
	base := strings.ToUpper(name)
	if len(base) > shpFieldLen {
		base = base[:shpFieldLen]
	}
	if !used[base] {
		return base
	}
	for n := 1; ; n++ {
		suffix := fmt.Sprintf("_%d", n)
		cand := base
		if len(cand)+len(suffix) > shpFieldLen {
			cand = cand[:shpFieldLen-len(suffix)]
		}
		cand += suffix
		if !used[cand] {
			return cand
		}
	}
}
