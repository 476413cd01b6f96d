package dataset

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/model"
)

// Record is one cell in JSON form. A null or absent feature reads as
// missing.
type Record struct {
	ID       string              `json:"id"`
	Label    string              `json:"label,omitempty"`
	Features map[string]*float64 `json:"features"`
}

// FromRecords builds a table from JSON records. Columns are the union of
// feature names, sorted, unless opts.Columns restricts them.
func FromRecords(recs []Record, grid Resolver, opts Options) (*model.Table, error) {
	if len(recs) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "dataset: no records")
	}
	raw := make([]string, len(recs))
	names := map[string]bool{}
	for i, r := range recs {
		raw[i] = r.ID
		for name := range r.Features {
			names[name] = true
		}
	}
	ids, res, err := resolveIDs(raw, grid, 1)
	if err != nil {
		return nil, err
	}
	t, err := model.NewTable(res, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: build table")
	}

	cols := opts.Columns
	if len(cols) == 0 {
		cols = make([]string, 0, len(names))
		for name := range names {
			cols = append(cols, name)
		}
		sort.Strings(cols)
	}
	for _, name := range cols {
		if !names[name] {
			return nil, eris.Wrapf(model.ErrUnknownFeature, "dataset: column %q", name)
		}
		values := make([]float64, len(recs))
		for i, r := range recs {
			v := math.NaN()
			if p := r.Features[name]; p != nil {
				v = *p
			}
			if opts.FillMissing && math.IsNaN(v) {
				v = 0
			}
			values[i] = v
		}
		if t, err = t.WithColumn(name, values); err != nil {
			return nil, eris.Wrapf(err, "dataset: column %q", name)
		}
	}
	return t, nil
}

// ToRecords renders a table as JSON records. NaN becomes null. labels may be
// nil.
func ToRecords(t *model.Table, labels []model.ClusterLabel) []Record {
	names := t.Columns()
	cols := columnsOf(t, names)
	out := make([]Record, t.Len())
	for i := range out {
		r := Record{ID: string(t.ID(i)), Features: make(map[string]*float64, len(names))}
		for c, name := range names {
			if v := cols[c][i]; !math.IsNaN(v) {
				r.Features[name] = &v
			} else {
				r.Features[name] = nil
			}
		}
		if labels != nil {
			r.Label = string(labels[i])
		}
		out[i] = r
	}
	return out
}
