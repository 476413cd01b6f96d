// Package model defines the cell tables, feature selections and labels shared
// by the hotspot engine.
package model

import (
	"sort"

	"github.com/rotisserie/eris"
)

// CellID is an opaque hierarchical grid key, unique within a resolution.
type CellID string

// Cell is a read-only view of one row of a Table.
type Cell struct {
	ID         CellID             `json:"id"`
	Resolution int                `json:"resolution"`
	Features   map[string]float64 `json:"features"`
}

// Table is an immutable cell table keyed by cell id. Every method that
// changes content returns a new Table; column slices are never written after
// construction, so tables may share them and be read concurrently.
type Table struct {
	resolution int
	ids        []CellID
	index      map[CellID]int
	names      []string
	columns    map[string][]float64
}

// NewTable creates a table with no columns over the given cell ids.
func NewTable(resolution int, ids []CellID) (*Table, error) {
	t := &Table{
		resolution: resolution,
		ids:        make([]CellID, len(ids)),
		index:      make(map[CellID]int, len(ids)),
		columns:    make(map[string][]float64),
	}
	for i, id := range ids {
		if id == "" {
			return nil, eris.Wrapf(ErrInvalidCell, "model: empty cell id at row %d", i)
		}
		if _, dup := t.index[id]; dup {
			return nil, eris.Wrapf(ErrInvalidCell, "model: duplicate cell id %s", id)
		}
		t.ids[i] = id
		t.index[id] = i
	}
	return t, nil
}

// WithColumn returns a copy of t with the named column set to values.
// An existing column of the same name is replaced.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if name == "" {
		return nil, eris.New("model: column name is required")
	}
	if len(values) != len(t.ids) {
		return nil, eris.Errorf("model: column %q has %d values, table has %d rows", name, len(values), len(t.ids))
	}

	out := t.shallowCopy()
	if _, ok := out.columns[name]; !ok {
		out.names = append(out.names, name)
	}
	out.columns[name] = append([]float64(nil), values...)
	return out, nil
}

// Subset returns a new table holding only the given ids, in the given order.
func (t *Table) Subset(ids []CellID) (*Table, error) {
	out, err := NewTable(t.resolution, ids)
	if err != nil {
		return nil, err
	}
	rows := make([]int, len(ids))
	for i, id := range ids {
		row, ok := t.index[id]
		if !ok {
			return nil, eris.Wrapf(ErrInvalidCell, "model: cell %s not in table", id)
		}
		rows[i] = row
	}
	for _, name := range t.names {
		src := t.columns[name]
		dst := make([]float64, len(rows))
		for i, row := range rows {
			dst[i] = src[row]
		}
		out.names = append(out.names, name)
		out.columns[name] = dst
	}
	return out, nil
}

// Resolution returns the grid level of every cell in the table.
func (t *Table) Resolution() int { return t.resolution }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.ids) }

// ID returns the cell id at row i.
func (t *Table) ID(i int) CellID { return t.ids[i] }

// IDs returns a copy of the row ids in table order.
func (t *Table) IDs() []CellID { return append([]CellID(nil), t.ids...) }

// Index returns the row of id.
func (t *Table) Index(id CellID) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), col...), true
}

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string { return append([]string(nil), t.names...) }

// Cell returns the row at i as a Cell.
func (t *Table) Cell(i int) Cell {
	features := make(map[string]float64, len(t.names))
	for _, name := range t.names {
		features[name] = t.columns[name][i]
	}
	return Cell{ID: t.ids[i], Resolution: t.resolution, Features: features}
}

// Sorted returns a copy of t with rows ordered by cell id.
func (t *Table) Sorted() *Table {
	ids := t.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out, _ := t.Subset(ids) // ids come from t, cannot fail
	return out
}

func (t *Table) shallowCopy() *Table {
	out := &Table{
		resolution: t.resolution,
		ids:        t.ids,
		index:      t.index,
		names:      append([]string(nil), t.names...),
		columns:    make(map[string][]float64, len(t.columns)+1),
	}
	for k, v := range t.columns {
		out.columns[k] = v
	}
	return out
}
