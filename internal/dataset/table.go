// Package dataset loads cell tables from tabular files and writes analysis
// results as CSV, XLSX, GeoJSON or shapefiles.
package dataset

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/model"
)

// DefaultIDColumn is the cell id column of the source datasets.
const DefaultIDColumn = "hex"

// LabelColumn is the output column holding cluster labels.
const LabelColumn = "label"

// Resolver reports the grid resolution of a cell id.
type Resolver interface {
	Resolution(id model.CellID) (int, error)
}

// Options configures how rows become a cell table.
type Options struct {
	// IDColumn names the cell id column. Defaults to "hex".
	IDColumn string `json:"id_column,omitempty"`
	// Columns restricts loading to these feature columns. Empty loads every
	// numeric column.
	Columns []string `json:"columns,omitempty"`
	// FillMissing replaces blank and NaN values with 0. Without it missing
	// values stay NaN and the engine rejects them where they are consumed.
	FillMissing bool `json:"fill_missing,omitempty"`
	// Charset names the text encoding of CSV input, e.g. "iso-8859-1".
	// Empty means UTF-8.
	Charset string `json:"charset,omitempty"`
	// Delimiter separates CSV fields. Defaults to ','.
	Delimiter rune `json:"-"`
}

func (o Options) idColumn() string {
	if o.IDColumn == "" {
		return DefaultIDColumn
	}
	return o.IDColumn
}

// buildTable turns a header and string rows into a table. Every id must be a
// valid cell at one common resolution. A column not named in opts.Columns is
// kept only when every non-blank value parses as a number.
func buildTable(header []string, rows [][]string, grid Resolver, opts Options) (*model.Table, error) {
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	idName := opts.idColumn()
	idCol := -1
	for i, h := range header {
		if h == idName {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, eris.Errorf("dataset: id column %q not in header", idName)
	}
	if len(rows) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "dataset: no data rows")
	}

	raw := make([]string, len(rows))
	for r, row := range rows {
		if idCol >= len(row) {
			return nil, eris.Wrapf(model.ErrInvalidCell, "dataset: row %d has no id", r+2)
		}
		raw[r] = row[idCol]
	}
	ids, res, err := resolveIDs(raw, grid, 2)
	if err != nil {
		return nil, err
	}

	t, err := model.NewTable(res, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: build table")
	}

	want := map[string]bool{}
	for _, c := range opts.Columns {
		want[c] = true
	}
	found := map[string]bool{}
	for c, name := range header {
		if c == idCol || name == "" {
			continue
		}
		if len(want) > 0 && !want[name] {
			continue
		}
		values, numeric := parseColumn(rows, c, opts.FillMissing)
		if !numeric {
			if want[name] {
				return nil, eris.Errorf("dataset: column %q is not numeric", name)
			}
			zap.L().Debug("dataset: skipping non-numeric column", zap.String("column", name))
			continue
		}
		if t, err = t.WithColumn(name, values); err != nil {
			return nil, eris.Wrapf(err, "dataset: column %q", name)
		}
		found[name] = true
	}
	for _, c := range opts.Columns {
		if !found[c] {
			return nil, eris.Wrapf(model.ErrUnknownFeature, "dataset: column %q", c)
		}
	}
	return t, nil
}

// resolveIDs normalizes ids to lower case and checks they share one
// resolution. first is the row number reported for raw[0].
func resolveIDs(raw []string, grid Resolver, first int) ([]model.CellID, int, error) {
	ids := make([]model.CellID, len(raw))
	res := -1
	for r, s := range raw {
		id := model.CellID(strings.ToLower(strings.TrimSpace(s)))
		cellRes, err := grid.Resolution(id)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "dataset: row %d", r+first)
		}
		if res < 0 {
			res = cellRes
		} else if cellRes != res {
			return nil, 0, eris.Wrapf(model.ErrResolutionMismatch, "dataset: row %d is res %d, expected %d", r+first, cellRes, res)
		}
		ids[r] = id
	}
	return ids, res, nil
}

func parseColumn(rows [][]string, c int, fill bool) ([]float64, bool) {
	values := make([]float64, len(rows))
	for r, row := range rows {
		raw := ""
		if c < len(row) {
			raw = strings.TrimSpace(row[c])
		}
		v, ok := parseValue(raw)
		if !ok {
			return nil, false
		}
		if fill && math.IsNaN(v) {
			v = 0
		}
		values[r] = v
	}
	return values, true
}

// parseValue reads a number. Blank, "NA" and "NaN" read as NaN.
func parseValue(raw string) (float64, bool) {
	switch strings.ToLower(raw) {
	case "", "na", "nan", "null":
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
