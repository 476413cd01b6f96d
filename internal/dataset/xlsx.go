package dataset

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hexspot/internal/model"
)

// LoadXLSX reads a worksheet laid out like a CSV: header row first. sheet
// selects a worksheet by name; empty means the first one.
func LoadXLSX(r io.Reader, sheet string, grid Resolver, opts Options) (*model.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read xlsx")
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open xlsx")
	}

	var s *xlsx.Sheet
	if sheet != "" {
		var ok bool
		if s, ok = f.Sheet[sheet]; !ok {
			return nil, eris.Errorf("dataset: sheet %q not found", sheet)
		}
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("dataset: workbook has no sheets")
		}
		s = f.Sheets[0]
	}
	if len(s.Rows) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "dataset: empty sheet")
	}

	rows := make([][]string, 0, len(s.Rows)-1)
	for _, row := range s.Rows[1:] {
		rows = append(rows, rowStrings(row))
	}
	return buildTable(rowStrings(s.Rows[0]), rows, grid, opts)
}

func rowStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}

// WriteXLSX writes the same layout as WriteCSV to a single "cells" sheet.
func WriteXLSX(w io.Writer, t *model.Table, labels []model.ClusterLabel) error {
	if labels != nil && len(labels) != t.Len() {
		return eris.Errorf("dataset: %d labels for %d cells", len(labels), t.Len())
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("cells")
	if err != nil {
		return eris.Wrap(err, "dataset: add sheet")
	}

	names := t.Columns()
	header := sheet.AddRow()
	header.AddCell().SetString(DefaultIDColumn)
	for _, name := range names {
		header.AddCell().SetString(name)
	}
	if labels != nil {
		header.AddCell().SetString(LabelColumn)
	}

	cols := columnsOf(t, names)
	for i := 0; i < t.Len(); i++ {
		row := sheet.AddRow()
		row.AddCell().SetString(string(t.ID(i)))
		for c := range names {
			row.AddCell().SetFloat(cols[c][i])
		}
		if labels != nil {
			row.AddCell().SetString(string(labels[i]))
		}
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "dataset: write xlsx")
	}
	return nil
}
