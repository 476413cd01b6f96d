package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/hexspot/internal/model"
)

// LoadCSV reads a header row and data rows keyed by opts.IDColumn. The
// context is checked between rows.
func LoadCSV(ctx context.Context, r io.Reader, grid Resolver, opts Options) (*model.Table, error) {
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: unsupported charset %q", opts.Charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Wrap(model.ErrEmptyExtent, "dataset: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv header")
	}

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dataset: csv cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "dataset: read csv row")
		}
		rows = append(rows, record)
	}
	return buildTable(header, rows, grid, opts)
}

// WriteCSV writes one row per cell: the id, every column, and the cluster
// label when labels is non-nil.
func WriteCSV(w io.Writer, t *model.Table, labels []model.ClusterLabel) error {
	if labels != nil && len(labels) != t.Len() {
		return eris.Errorf("dataset: %d labels for %d cells", len(labels), t.Len())
	}
	cw := csv.NewWriter(w)
	names := t.Columns()

	header := append([]string{DefaultIDColumn}, names...)
	if labels != nil {
		header = append(header, LabelColumn)
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "dataset: write csv header")
	}

	cols := columnsOf(t, names)
	record := make([]string, len(header))
	for i := 0; i < t.Len(); i++ {
		record[0] = string(t.ID(i))
		for c := range names {
			record[c+1] = strconv.FormatFloat(cols[c][i], 'g', -1, 64)
		}
		if labels != nil {
			record[len(record)-1] = string(labels[i])
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "dataset: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "dataset: flush csv")
	}
	return nil
}

func columnsOf(t *model.Table, names []string) [][]float64 {
	cols := make([][]float64, len(names))
	for i, name := range names {
		cols[i], _ = t.Column(name)
	}
	return cols
}
