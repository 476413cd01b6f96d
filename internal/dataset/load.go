package dataset

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/fetcher"
	"github.com/sells-group/hexspot/internal/model"
)

// Opener resolves a location to a reader.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

var _ Opener = (*fetcher.Opener)(nil)

// Load opens location and parses it by extension: .xlsx as a workbook
// (first sheet), anything else as CSV.
func Load(ctx context.Context, o Opener, location string, grid Resolver, opts Options) (*model.Table, error) {
	rc, err := o.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	var t *model.Table
	switch fetcher.Ext(location) {
	case ".xlsx":
		t, err = LoadXLSX(rc, "", grid, opts)
	default:
		t, err = LoadCSV(ctx, rc, grid, opts)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: load %s", location)
	}
	zap.L().Info("dataset: loaded cells",
		zap.String("location", location),
		zap.Int("cells", t.Len()),
		zap.Int("resolution", t.Resolution()),
		zap.Strings("columns", t.Columns()),
	)
	return t, nil
}

// OpenRegions opens and parses a region file.
func OpenRegions(ctx context.Context, o Opener, location, nameProperty string) (Regions, error) {
	rc, err := o.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	rs, err := LoadRegions(rc, nameProperty)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: regions %s", location)
	}
	return rs, nil
}
