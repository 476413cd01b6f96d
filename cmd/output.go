package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/model"
)

// Output formats accepted by --format.
const (
	formatCSV       = "csv"
	formatGeoJSON   = "geojson"
	formatXLSX      = "xlsx"
	formatShapefile = "shp"
)

// outputFormat returns the explicit format, or the one implied by the
// path's extension. Stdout and unknown extensions default to CSV.
func outputFormat(path, explicit string) (string, error) {
	if explicit != "" {
		switch explicit {
		case formatCSV, formatGeoJSON, formatXLSX, formatShapefile:
			return explicit, nil
		}
		return "", eris.Errorf("unsupported format %q (csv, geojson, xlsx, shp)", explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return formatGeoJSON, nil
	case ".xlsx":
		return formatXLSX, nil
	case ".shp":
		return formatShapefile, nil
	}
	return formatCSV, nil
}

// writeTable writes t to path in format. An empty path or "-" writes to
// stdout; shapefiles need a real path.
func writeTable(path, format string, grid dataset.BoundaryProvider, t *model.Table, labels []model.ClusterLabel) (err error) {
	if format == formatShapefile {
		if path == "" || path == "-" {
			return eris.New("shapefile output needs --out")
		}
		fields, err := dataset.WriteShapefile(path, grid, t, labels)
		if err != nil {
			return err
		}
		zap.L().Info("wrote shapefile", zap.String("path", path), zap.Any("fields", fields))
		return nil
	}

	out := os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = eris.Wrapf(cerr, "close %s", path)
			}
		}()
		out = f
	}

	switch format {
	case formatGeoJSON:
		err = dataset.WriteGeoJSON(out, grid, t, labels)
	case formatXLSX:
		err = dataset.WriteXLSX(out, t, labels)
	default:
		err = dataset.WriteCSV(out, t, labels)
	}
	if err != nil {
		return err
	}
	if out != os.Stdout {
		zap.L().Info("wrote output", zap.String("path", path), zap.String("format", format), zap.Int("cells", t.Len()))
	}
	return nil
}

// suffixPath inserts name before the extension: out.csv becomes
// out_north.csv.
func suffixPath(path, name string) string {
	if path == "" || path == "-" {
		return path
	}
	ext := filepath.Ext(path)
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, name)
	return strings.TrimSuffix(path, ext) + "_" + safe + ext
}

// parseBBox reads "minLon,minLat,maxLon,maxLat".
func parseBBox(s string) (*orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("bbox %q needs 4 comma-separated numbers", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "bbox %q", s)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return nil, eris.Errorf("bbox %q has min above max", s)
	}
	return &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
