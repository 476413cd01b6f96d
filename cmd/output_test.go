package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		path, explicit, want string
		wantErr              bool
	}{
		{"", "", formatCSV, false},
		{"out.csv", "", formatCSV, false},
		{"out.GeoJSON", "", formatGeoJSON, false},
		{"out.json", "", formatGeoJSON, false},
		{"out.xlsx", "", formatXLSX, false},
		{"out.shp", "", formatShapefile, false},
		{"out.txt", "", formatCSV, false},
		{"out.csv", "geojson", formatGeoJSON, false},
		{"out.csv", "parquet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.explicit, func(t *testing.T) {
			got, err := outputFormat(tt.path, tt.explicit)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuffixPath(t *testing.T) {
	assert.Equal(t, "out/belem_north.csv", suffixPath("out/belem.csv", "north"))
	assert.Equal(t, "res_Zona_Sul.geojson", suffixPath("res.geojson", "Zona Sul"))
	assert.Equal(t, "cells_a_b", suffixPath("cells", "a/b"))
	assert.Equal(t, "", suffixPath("", "north"))
	assert.Equal(t, "-", suffixPath("-", "north"))
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("-48.5, -1.5,-48.4,-1.4")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-48.5, -1.5}, Max: orb.Point{-48.4, -1.4}}, *b)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "2,0,1,1"} {
		_, err := parseBBox(bad)
		assert.Error(t, err, bad)
	}
}

func smallTable(t *testing.T) *model.Table {
	t.Helper()
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 9)
	require.NoError(t, err)
	ids, err := grid.Disk(center, 1)
	require.NoError(t, err)
	tbl, err := model.NewTable(9, ids)
	require.NoError(t, err)
	vals := make([]float64, len(ids))
	for i := range vals {
		vals[i] = float64(i)
	}
	tbl, err = tbl.WithColumn("seats", vals)
	require.NoError(t, err)
	return tbl
}

func TestWriteTable(t *testing.T) {
	dir := t.TempDir()
	grid := hexgrid.NewH3()
	tbl := smallTable(t)
	labels := make([]model.ClusterLabel, tbl.Len())
	for i := range labels {
		labels[i] = model.LabelN
	}

	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, writeTable(csvPath, formatCSV, grid, tbl, labels))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, tbl.Len()+1)
	assert.Contains(t, lines[0], "seats")

	geoPath := filepath.Join(dir, "out.geojson")
	require.NoError(t, writeTable(geoPath, formatGeoJSON, grid, tbl, nil))
	data, err = os.ReadFile(geoPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, tbl.Len())

	xlsxPath := filepath.Join(dir, "out.xlsx")
	require.NoError(t, writeTable(xlsxPath, formatXLSX, grid, tbl, labels))
	info, err := os.Stat(xlsxPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	shpPath := filepath.Join(dir, "out.shp")
	require.NoError(t, writeTable(shpPath, formatShapefile, grid, tbl, labels))
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		_, err := os.Stat(filepath.Join(dir, "out"+ext))
		assert.NoError(t, err, ext)
	}

	assert.Error(t, writeTable("", formatShapefile, grid, tbl, nil))
	assert.Error(t, writeTable(filepath.Join(dir, "missing", "out.csv"), formatCSV, grid, tbl, nil))
}

func TestWriteTable_DeviceFull(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full")
	}
	err := writeTable("/dev/full", formatCSV, hexgrid.NewH3(), smallTable(t), nil)
	assert.Error(t, err)
}
