package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/deficit"
	"github.com/sells-group/hexspot/internal/hexgrid"
)

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides(
		map[string]string{"med": "1200"},
		map[string]string{"MED": "0.25"},
		nil,
		map[string]string{"INF_CRE": " 12 "},
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1200.0, *got["MED"].Students)
	assert.Equal(t, 0.25, *got["MED"].FullTimeShare)
	assert.Nil(t, got["MED"].NightShare)
	assert.Equal(t, 12.0, *got["INF_CRE"].SeatsPerRoom)

	_, err = parseOverrides(nil, nil, map[string]string{"MED": "lots"}, nil)
	assert.ErrorContains(t, err, "--night")
}

func TestFormatSummary(t *testing.T) {
	var buf bytes.Buffer
	formatSummary(&buf, []deficit.Summary{
		{Params: deficit.Params{Level: "INF_CRE", Students: 30, FullTimeShare: 0.5, SeatsPerRoom: 15}, RoomsNeeded: 3, RoomsExisting: 1, ExtraRooms: 2},
		{Params: deficit.Params{Level: "MED", Students: 70, SeatsPerRoom: 40}, RoomsNeeded: 2, RoomsExisting: 1, ExtraRooms: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "INF_CRE")
	assert.Contains(t, out, "50.0%")
	assert.Regexp(t, `TOTAL\s+3\s`, out)
}

// writeEnrollmentCSV writes a res-9 disk with every deficit input column.
func writeEnrollmentCSV(t *testing.T, path string) {
	t.Helper()
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 9)
	require.NoError(t, err)
	ids, err := grid.Disk(center, 3)
	require.NoError(t, err)

	header := []string{"hex", deficit.NightEnrollmentColumn, deficit.RoomsColumn}
	for _, code := range deficit.LevelCodes() {
		header = append(header, deficit.EnrollmentColumn(code), deficit.FullTimeColumn(code), deficit.ShareColumn(code))
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	rng := rand.New(rand.NewPCG(5, 5))
	for _, id := range ids {
		mats := make([]int, len(deficit.Levels))
		basic := 0
		for i := range mats {
			mats[i] = 1 + rng.IntN(50)
			basic += mats[i]
		}
		row := []string{string(id), strconv.Itoa(basic / 10), strconv.Itoa(rng.IntN(6))}
		for _, m := range mats {
			row = append(row, strconv.Itoa(m), strconv.Itoa(m/4), fmt.Sprintf("%.4f", float64(m)/float64(basic)))
		}
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

func readColumnSum(t *testing.T, path, column string) (float64, []string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	col := -1
	for i, h := range rows[0] {
		if h == column {
			col = i
		}
	}
	require.GreaterOrEqual(t, col, 0, "column %s", column)
	var sum float64
	for _, row := range rows[1:] {
		v, err := strconv.ParseFloat(row[col], 64)
		require.NoError(t, err)
		sum += v
	}
	return sum, rows[0]
}

func TestDeficitCommand(t *testing.T) {
	dir := chdirTemp(t)
	input := filepath.Join(dir, "enrollment.csv")
	writeEnrollmentCSV(t, input)
	t.Cleanup(func() { deficitKeepZero = false })

	fine := filepath.Join(dir, "cells.csv")
	execute(t, "deficit", "-i", input, "--keep-zero", "-o", fine)
	fineTotal, header := readColumnSum(t, fine, deficit.TotalExtraColumn)
	assert.Contains(t, header, deficit.NeededColumn("MED"))
	assert.Contains(t, header, deficit.ExistingColumn("INF_PRE"))
	assert.Positive(t, fineTotal)

	coarse := filepath.Join(dir, "parents.csv")
	execute(t, "deficit", "-i", input, "-r", "7", "-o", coarse)
	coarseTotal, header := readColumnSum(t, coarse, deficit.TotalExtraColumn)
	assert.Contains(t, header, "child_count")
	assert.Contains(t, header, deficit.ExtraColumn("FUND_AI"))
	assert.InDelta(t, fineTotal, coarseTotal, 1e-9)
}
