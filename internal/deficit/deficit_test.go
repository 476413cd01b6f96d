package deficit

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

func cells(t *testing.T, k int) []model.CellID {
	t.Helper()
	grid := hexgrid.NewH3()
	center, err := grid.CellAt(-1.4558, -48.4902, 9)
	require.NoError(t, err)
	ids, err := grid.Disk(center, k)
	require.NoError(t, err)
	return ids
}

func build(t *testing.T, ids []model.CellID, cols map[string][]float64) *model.Table {
	t.Helper()
	tbl, err := model.NewTable(9, ids)
	require.NoError(t, err)
	for name, vals := range cols {
		tbl, err = tbl.WithColumn(name, vals)
		require.NoError(t, err)
	}
	return tbl
}

// smallTable has two daycare and middle-school cells plus one empty cell.
func smallTable(t *testing.T) *model.Table {
	t.Helper()
	return build(t, cells(t, 1)[:3], map[string][]float64{
		EnrollmentColumn("INF_CRE"): {20, 10, 0},
		FullTimeColumn("INF_CRE"):   {10, 5, 0},
		ShareColumn("INF_CRE"):      {0.5, 0.25, 0},
		EnrollmentColumn("FUND_AF"): {40, 30, 0},
		FullTimeColumn("FUND_AF"):   {0, 3, 0},
		ShareColumn("FUND_AF"):      {0.5, 0.75, 0},
		NightEnrollmentColumn:       {10, 20, 0},
		RoomsColumn:                 {2, 0, 5},
	})
}

func TestExtraRooms(t *testing.T) {
	tests := []struct {
		needed, existing, want float64
	}{
		{2.3, 1, 2},
		{0.1, 0, 1},
		{5, 4.5, 1},
		{2, 2, 0},
		{1, 3, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extraRooms(tt.needed, tt.existing), "%v - %v", tt.needed, tt.existing)
	}
}

func TestSummarize(t *testing.T) {
	sums, err := Summarize(smallTable(t), []string{"inf_cre", "FUND_AF"})
	require.NoError(t, err)
	require.Len(t, sums, 2)

	cre := sums[0]
	assert.Equal(t, "INF_CRE", cre.Level)
	assert.Equal(t, 30.0, cre.Students)
	assert.InDelta(t, 0.5, cre.FullTimeShare, 1e-12)
	assert.Zero(t, cre.NightShare)
	assert.Equal(t, 15.0, cre.SeatsPerRoom)
	assert.Equal(t, 3.0, cre.RoomsNeeded)
	assert.Equal(t, 1.0, cre.RoomsExisting)
	assert.Equal(t, 2.0, cre.ExtraRooms)

	af := sums[1]
	assert.Equal(t, 70.0, af.Students)
	assert.InDelta(t, 3.0/70, af.FullTimeShare, 1e-12)
	assert.InDelta(t, 20.0/70, af.NightShare, 1e-12)
	assert.InDelta(t, 73*50/70.0, af.Seats(), 1e-9)
	assert.Equal(t, 2.0, af.RoomsNeeded)
	assert.Equal(t, 1.0, af.RoomsExisting)
	assert.Equal(t, 1.0, af.ExtraRooms)
}

func TestSummarize_Errors(t *testing.T) {
	tbl := smallTable(t)
	withNaN, err := tbl.WithColumn(RoomsColumn, []float64{1, math.NaN(), 0})
	require.NoError(t, err)
	empty, err := model.NewTable(9, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tbl    *model.Table
		levels []string
		want   error
	}{
		{"unknown level", tbl, []string{"PHD"}, ErrInvalidParams},
		{"duplicate level", tbl, []string{"MED", "med"}, ErrInvalidParams},
		{"missing level columns", tbl, []string{"MED"}, model.ErrUnknownFeature},
		{"missing data", withNaN, []string{"INF_CRE"}, model.ErrMissingFeatureData},
		{"empty table", empty, nil, model.ErrEmptyExtent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Summarize(tt.tbl, tt.levels)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSummarize_NoEnrollment(t *testing.T) {
	tbl := build(t, cells(t, 1)[:2], map[string][]float64{
		EnrollmentColumn("MED"): {0, 0},
		FullTimeColumn("MED"):   {0, 0},
		ShareColumn("MED"):      {0, 0},
		NightEnrollmentColumn:   {4, 0},
		RoomsColumn:             {3, 1},
	})
	sums, err := Summarize(tbl, []string{"MED"})
	require.NoError(t, err)
	assert.Zero(t, sums[0].FullTimeShare)
	assert.Zero(t, sums[0].NightShare)
	assert.Zero(t, sums[0].ExtraRooms)

	out, err := Estimate(tbl, []Params{sums[0].Params})
	require.NoError(t, err)
	total, _ := out.Column(TotalExtraColumn)
	assert.Equal(t, []float64{0, 0}, total)
}

func TestApply(t *testing.T) {
	sums, err := Summarize(smallTable(t), []string{"INF_CRE", "FUND_AF"})
	require.NoError(t, err)

	students, seats := 60.0, 20.0
	got, err := Apply(sums, map[string]Override{"inf_cre": {Students: &students}, "FUND_AF": {SeatsPerRoom: &seats}})
	require.NoError(t, err)
	assert.Equal(t, 60.0, got[0].Students)
	assert.Equal(t, 6.0, got[0].RoomsNeeded)
	assert.Equal(t, 1.0, got[0].RoomsExisting)
	assert.Equal(t, 5.0, got[0].ExtraRooms)
	assert.Equal(t, 3.0, got[1].RoomsNeeded)
	assert.Equal(t, 2.0, got[1].ExtraRooms)
	assert.Equal(t, 30.0, sums[0].Students, "input summaries are not modified")

	zero := 0.0
	_, err = Apply(sums, map[string]Override{"FUND_AF": {SeatsPerRoom: &zero}})
	assert.True(t, errors.Is(err, ErrInvalidParams))
	over := 1.5
	_, err = Apply(sums, map[string]Override{"INF_CRE": {NightShare: &over}})
	assert.True(t, errors.Is(err, ErrInvalidParams))
	_, err = Apply(sums, map[string]Override{"MED": {Students: &students}})
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestEstimate(t *testing.T) {
	tbl := smallTable(t)
	sums, err := Summarize(tbl, []string{"INF_CRE", "FUND_AF"})
	require.NoError(t, err)
	params := []Params{sums[0].Params, sums[1].Params}

	out, err := Estimate(tbl, params)
	require.NoError(t, err)
	assert.False(t, tbl.Has(TotalExtraColumn), "input table is not modified")

	needed, _ := out.Column(NeededColumn("INF_CRE"))
	assert.InDeltaSlice(t, []float64{2, 1, 0}, needed, 1e-9)
	existing, _ := out.Column(ExistingColumn("INF_CRE"))
	assert.Equal(t, []float64{1, 0, 0}, existing)
	extra, _ := out.Column(ExtraColumn("INF_CRE"))
	assert.Equal(t, []float64{1, 1, 0}, extra)

	perStudent := (73.0 / 70) * (50.0 / 70) / 40
	needed, _ = out.Column(NeededColumn("FUND_AF"))
	assert.InDeltaSlice(t, []float64{40 * perStudent, 30 * perStudent, 0}, needed, 1e-9)
	extra, _ = out.Column(ExtraColumn("FUND_AF"))
	assert.Equal(t, []float64{0, 1, 0}, extra)

	total, _ := out.Column(TotalExtraColumn)
	assert.Equal(t, []float64{1, 2, 0}, total)

	_, err = Estimate(tbl, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams))
	bad := params[0]
	bad.SeatsPerRoom = -1
	_, err = Estimate(tbl, []Params{bad})
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestShortfall(t *testing.T) {
	tbl := smallTable(t)
	sums, err := Summarize(tbl, []string{"INF_CRE"})
	require.NoError(t, err)
	out, err := Estimate(tbl, []Params{sums[0].Params})
	require.NoError(t, err)

	kept, err := Shortfall(out)
	require.NoError(t, err)
	assert.Equal(t, []model.CellID{tbl.ID(0), tbl.ID(1)}, kept.IDs())

	_, err = Shortfall(tbl)
	assert.True(t, errors.Is(err, model.ErrUnknownFeature))
}

// cityTable is a res-9 disk with every level filled from a seeded source.
func cityTable(t *testing.T, seed uint64) *model.Table {
	t.Helper()
	ids := cells(t, 3)
	rng := rand.New(rand.NewPCG(seed, seed))
	cols := map[string][]float64{
		NightEnrollmentColumn: make([]float64, len(ids)),
		RoomsColumn:           make([]float64, len(ids)),
	}
	for _, l := range Levels {
		cols[EnrollmentColumn(l.Code)] = make([]float64, len(ids))
		cols[FullTimeColumn(l.Code)] = make([]float64, len(ids))
		cols[ShareColumn(l.Code)] = make([]float64, len(ids))
	}
	for i := range ids {
		var basic float64
		for _, l := range Levels {
			mat := float64(rng.IntN(60))
			cols[EnrollmentColumn(l.Code)][i] = mat
			cols[FullTimeColumn(l.Code)][i] = math.Floor(mat * rng.Float64() / 2)
			basic += mat
		}
		for _, l := range Levels {
			cols[ShareColumn(l.Code)][i] = ratio(cols[EnrollmentColumn(l.Code)][i], basic)
		}
		cols[NightEnrollmentColumn][i] = math.Floor(basic * rng.Float64() / 5)
		cols[RoomsColumn][i] = float64(rng.IntN(8))
	}
	return build(t, ids, cols)
}

func TestRun_RollupConservesSums(t *testing.T) {
	grid := hexgrid.NewH3()
	tbl := cityTable(t, 7)

	fine, err := Run(context.Background(), grid, tbl, Request{KeepZero: true})
	require.NoError(t, err)
	require.Len(t, fine.Summary, len(Levels))
	assert.Equal(t, tbl.Len(), fine.Table.Len())
	assert.Nil(t, fine.Boundaries)

	res := 7
	coarse, err := Run(context.Background(), grid, tbl, Request{Resolution: &res})
	require.NoError(t, err)
	assert.Equal(t, 7, coarse.Table.Resolution())
	assert.Len(t, coarse.Boundaries, coarse.Table.Len())
	assert.Less(t, coarse.Table.Len(), fine.Table.Len())

	for _, field := range Fields(fine.Params()) {
		before, ok := fine.Table.Column(field)
		require.True(t, ok, field)
		after, ok := coarse.Table.Column(field)
		require.True(t, ok, field)
		assert.InDelta(t, sum(before), sum(after), 1e-9, field)
	}
}

func TestRun_DropsCellsWithoutShortfall(t *testing.T) {
	res, err := Run(context.Background(), hexgrid.NewH3(), smallTable(t), Request{Levels: []string{"INF_CRE", "FUND_AF"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Table.Len())
	total, _ := res.Table.Column(TotalExtraColumn)
	for _, v := range total {
		assert.Positive(t, v)
	}
}

func TestRun_NoShortfallSkipsRollup(t *testing.T) {
	tbl := smallTable(t)
	var students float64
	res := 7
	out, err := Run(context.Background(), hexgrid.NewH3(), tbl, Request{
		Levels:     []string{"INF_CRE"},
		Overrides:  map[string]Override{"INF_CRE": {Students: &students}},
		Resolution: &res,
	})
	require.NoError(t, err)
	assert.Zero(t, out.Table.Len())
	assert.Nil(t, out.Boundaries)
}

func TestRun_FinerResolution(t *testing.T) {
	res := 10
	_, err := Run(context.Background(), hexgrid.NewH3(), cityTable(t, 8), Request{Resolution: &res})
	assert.True(t, errors.Is(err, model.ErrResolutionMismatch), "got %v", err)
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}
