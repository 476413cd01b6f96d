// Package deficit estimates how many classrooms each cell lacks per
// education level, from enrollment counts and the rooms already in use.
//
// The extent-wide figures come first: per level, the enrolled students,
// the share of them studying full time and the share studying at night.
// Callers may override any of these before they are spread back over the
// cells in proportion to each cell's enrollment.
package deficit

import (
	"context"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/aggregate"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

// ErrInvalidParams marks unknown levels and out-of-range overrides.
var ErrInvalidParams = eris.New("invalid deficit parameters")

// Input columns shared by every level.
const (
	NightEnrollmentColumn = "QT_MAT_BAS_N"
	RoomsColumn           = "QT_SALAS_UTILIZADAS"
)

// TotalExtraColumn sums the extra rooms of every estimated level.
const TotalExtraColumn = "extra_rooms_total"

// Level is one stage of basic education.
type Level struct {
	Code         string  `json:"code"`
	Label        string  `json:"label"`
	SeatsPerRoom float64 `json:"seats_per_room"`
	// NightShift levels lose seats to the night enrollment share.
	NightShift bool `json:"night_shift"`
}

// Levels are the supported education levels with their default room sizes.
var Levels = []Level{
	{Code: "INF_CRE", Label: "Daycare", SeatsPerRoom: 15},
	{Code: "INF_PRE", Label: "Preschool", SeatsPerRoom: 25},
	{Code: "FUND_AI", Label: "Elementary", SeatsPerRoom: 35},
	{Code: "FUND_AF", Label: "Middle school", SeatsPerRoom: 40, NightShift: true},
	{Code: "MED", Label: "High school", SeatsPerRoom: 40, NightShift: true},
}

// LevelCodes returns the codes of Levels in order.
func LevelCodes() []string {
	out := make([]string, len(Levels))
	for i, l := range Levels {
		out[i] = l.Code
	}
	return out
}

// EnrollmentColumn holds the students enrolled at a level.
func EnrollmentColumn(level string) string { return "QT_MAT_" + level }

// FullTimeColumn holds the full-time students of a level.
func FullTimeColumn(level string) string { return "QT_MAT_" + level + "_INT" }

// ShareColumn holds the level's share of the cell's basic enrollment.
func ShareColumn(level string) string { return "QT_MAT_" + level + "_PROP" }

// NeededColumn is the output column of rooms a level needs in a cell.
func NeededColumn(level string) string { return "rooms_needed_" + strings.ToLower(level) }

// ExistingColumn is the output column of rooms a level already uses.
func ExistingColumn(level string) string { return "rooms_existing_" + strings.ToLower(level) }

// ExtraColumn is the output column of whole rooms a level lacks.
func ExtraColumn(level string) string { return "extra_rooms_" + strings.ToLower(level) }

// Params drive the estimate for one level.
type Params struct {
	Level         string  `json:"level"`
	Students      float64 `json:"students"`
	FullTimeShare float64 `json:"full_time_share"`
	NightShare    float64 `json:"night_share"`
	SeatsPerRoom  float64 `json:"seats_per_room"`
}

// Seats is the number of seats the students occupy across shifts. A
// full-time student holds a seat in both shifts; night students free one.
func (p Params) Seats() float64 {
	return p.Students * (1 + p.FullTimeShare) * (1 - p.NightShare)
}

// Validate checks ranges.
func (p Params) Validate() error {
	switch {
	case p.Students < 0 || math.IsNaN(p.Students):
		return eris.Wrapf(ErrInvalidParams, "deficit: %s students %v", p.Level, p.Students)
	case p.FullTimeShare < 0 || p.FullTimeShare > 1 || math.IsNaN(p.FullTimeShare):
		return eris.Wrapf(ErrInvalidParams, "deficit: %s full-time share %v outside [0, 1]", p.Level, p.FullTimeShare)
	case p.NightShare < 0 || p.NightShare > 1 || math.IsNaN(p.NightShare):
		return eris.Wrapf(ErrInvalidParams, "deficit: %s night share %v outside [0, 1]", p.Level, p.NightShare)
	case !(p.SeatsPerRoom > 0):
		return eris.Wrapf(ErrInvalidParams, "deficit: %s seats per room %v must be positive", p.Level, p.SeatsPerRoom)
	}
	return nil
}

// Summary is the extent-wide estimate of one level.
type Summary struct {
	Params
	RoomsNeeded   float64 `json:"rooms_needed"`
	RoomsExisting float64 `json:"rooms_existing"`
	ExtraRooms    float64 `json:"extra_rooms"`
}

func summarize(p Params, existing float64) Summary {
	needed := math.Ceil(p.Seats() / p.SeatsPerRoom)
	return Summary{
		Params:        p,
		RoomsNeeded:   needed,
		RoomsExisting: existing,
		ExtraRooms:    extraRooms(needed, existing),
	}
}

// extraRooms rounds the shortfall up to whole rooms and never goes below
// zero.
func extraRooms(needed, existing float64) float64 {
	return math.Ceil(math.Max(needed-existing, 0))
}

// Override replaces individual Params fields of one level.
type Override struct {
	Students      *float64 `json:"students,omitempty"`
	FullTimeShare *float64 `json:"full_time_share,omitempty"`
	NightShare    *float64 `json:"night_share,omitempty"`
	SeatsPerRoom  *float64 `json:"seats_per_room,omitempty"`
}

func lookup(codes []string) ([]Level, error) {
	if len(codes) == 0 {
		return Levels, nil
	}
	out := make([]Level, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if seen[code] {
			return nil, eris.Wrapf(ErrInvalidParams, "deficit: duplicate level %q", code)
		}
		seen[code] = true
		found := false
		for _, l := range Levels {
			if l.Code == code {
				out = append(out, l)
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Wrapf(ErrInvalidParams, "deficit: unknown level %q", code)
		}
	}
	return out, nil
}

// column returns a named column, rejecting missing values.
func column(t *model.Table, name string) ([]float64, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, eris.Wrapf(model.ErrUnknownFeature, "deficit: column %q", name)
	}
	for _, v := range col {
		if math.IsNaN(v) {
			return nil, eris.Wrapf(model.ErrMissingFeatureData, "deficit: column %q", name)
		}
	}
	return col, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Summarize computes the extent-wide figures of each level in t. An empty
// codes list selects every level. Existing rooms are the cell room counts
// split by level share and rounded up over the extent.
func Summarize(t *model.Table, codes []string) ([]Summary, error) {
	if t == nil || t.Len() == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "deficit: no cells")
	}
	levels, err := lookup(codes)
	if err != nil {
		return nil, err
	}
	rooms, err := column(t, RoomsColumn)
	if err != nil {
		return nil, err
	}
	var night []float64
	for _, l := range levels {
		if l.NightShift {
			if night, err = column(t, NightEnrollmentColumn); err != nil {
				return nil, err
			}
			break
		}
	}

	out := make([]Summary, len(levels))
	for i, l := range levels {
		mat, err := column(t, EnrollmentColumn(l.Code))
		if err != nil {
			return nil, err
		}
		full, err := column(t, FullTimeColumn(l.Code))
		if err != nil {
			return nil, err
		}
		share, err := column(t, ShareColumn(l.Code))
		if err != nil {
			return nil, err
		}

		var students, fullTime, nightStudents, existing float64
		for r := range mat {
			students += mat[r]
			fullTime += full[r]
			existing += rooms[r] * share[r]
			if l.NightShift {
				nightStudents += night[r] * share[r]
			}
		}
		p := Params{
			Level:         l.Code,
			Students:      students,
			FullTimeShare: ratio(fullTime, students),
			NightShare:    ratio(nightStudents, students),
			SeatsPerRoom:  l.SeatsPerRoom,
		}
		out[i] = summarize(p, math.Ceil(existing))
	}
	return out, nil
}

// Apply overrides summaries by level code and recomputes their room counts.
// Existing rooms are never overridden.
func Apply(sums []Summary, overrides map[string]Override) ([]Summary, error) {
	index := make(map[string]int, len(sums))
	for i, s := range sums {
		index[s.Level] = i
	}
	out := append([]Summary(nil), sums...)
	for code, ov := range overrides {
		i, ok := index[strings.ToUpper(code)]
		if !ok {
			return nil, eris.Wrapf(ErrInvalidParams, "deficit: override for unselected level %q", code)
		}
		p := out[i].Params
		if ov.Students != nil {
			p.Students = *ov.Students
		}
		if ov.FullTimeShare != nil {
			p.FullTimeShare = *ov.FullTimeShare
		}
		if ov.NightShare != nil {
			p.NightShare = *ov.NightShare
		}
		if ov.SeatsPerRoom != nil {
			p.SeatsPerRoom = *ov.SeatsPerRoom
		}
		out[i] = summarize(p, out[i].RoomsExisting)
	}
	for _, s := range out {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Estimate returns a copy of t with the needed, existing and extra room
// columns of every level in params, plus TotalExtraColumn. A cell receives
// the level's students in proportion to its own enrollment.
func Estimate(t *model.Table, params []Params) (*model.Table, error) {
	if t == nil || t.Len() == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "deficit: no cells")
	}
	if len(params) == 0 {
		return nil, eris.Wrap(ErrInvalidParams, "deficit: no levels")
	}
	rooms, err := column(t, RoomsColumn)
	if err != nil {
		return nil, err
	}

	out := t
	total := make([]float64, t.Len())
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		mat, err := column(t, EnrollmentColumn(p.Level))
		if err != nil {
			return nil, err
		}
		share, err := column(t, ShareColumn(p.Level))
		if err != nil {
			return nil, err
		}
		var enrolled float64
		for _, v := range mat {
			enrolled += v
		}

		needed := make([]float64, t.Len())
		existing := make([]float64, t.Len())
		extra := make([]float64, t.Len())
		for i := range mat {
			cell := p
			cell.Students = ratio(mat[i]*p.Students, enrolled)
			needed[i] = cell.Seats() / p.SeatsPerRoom
			existing[i] = rooms[i] * share[i]
			extra[i] = extraRooms(needed[i], existing[i])
			total[i] += extra[i]
		}
		if out, err = withColumns(out,
			namedColumn{NeededColumn(p.Level), needed},
			namedColumn{ExistingColumn(p.Level), existing},
			namedColumn{ExtraColumn(p.Level), extra},
		); err != nil {
			return nil, err
		}
	}
	return withColumns(out, namedColumn{TotalExtraColumn, total})
}

type namedColumn struct {
	name   string
	values []float64
}

func withColumns(t *model.Table, cols ...namedColumn) (*model.Table, error) {
	var err error
	for _, c := range cols {
		if t, err = t.WithColumn(c.name, c.values); err != nil {
			return nil, eris.Wrapf(err, "deficit: column %q", c.name)
		}
	}
	return t, nil
}

// Shortfall keeps the cells that lack at least one room. The result may be
// empty.
func Shortfall(t *model.Table) (*model.Table, error) {
	total, ok := t.Column(TotalExtraColumn)
	if !ok {
		return nil, eris.Wrapf(model.ErrUnknownFeature, "deficit: column %q", TotalExtraColumn)
	}
	keep := make([]model.CellID, 0, len(total))
	for i, v := range total {
		if v > 0 {
			keep = append(keep, t.ID(i))
		}
	}
	return t.Subset(keep)
}

// Fields lists the summable output columns of params: the extra rooms of
// each level and the total.
func Fields(params []Params) []string {
	out := make([]string, 0, len(params)+1)
	for _, p := range params {
		out = append(out, ExtraColumn(p.Level))
	}
	return append(out, TotalExtraColumn)
}

// Request selects levels, overrides and the output extent of Run.
type Request struct {
	Levels    []string
	Overrides map[string]Override
	// KeepZero keeps cells that lack no rooms.
	KeepZero bool
	// Resolution, when set and coarser than the table, rolls the extra
	// room columns up to that resolution.
	Resolution *int
}

// Result is the outcome of Run. Boundaries is set only after a roll-up.
type Result struct {
	Summary    []Summary
	Table      *model.Table
	Boundaries map[model.CellID]orb.Polygon
}

// Params returns the per-level parameters of the summary.
func (r *Result) Params() []Params {
	out := make([]Params, len(r.Summary))
	for i, s := range r.Summary {
		out[i] = s.Params
	}
	return out
}

// Run summarizes t, applies overrides, estimates every cell and optionally
// drops cells without a shortfall and rolls the rest up.
func Run(ctx context.Context, grid hexgrid.Grid, t *model.Table, req Request) (*Result, error) {
	sums, err := Summarize(t, req.Levels)
	if err != nil {
		return nil, err
	}
	if sums, err = Apply(sums, req.Overrides); err != nil {
		return nil, err
	}
	res := &Result{Summary: sums}

	table, err := Estimate(t, res.Params())
	if err != nil {
		return nil, err
	}
	if !req.KeepZero {
		if table, err = Shortfall(table); err != nil {
			return nil, err
		}
	}
	res.Table = table

	if req.Resolution != nil && *req.Resolution != table.Resolution() && table.Len() > 0 {
		agg, err := aggregate.Aggregate(ctx, grid, table, *req.Resolution, Fields(res.Params()))
		if err != nil {
			return nil, eris.Wrap(err, "deficit: roll up")
		}
		res.Table, res.Boundaries = agg.Table, agg.Boundaries
	}
	zap.L().Debug("deficit: estimated",
		zap.Int("cells", res.Table.Len()),
		zap.Int("resolution", res.Table.Resolution()),
	)
	return res, nil
}
