// Package store persists completed hotspot analyses and their per-cell
// results.
package store

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// Run is the summary row of one persisted analysis.
type Run struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Resolution   int            `json:"resolution"`
	K            int            `json:"k"`
	Significance float64        `json:"significance"`
	Permutations int            `json:"permutations"`
	Seed         uint64         `json:"seed"`
	Families     []string       `json:"families"`
	Counts       map[string]int `json:"counts,omitempty"`
	CellCount    int            `json:"cell_count"`
	DurationMS   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CellResult is one persisted cell. NaN values are not stored.
type CellResult struct {
	CellID   model.CellID       `json:"cell_id"`
	Label    string             `json:"label,omitempty"`
	Values   map[string]float64 `json:"values"`
	Boundary orb.Polygon        `json:"-"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

// Store defines the persistence interface for analysis runs.
type Store interface {
	// SaveRun writes the run and its cells atomically. An empty run ID is
	// filled in.
	SaveRun(ctx context.Context, run *Run, cells []CellResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	// ListCells returns the cells of a run ordered by cell id.
	ListCells(ctx context.Context, runID string) ([]CellResult, error)
	DeleteRun(ctx context.Context, id string) error

	Migrate(ctx context.Context) error
	Close() error
}

// FromResult flattens an analysis result into a run and its cells. Cell
// boundaries come from grid.
func FromResult(grid hexgrid.Grid, res *pipeline.Result) (*Run, []CellResult, error) {
	if res == nil || res.Table == nil {
		return nil, nil, eris.New("store: nil result")
	}
	t := res.Table
	run := &Run{
		Name:         res.Name,
		Resolution:   t.Resolution(),
		K:            res.Options.K,
		Significance: res.Options.Significance,
		Permutations: res.Options.Permutations,
		Seed:         res.Options.Seed,
		Families:     res.Families(),
		CellCount:    t.Len(),
		DurationMS:   res.Duration.Milliseconds(),
	}
	if res.Labels != nil {
		run.Counts = make(map[string]int, len(res.Counts))
		for l, n := range res.Counts {
			run.Counts[string(l)] = n
		}
	}

	cols := t.Columns()
	values := make([][]float64, len(cols))
	for i, name := range cols {
		values[i], _ = t.Column(name)
	}

	cells := make([]CellResult, t.Len())
	for i := range cells {
		id := t.ID(i)
		b, err := grid.Boundary(id)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "store: boundary of %s", id)
		}
		c := CellResult{CellID: id, Boundary: b, Values: make(map[string]float64, len(cols))}
		for j, name := range cols {
			if v := values[j][i]; !math.IsNaN(v) {
				c.Values[name] = v
			}
		}
		if res.Labels != nil {
			c.Label = string(res.Labels[i])
		}
		cells[i] = c
	}
	return run, cells, nil
}

// ToTable rebuilds a table from persisted cells. Missing values become NaN.
func ToTable(resolution int, cells []CellResult) (*model.Table, []model.ClusterLabel, error) {
	ids := make([]model.CellID, len(cells))
	names := map[string]bool{}
	labeled := false
	for i, c := range cells {
		ids[i] = c.CellID
		for name := range c.Values {
			names[name] = true
		}
		if c.Label != "" {
			labeled = true
		}
	}
	t, err := model.NewTable(resolution, ids)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: rebuild table")
	}

	cols := make([]string, 0, len(names))
	for name := range names {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	for _, name := range cols {
		vals := make([]float64, len(cells))
		for i, c := range cells {
			v, ok := c.Values[name]
			if !ok {
				v = math.NaN()
			}
			vals[i] = v
		}
		if t, err = t.WithColumn(name, vals); err != nil {
			return nil, nil, eris.Wrap(err, "store: rebuild table")
		}
	}

	var labels []model.ClusterLabel
	if labeled {
		labels = make([]model.ClusterLabel, len(cells))
		for i, c := range cells {
			labels[i] = model.ClusterLabel(c.Label)
		}
	}
	return t, labels, nil
}

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
