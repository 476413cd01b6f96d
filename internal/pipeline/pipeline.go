// Package pipeline orchestrates one hotspot analysis: composite indices,
// neighbor graph, Local G* and quadrant classification.
package pipeline

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hexspot/internal/cluster"
	"github.com/sells-group/hexspot/internal/gstar"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/index"
	"github.com/sells-group/hexspot/internal/model"
)

// Derived column suffixes. A family "capacity" yields capacity_index,
// capacity_z and capacity_p.
const (
	IndexSuffix = "_index"
	ZSuffix     = "_z"
	PSuffix     = "_p"
)

// IndexColumn returns the composite index column of a family.
func IndexColumn(family string) string { return family + IndexSuffix }

// ZColumn returns the z-score column of a family.
func ZColumn(family string) string { return family + ZSuffix }

// PColumn returns the p-value column of a family.
func PColumn(family string) string { return family + PSuffix }

// ErrInvalidRequest marks option or family selection errors caught before
// any computation.
var ErrInvalidRequest = eris.New("invalid analysis request")

// Options are the analysis parameters.
type Options struct {
	K            int     `json:"k" mapstructure:"k"`
	Significance float64 `json:"significance" mapstructure:"significance"`
	Permutations int     `json:"permutations" mapstructure:"permutations"`
	Seed         uint64  `json:"seed" mapstructure:"seed"`
}

// DefaultOptions returns k=3 rings at the 0.05 level with analytic p-values.
func DefaultOptions() Options {
	return Options{
		K:            hexgrid.DefaultHotspotK,
		Significance: cluster.DefaultSignificance,
		Seed:         1,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.K < 0 {
		return eris.Wrapf(ErrInvalidRequest, "pipeline: ring radius %d must be >= 0", o.K)
	}
	if o.Significance <= 0 || o.Significance > 1 {
		return eris.Wrapf(ErrInvalidRequest, "pipeline: significance %v outside (0, 1]", o.Significance)
	}
	if o.Permutations < 0 {
		return eris.Wrapf(ErrInvalidRequest, "pipeline: permutations %d must be >= 0", o.Permutations)
	}
	return nil
}

// merge fills unset fields of o from def.
func (o Options) merge(def Options) Options {
	if o.K == 0 {
		o.K = def.K
	}
	if o.Significance == 0 {
		o.Significance = def.Significance
	}
	if o.Permutations == 0 {
		o.Permutations = def.Permutations
	}
	if o.Seed == 0 {
		o.Seed = def.Seed
	}
	return o
}

// Overrides set options explicitly. A nil field keeps the resolved value;
// a set field wins even when it is zero, so permutations 0 selects analytic
// p-values and seed 0 is a seed like any other.
type Overrides struct {
	K            *int     `json:"k,omitempty"`
	Significance *float64 `json:"significance,omitempty"`
	Permutations *int     `json:"permutations,omitempty"`
	Seed         *uint64  `json:"seed,omitempty"`
}

func (o Options) apply(ov *Overrides) Options {
	if ov == nil {
		return o
	}
	if ov.K != nil {
		o.K = *ov.K
	}
	if ov.Significance != nil {
		o.Significance = *ov.Significance
	}
	if ov.Permutations != nil {
		o.Permutations = *ov.Permutations
	}
	if ov.Seed != nil {
		o.Seed = *ov.Seed
	}
	return o
}

// Request is one analysis over a table snapshot. Zero-valued Options fields
// fall back to the analyzer's defaults; Overrides are applied last.
type Request struct {
	Name      string
	Table     *model.Table
	Families  []model.Family
	Options   Options
	Overrides *Overrides

	// Region, when set, clips the table to cells whose centers fall inside
	// the polygon. Otherwise Bound, when set, clips to the bounding box
	// padded by Buffer degrees.
	Region orb.Geometry
	Bound  *orb.Bound
	Buffer float64
}

// Result is the outcome of one analysis. Table is a new table holding the
// input columns plus the derived index, z and p columns of each family.
type Result struct {
	Name       string
	Table      *model.Table
	Options    Options
	Composites []*index.Composite
	Stats      map[string]*gstar.Result
	// Labels and Counts are set only for two-family analyses.
	Labels   []model.ClusterLabel
	Counts   cluster.Counts
	Duration time.Duration
}

// Families returns the family names in request order.
func (r *Result) Families() []string {
	out := make([]string, len(r.Composites))
	for i, c := range r.Composites {
		out[i] = c.Family
	}
	return out
}

// Analyzer runs analyses against a grid. It holds no per-run state and is
// safe for concurrent use.
type Analyzer struct {
	grid hexgrid.Grid
	opts Options
}

// New creates an Analyzer. Unset opts fields fall back to DefaultOptions.
func New(grid hexgrid.Grid, opts Options) *Analyzer {
	return &Analyzer{grid: grid, opts: opts.merge(DefaultOptions())}
}

// Options returns the analyzer's defaults.
func (a *Analyzer) Options() Options { return a.opts }

// Run executes normalize, composite, graph, G* and (for two families)
// classify. The request table is never modified.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("analysis", req.Name))

	opts := req.Options.merge(a.opts).apply(req.Overrides)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if req.Table == nil || req.Table.Len() == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "pipeline: no cells")
	}
	if n := len(req.Families); n < 1 || n > 2 {
		return nil, eris.Wrapf(ErrInvalidRequest, "pipeline: need one or two families, got %d", n)
	}
	if len(req.Families) == 2 && req.Families[0].Name == req.Families[1].Name {
		return nil, eris.Wrapf(ErrInvalidRequest, "pipeline: duplicate family %q", req.Families[0].Name)
	}

	table := req.Table
	if req.Region != nil || req.Bound != nil {
		var err error
		if req.Region != nil {
			table, err = hexgrid.Within(a.grid, table, req.Region)
		} else {
			table, err = hexgrid.Clip(a.grid, table, *req.Bound, req.Buffer)
		}
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: clip extent")
		}
		log.Debug("pipeline: clipped extent", zap.Int("cells", table.Len()))
	}

	res := &Result{
		Name:    req.Name,
		Options: opts,
		Stats:   make(map[string]*gstar.Result, len(req.Families)),
	}
	for _, fam := range req.Families {
		c, err := index.Build(table, fam)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: composite %q", fam.Name)
		}
		res.Composites = append(res.Composites, c)
	}

	graph, err := hexgrid.BuildGraph(ctx, a.grid, table.IDs(), opts.K)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: neighbor graph")
	}
	log.Debug("pipeline: graph built", zap.Int("cells", graph.Len()), zap.Int("k", opts.K))

	for _, c := range res.Composites {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: cancelled")
		}
		st, err := gstar.Local(c.Scores, graph, gstar.Options{Permutations: opts.Permutations, Seed: opts.Seed})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: local G* for %q", c.Family)
		}
		res.Stats[c.Family] = st

		if table, err = withDerived(table, c, st); err != nil {
			return nil, err
		}
	}

	if len(res.Composites) == 2 {
		first, second := res.Stats[res.Composites[0].Family], res.Stats[res.Composites[1].Family]
		if res.Labels, err = cluster.Classify(first, second, opts.Significance); err != nil {
			return nil, eris.Wrap(err, "pipeline: classify")
		}
		res.Counts = cluster.Count(res.Labels)
	}

	res.Table = table
	res.Duration = time.Since(start)
	log.Info("pipeline: analysis complete",
		zap.Int("cells", table.Len()),
		zap.Strings("families", res.Families()),
		zap.Int("significant", res.Counts.Significant()),
		zap.Int64("duration_ms", res.Duration.Milliseconds()),
	)
	return res, nil
}

func withDerived(t *model.Table, c *index.Composite, st *gstar.Result) (*model.Table, error) {
	cols := []struct {
		name   string
		values []float64
	}{
		{IndexColumn(c.Family), c.Scores},
		{ZColumn(c.Family), st.Z},
		{PColumn(c.Family), st.P},
	}
	var err error
	for _, col := range cols {
		if t, err = t.WithColumn(col.name, col.values); err != nil {
			return nil, eris.Wrapf(err, "pipeline: derived column %s", col.name)
		}
	}
	return t, nil
}

// RunMany executes independent analyses in parallel, at most concurrency at
// a time. Results are in request order. The first failure cancels the rest.
func (a *Analyzer) RunMany(ctx context.Context, reqs []Request, concurrency int) ([]*Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := a.Run(gctx, req)
			if err != nil {
				return eris.Wrapf(err, "pipeline: analysis %q", req.Name)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: batch complete", zap.Int("analyses", len(reqs)), zap.Int("concurrency", concurrency))
	return results, nil
}
