package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/config"
	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/fetcher"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

var (
	analyzeInput        string
	analyzeName         string
	analyzeFamilies     []string
	analyzeFamiliesFile string
	analyzeK            int
	analyzeSignificance float64
	analyzePermutations int
	analyzeSeed         uint64
	analyzeBBox         string
	analyzeBuffer       float64
	analyzeRegions      string
	analyzeRegionProp   string
	analyzeRegionNames  []string
	analyzeOut          string
	analyzeFormat       string
	analyzeSave         bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a hotspot analysis over a cell dataset",
	Long: `Loads a cell table (CSV or XLSX, local or http/ftp), builds one composite
index per family, runs Local G* and, for two families, labels each cell
HH, HL, LH, LL or N. With --regions every region is analyzed in parallel.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		grid := hexgrid.NewH3()

		fams, err := selectFamilies(cfg.Families, analyzeFamiliesFile, analyzeFamilies)
		if err != nil {
			return err
		}
		format, err := outputFormat(analyzeOut, analyzeFormat)
		if err != nil {
			return err
		}
		if err := checkRegionOutput(analyzeRegions, analyzeOut); err != nil {
			return err
		}

		opener := fetcher.NewOpener(cfg.Fetch.Options())
		table, err := dataset.Load(ctx, opener, analyzeInput, grid, cfg.Input.Options())
		if err != nil {
			return eris.Wrap(err, "analyze: load input")
		}

		var ov pipeline.Overrides
		flags := cmd.Flags()
		if flags.Changed("k") {
			ov.K = &analyzeK
		}
		if flags.Changed("significance") {
			ov.Significance = &analyzeSignificance
		}
		if flags.Changed("permutations") {
			ov.Permutations = &analyzePermutations
		}
		if flags.Changed("seed") {
			ov.Seed = &analyzeSeed
		}

		base := pipeline.Request{
			Name:      analyzeName,
			Table:     table,
			Families:  fams,
			Overrides: &ov,
			Buffer:    analyzeBuffer,
		}
		if base.Name == "" {
			name := path.Base(strings.SplitN(analyzeInput, "?", 2)[0])
			base.Name = strings.TrimSuffix(name, path.Ext(name))
		}
		if analyzeBBox != "" {
			if base.Bound, err = parseBBox(analyzeBBox); err != nil {
				return err
			}
		}

		reqs := []pipeline.Request{base}
		if analyzeRegions != "" {
			regions, err := dataset.OpenRegions(ctx, opener, analyzeRegions, analyzeRegionProp)
			if err != nil {
				return eris.Wrap(err, "analyze: load regions")
			}
			if reqs, err = regionRequests(base, regions, analyzeRegionNames); err != nil {
				return err
			}
		}

		analyzer := pipeline.New(grid, cfg.Analysis.Options())
		results, err := analyzer.RunMany(ctx, reqs, cfg.Analysis.Concurrency)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		var st store.Store
		if analyzeSave {
			if st, err = store.New(ctx, cfg.Store); err != nil {
				return eris.Wrap(err, "analyze: open store")
			}
			defer st.Close() //nolint:errcheck
		}

		for _, res := range results {
			out := analyzeOut
			if len(results) > 1 {
				out = suffixPath(analyzeOut, res.Name)
			}
			if err := writeTable(out, format, grid, res.Table, res.Labels); err != nil {
				return eris.Wrapf(err, "analyze: write %s", res.Name)
			}
			if st != nil {
				run, cells, err := store.FromResult(grid, res)
				if err != nil {
					return err
				}
				if err := st.SaveRun(ctx, run, cells); err != nil {
					return eris.Wrapf(err, "analyze: save %s", res.Name)
				}
				zap.L().Info("saved run", zap.String("run_id", run.ID), zap.String("name", res.Name))
			}
			if res.Labels != nil {
				formatCounts(os.Stderr, res)
			}
		}
		return nil
	},
}

// selectFamilies resolves --families names against the families file (when
// given) or the configured families. With no names the first two are used.
func selectFamilies(configured []model.Family, file string, names []string) ([]model.Family, error) {
	pool := configured
	if file != "" {
		loaded, err := config.LoadFamilies(file)
		if err != nil {
			return nil, err
		}
		pool = loaded
	}
	if len(names) == 0 {
		if len(pool) > 2 {
			return pool[:2], nil
		}
		return pool, nil
	}

	out := make([]model.Family, 0, len(names))
	for _, name := range names {
		found := false
		for _, f := range pool {
			if f.Name == name {
				out = append(out, f)
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Errorf("unknown family %q", name)
		}
	}
	return out, nil
}

// regionRequests expands base into one request per selected region. With
// no names every region is used.
func regionRequests(base pipeline.Request, regions dataset.Regions, names []string) ([]pipeline.Request, error) {
	if len(names) == 0 {
		names = regions.Names()
	}
	reqs := make([]pipeline.Request, 0, len(names))
	for _, name := range names {
		r, err := regions.Get(name)
		if err != nil {
			return nil, err
		}
		req := base
		req.Name = name
		req.Region = r.Geometry
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// checkRegionOutput rejects writing several region results to stdout.
func checkRegionOutput(regions, out string) error {
	if regions != "" && (out == "" || out == "-") {
		return eris.New("analyze: --regions writes one file per region and needs --out")
	}
	return nil
}

// formatCounts writes the per-label cell counts of a two-family result.
func formatCounts(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\t%d cells\n", res.Name, res.Table.Len())
	labels := make([]string, 0, len(res.Counts))
	for l := range res.Counts {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)
	for _, l := range labels {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", l, res.Counts[model.ClusterLabel(l)])
	}
	_ = w.Flush()
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeInput, "input", "i", "", "cell dataset: path or http(s)/ftp URL (csv or xlsx)")
	f.StringVar(&analyzeName, "name", "", "analysis name (default from input file name)")
	f.StringSliceVar(&analyzeFamilies, "families", nil, "family names to analyze, one or two (default first two configured)")
	f.StringVar(&analyzeFamiliesFile, "families-file", "", "YAML file with a families list")
	f.IntVarP(&analyzeK, "k", "k", 0, "neighborhood ring radius (default from config)")
	f.Float64Var(&analyzeSignificance, "significance", 0, "significance level (default from config)")
	f.IntVar(&analyzePermutations, "permutations", 0, "conditional permutations for p-values; 0 uses the normal approximation")
	f.Uint64Var(&analyzeSeed, "seed", 0, "permutation seed (default from config)")
	f.StringVar(&analyzeBBox, "bbox", "", "clip to minLon,minLat,maxLon,maxLat")
	f.Float64Var(&analyzeBuffer, "buffer", 0, "pad --bbox by this many degrees")
	f.StringVar(&analyzeRegions, "regions", "", "GeoJSON FeatureCollection of regions to analyze separately")
	f.StringVar(&analyzeRegionProp, "region-property", "name", "feature property naming each region")
	f.StringSliceVar(&analyzeRegionNames, "region", nil, "region names to analyze (default all)")
	f.StringVarP(&analyzeOut, "out", "o", "", "output path (default stdout)")
	f.StringVar(&analyzeFormat, "format", "", "output format: csv, geojson, xlsx or shp (default from --out extension)")
	f.BoolVar(&analyzeSave, "save", false, "persist results to the configured store")
	_ = analyzeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(analyzeCmd)
}
