package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hexspot/internal/aggregate"
	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/fetcher"
	"github.com/sells-group/hexspot/internal/hexgrid"
)

var (
	aggregateInput      string
	aggregateResolution int
	aggregateFields     []string
	aggregateOut        string
	aggregateFormat     string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Sum cell fields up to a coarser resolution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		grid := hexgrid.NewH3()

		format, err := outputFormat(aggregateOut, aggregateFormat)
		if err != nil {
			return err
		}
		table, err := dataset.Load(ctx, fetcher.NewOpener(cfg.Fetch.Options()), aggregateInput, grid, cfg.Input.Options())
		if err != nil {
			return eris.Wrap(err, "aggregate: load input")
		}
		res, err := aggregate.Aggregate(ctx, grid, table, aggregateResolution, aggregateFields)
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}
		return writeTable(aggregateOut, format, dataset.Boundaries(res.Boundaries), res.Table, nil)
	},
}

func init() {
	f := aggregateCmd.Flags()
	f.StringVarP(&aggregateInput, "input", "i", "", "cell dataset: path or http(s)/ftp URL (csv or xlsx)")
	f.IntVarP(&aggregateResolution, "resolution", "r", 0, "target resolution, coarser than the input")
	f.StringSliceVar(&aggregateFields, "fields", nil, "fields to sum (default all)")
	f.StringVarP(&aggregateOut, "out", "o", "", "output path (default stdout)")
	f.StringVar(&aggregateFormat, "format", "", "output format: csv, geojson, xlsx or shp (default from --out extension)")
	_ = aggregateCmd.MarkFlagRequired("input")
	_ = aggregateCmd.MarkFlagRequired("resolution")
	rootCmd.AddCommand(aggregateCmd)
}
