package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/deficit"
	"github.com/sells-group/hexspot/internal/fetcher"
	"github.com/sells-group/hexspot/internal/hexgrid"
)

var (
	deficitInput      string
	deficitLevels     []string
	deficitStudents   map[string]string
	deficitFullTime   map[string]string
	deficitNight      map[string]string
	deficitSeats      map[string]string
	deficitResolution int
	deficitKeepZero   bool
	deficitBBox       string
	deficitOut        string
	deficitFormat     string
)

var deficitCmd = &cobra.Command{
	Use:   "deficit",
	Short: "Estimate the classrooms each cell lacks per education level",
	Long: `Reads per-cell enrollment (QT_MAT_<LEVEL>, QT_MAT_<LEVEL>_INT,
QT_MAT_<LEVEL>_PROP, QT_MAT_BAS_N) and rooms in use (QT_SALAS_UTILIZADAS),
prints the extent-wide totals per level and writes the needed, existing and
extra rooms of every cell. Levels: ` + strings.Join(deficit.LevelCodes(), ", ") + `.

Totals can be overridden per level, e.g. --students MED=12000 --seats INF_CRE=12.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		grid := hexgrid.NewH3()

		format, err := outputFormat(deficitOut, deficitFormat)
		if err != nil {
			return err
		}
		overrides, err := parseOverrides(deficitStudents, deficitFullTime, deficitNight, deficitSeats)
		if err != nil {
			return err
		}
		table, err := dataset.Load(ctx, fetcher.NewOpener(cfg.Fetch.Options()), deficitInput, grid, cfg.Input.Options())
		if err != nil {
			return eris.Wrap(err, "deficit: load input")
		}
		if deficitBBox != "" {
			bound, err := parseBBox(deficitBBox)
			if err != nil {
				return err
			}
			if table, err = hexgrid.Clip(grid, table, *bound, 0); err != nil {
				return eris.Wrap(err, "deficit: clip")
			}
		}

		req := deficit.Request{Levels: deficitLevels, Overrides: overrides, KeepZero: deficitKeepZero}
		if cmd.Flags().Changed("resolution") {
			req.Resolution = &deficitResolution
		}
		res, err := deficit.Run(ctx, grid, table, req)
		if err != nil {
			return eris.Wrap(err, "deficit")
		}
		formatSummary(os.Stderr, res.Summary)

		var bounds dataset.BoundaryProvider = grid
		if res.Boundaries != nil {
			bounds = dataset.Boundaries(res.Boundaries)
		}
		return writeTable(deficitOut, format, bounds, res.Table, nil)
	},
}

// parseOverrides turns LEVEL=value flags into per-level overrides.
func parseOverrides(students, fullTime, night, seats map[string]string) (map[string]deficit.Override, error) {
	out := make(map[string]deficit.Override)
	set := func(flag string, values map[string]string, field func(*deficit.Override, *float64)) error {
		for level, raw := range values {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return eris.Wrapf(err, "--%s %s=%q", flag, level, raw)
			}
			level = strings.ToUpper(strings.TrimSpace(level))
			ov := out[level]
			field(&ov, &v)
			out[level] = ov
		}
		return nil
	}
	if err := set("students", students, func(o *deficit.Override, v *float64) { o.Students = v }); err != nil {
		return nil, err
	}
	if err := set("full-time", fullTime, func(o *deficit.Override, v *float64) { o.FullTimeShare = v }); err != nil {
		return nil, err
	}
	if err := set("night", night, func(o *deficit.Override, v *float64) { o.NightShare = v }); err != nil {
		return nil, err
	}
	if err := set("seats", seats, func(o *deficit.Override, v *float64) { o.SeatsPerRoom = v }); err != nil {
		return nil, err
	}
	return out, nil
}

// formatSummary writes the extent-wide totals, one level per row.
func formatSummary(out io.Writer, sums []deficit.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(w, "LEVEL\tSTUDENTS\tFULL TIME\tNIGHT\tSEATS/ROOM\tNEEDED\tEXISTING\tEXTRA\t")
	var extra float64
	for _, s := range sums {
		_, _ = fmt.Fprintf(w, "%s\t%.0f\t%.1f%%\t%.1f%%\t%.0f\t%.0f\t%.0f\t%.0f\t\n",
			s.Level, s.Students, s.FullTimeShare*100, s.NightShare*100, s.SeatsPerRoom,
			s.RoomsNeeded, s.RoomsExisting, s.ExtraRooms)
		extra += s.ExtraRooms
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t\t\t\t\t\t\t%.0f\t\n", extra)
	_ = w.Flush()
}

func init() {
	f := deficitCmd.Flags()
	f.StringVarP(&deficitInput, "input", "i", "", "cell dataset: path or http(s)/ftp URL (csv or xlsx)")
	f.StringSliceVar(&deficitLevels, "levels", nil, "education levels to estimate (default all)")
	f.StringToStringVar(&deficitStudents, "students", nil, "override enrolled students, LEVEL=count")
	f.StringToStringVar(&deficitFullTime, "full-time", nil, "override the full-time share, LEVEL=fraction")
	f.StringToStringVar(&deficitNight, "night", nil, "override the night share, LEVEL=fraction")
	f.StringToStringVar(&deficitSeats, "seats", nil, "override seats per room, LEVEL=count")
	f.IntVarP(&deficitResolution, "resolution", "r", 0, "roll extra rooms up to this coarser resolution")
	f.BoolVar(&deficitKeepZero, "keep-zero", false, "keep cells that lack no rooms")
	f.StringVar(&deficitBBox, "bbox", "", "clip to minLon,minLat,maxLon,maxLat")
	f.StringVarP(&deficitOut, "out", "o", "", "output path (default stdout)")
	f.StringVar(&deficitFormat, "format", "", "output format: csv, geojson, xlsx or shp (default from --out extension)")
	_ = deficitCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(deficitCmd)
}
