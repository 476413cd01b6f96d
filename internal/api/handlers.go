package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/aggregate"
	"github.com/sells-group/hexspot/internal/cache"
	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/deficit"
	"github.com/sells-group/hexspot/internal/metrics"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

// FormatGeoJSON selects a GeoJSON FeatureCollection response.
const FormatGeoJSON = "geojson"

// AnalyzeRequest is the body of POST /v1/analyze. Families may be given
// inline or by preset name; inline families come first.
type AnalyzeRequest struct {
	Name        string           `json:"name"`
	Cells       []dataset.Record `json:"cells"`
	Families    []model.Family   `json:"families,omitempty"`
	Presets     []string         `json:"presets,omitempty"`
	FillMissing bool             `json:"fill_missing,omitempty"`

	// Options override the server defaults field by field; an explicit
	// zero is kept.
	Options pipeline.Overrides `json:"options"`

	// BBox is [minLon, minLat, maxLon, maxLat]; Buffer pads it in degrees.
	BBox   []float64 `json:"bbox,omitempty"`
	Buffer float64   `json:"buffer,omitempty"`
	// Region is a GeoJSON Polygon or MultiPolygon and wins over BBox.
	Region json.RawMessage `json:"region,omitempty"`

	Save bool `json:"save,omitempty"`
}

// AnalyzeResponse is the JSON result of an analysis.
type AnalyzeResponse struct {
	RunID      string           `json:"run_id,omitempty"`
	Name       string           `json:"name"`
	Families   []string         `json:"families"`
	Options    pipeline.Options `json:"options"`
	Counts     map[string]int   `json:"counts,omitempty"`
	Cells      []dataset.Record `json:"cells"`
	DurationMS int64            `json:"duration_ms"`
}

// AggregateRequest is the body of POST /v1/aggregate.
type AggregateRequest struct {
	Cells            []dataset.Record `json:"cells"`
	TargetResolution int              `json:"target_resolution"`
	Fields           []string         `json:"fields,omitempty"`
	FillMissing      bool             `json:"fill_missing,omitempty"`
}

// AggregateResponse is the JSON result of an aggregation.
type AggregateResponse struct {
	Resolution int              `json:"resolution"`
	Cells      []dataset.Record `json:"cells"`
}

// DeficitRequest is the body of POST /v1/deficit.
type DeficitRequest struct {
	Cells            []dataset.Record            `json:"cells"`
	Levels           []string                    `json:"levels,omitempty"`
	Overrides        map[string]deficit.Override `json:"overrides,omitempty"`
	TargetResolution *int                        `json:"target_resolution,omitempty"`
	KeepZero         bool                        `json:"keep_zero,omitempty"`
	FillMissing      bool                        `json:"fill_missing,omitempty"`
}

// DeficitResponse holds the per-level totals and the estimated cells.
type DeficitResponse struct {
	Summary    []deficit.Summary `json:"summary"`
	Resolution int               `json:"resolution"`
	Cells      []dataset.Record  `json:"cells"`
}

// RunResponse is a stored run, optionally with its cells.
type RunResponse struct {
	*store.Run
	Cells []dataset.Record `json:"cells,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) families(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.presets)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(errBadRequest, "read body: "+err.Error())
	}
	return body, nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(errBadRequest, "decode body: "+err.Error())
	}
	return nil
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req AnalyzeRequest
	if err := decode(body, &req); err != nil {
		writeError(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")

	var key string
	if !req.Save {
		key = cache.Key(append([]byte(format+"\n"), body...))
		cached, hit, err := s.cache.Get(r.Context(), key)
		if err != nil && !errors.Is(err, cache.ErrBreakerOpen) {
			zap.L().Warn("api: cache get failed", zap.Error(err))
		}
		metrics.ObserveCache(hit)
		if hit {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", contentType(format))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
		w.Header().Set("X-Cache", "MISS")
	}

	preq, err := s.pipelineRequest(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := s.analyzer.Run(r.Context(), preq)
	if err != nil {
		metrics.ObserveAnalysis(time.Since(start), 0, nil, err)
		writeError(w, r, err)
		return
	}

	resp := AnalyzeResponse{
		Name:       res.Name,
		Families:   res.Families(),
		Options:    res.Options,
		Cells:      dataset.ToRecords(res.Table, res.Labels),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Labels != nil {
		resp.Counts = make(map[string]int, len(res.Counts))
		for l, n := range res.Counts {
			resp.Counts[string(l)] = n
		}
	}
	metrics.ObserveAnalysis(res.Duration, res.Table.Len(), resp.Counts, nil)

	if req.Save {
		if s.store == nil {
			writeMessage(w, http.StatusServiceUnavailable, "run storage is not configured")
			return
		}
		run, cells, err := store.FromResult(s.grid, res)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.store.SaveRun(r.Context(), run, cells); err != nil {
			writeError(w, r, err)
			return
		}
		resp.RunID = run.ID
	}

	var out []byte
	if format == FormatGeoJSON {
		fc, err := dataset.FeatureCollection(s.grid, res.Table, res.Labels)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out, err = fc.MarshalJSON()
		if err != nil {
			writeError(w, r, err)
			return
		}
	} else if out, err = json.Marshal(resp); err != nil {
		writeError(w, r, err)
		return
	}

	if key != "" {
		if err := s.cache.Set(r.Context(), key, out); err != nil && !errors.Is(err, cache.ErrBreakerOpen) {
			zap.L().Warn("api: cache set failed", zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", contentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func contentType(format string) string {
	if format == FormatGeoJSON {
		return "application/geo+json"
	}
	return "application/json"
}

// pipelineRequest resolves presets, the extent filter and the cell table.
func (s *Server) pipelineRequest(req AnalyzeRequest) (pipeline.Request, error) {
	fams := append([]model.Family(nil), req.Families...)
	for _, name := range req.Presets {
		f, ok := s.preset(name)
		if !ok {
			return pipeline.Request{}, eris.Wrapf(errBadRequest, "unknown preset %q", name)
		}
		fams = append(fams, f)
	}

	t, err := dataset.FromRecords(req.Cells, s.grid, dataset.Options{FillMissing: req.FillMissing})
	if err != nil {
		return pipeline.Request{}, err
	}
	preq := pipeline.Request{
		Name:      req.Name,
		Table:     t,
		Families:  fams,
		Overrides: &req.Options,
		Buffer:    req.Buffer,
	}
	switch {
	case len(req.Region) > 0:
		g, err := geojson.UnmarshalGeometry(req.Region)
		if err != nil {
			return pipeline.Request{}, eris.Wrap(errBadRequest, "region: "+err.Error())
		}
		switch geom := g.Geometry().(type) {
		case orb.Polygon, orb.MultiPolygon:
			preq.Region = geom
		default:
			return pipeline.Request{}, eris.Wrapf(errBadRequest, "region must be a Polygon or MultiPolygon, got %s", geom.GeoJSONType())
		}
	case len(req.BBox) > 0:
		if len(req.BBox) != 4 {
			return pipeline.Request{}, eris.Wrapf(errBadRequest, "bbox needs 4 numbers, got %d", len(req.BBox))
		}
		preq.Bound = &orb.Bound{
			Min: orb.Point{req.BBox[0], req.BBox[1]},
			Max: orb.Point{req.BBox[2], req.BBox[3]},
		}
	}
	return preq, nil
}

func (s *Server) preset(name string) (model.Family, bool) {
	for _, f := range s.presets {
		if f.Name == name {
			return f, true
		}
	}
	return model.Family{}, false
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req AggregateRequest
	if err := decode(body, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := dataset.FromRecords(req.Cells, s.grid, dataset.Options{FillMissing: req.FillMissing})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := aggregate.Aggregate(r.Context(), s.grid, t, req.TargetResolution, req.Fields)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == FormatGeoJSON {
		fc, err := dataset.FeatureCollection(dataset.Boundaries(res.Boundaries), res.Table, nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeGeoJSON(w, fc)
		return
	}
	writeJSON(w, http.StatusOK, AggregateResponse{
		Resolution: res.Table.Resolution(),
		Cells:      dataset.ToRecords(res.Table, nil),
	})
}

func (s *Server) deficit(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req DeficitRequest
	if err := decode(body, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := dataset.FromRecords(req.Cells, s.grid, dataset.Options{FillMissing: req.FillMissing})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := deficit.Run(r.Context(), s.grid, t, deficit.Request{
		Levels:     req.Levels,
		Overrides:  req.Overrides,
		KeepZero:   req.KeepZero,
		Resolution: req.TargetResolution,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == FormatGeoJSON {
		var bounds dataset.BoundaryProvider = s.grid
		if res.Boundaries != nil {
			bounds = dataset.Boundaries(res.Boundaries)
		}
		fc, err := dataset.FeatureCollection(bounds, res.Table, nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeGeoJSON(w, fc)
		return
	}
	writeJSON(w, http.StatusOK, DeficitResponse{
		Summary:    res.Summary,
		Resolution: res.Table.Resolution(),
		Cells:      dataset.ToRecords(res.Table, nil),
	})
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	w.Header().Set("Content-Type", contentType(FormatGeoJSON))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(fc)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Name: q.Get("name")}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, r, eris.Wrapf(errBadRequest, "limit %q", v))
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, r, eris.Wrapf(errBadRequest, "offset %q", v))
			return
		}
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCells(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cells, err := s.store.ListCells(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, labels, err := store.ToTable(run.Resolution, cells)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == FormatGeoJSON {
		bounds := make(dataset.Boundaries, len(cells))
		for _, c := range cells {
			bounds[c.CellID] = c.Boundary
		}
		fc, err := dataset.FeatureCollection(bounds, t, labels)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeGeoJSON(w, fc)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Cells: dataset.ToRecords(t, labels)})
}
