// Package api serves hotspot analyses, aggregation and stored runs over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/hexspot/internal/cache"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/metrics"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

// Options configures the HTTP surface.
type Options struct {
	RequestsPerSec float64
	Burst          int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	grid     hexgrid.Grid
	analyzer *pipeline.Analyzer
	presets  []model.Family
	store    store.Store
	cache    cache.Cache
	opts     Options
}

// New creates a Server. A nil store disables the run endpoints; a nil cache
// disables caching.
func New(grid hexgrid.Grid, analyzer *pipeline.Analyzer, presets []model.Family, st store.Store, c cache.Cache, opts Options) *Server {
	if c == nil {
		c = cache.Nop{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	return &Server{
		grid:     grid,
		analyzer: analyzer,
		presets:  presets,
		store:    st,
		cache:    c,
		opts:     opts,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Cache"},
		MaxAge:         300,
	}))
	r.Use(observe)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.opts.RequestsPerSec > 0 {
			v1.Use(newIPLimiter(s.opts.RequestsPerSec, s.opts.Burst).Handler)
		}
		v1.Get("/families", s.families)
		v1.Post("/analyze", s.analyze)
		v1.Post("/aggregate", s.aggregate)
		v1.Post("/deficit", s.deficit)

		v1.Route("/runs", func(runs chi.Router) {
			runs.Use(s.requireStore)
			runs.Get("/", s.listRuns)
			runs.Route("/{runID}", func(item chi.Router) {
				item.Get("/", s.getRun)
				item.Delete("/", s.deleteRun)
				item.Get("/cells", s.listCells)
			})
		})
	})
	return r
}

func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			writeMessage(w, http.StatusServiceUnavailable, "run storage is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
