// Package metrics exposes Prometheus collectors for analyses, the result
// cache and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexspot_analyses_total",
		Help: "Total analyses by outcome",
	}, []string{"outcome"})
	AnalysisDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hexspot_analysis_duration_ms",
		Help:    "Analysis duration in milliseconds",
		Buckets: []float64{5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	})
	AnalysisCells = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hexspot_analysis_cells",
		Help:    "Cells per analysis",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})
	ClusterCellsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexspot_cluster_cells_total",
		Help: "Classified cells by cluster label",
	}, []string{"label"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexspot_cache_hits_total",
		Help: "Total result cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexspot_cache_misses_total",
		Help: "Total result cache misses",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexspot_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hexspot_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		AnalysesTotal,
		AnalysisDurationMs,
		AnalysisCells,
		ClusterCellsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		HTTPRequestsTotal,
		HTTPDurationMs,
	)
}

// ObserveAnalysis records one finished analysis. err selects the outcome
// label; cells and counts are ignored on failure.
func ObserveAnalysis(d time.Duration, cells int, counts map[string]int, err error) {
	if err != nil {
		AnalysesTotal.WithLabelValues("error").Inc()
		return
	}
	AnalysesTotal.WithLabelValues("ok").Inc()
	AnalysisDurationMs.Observe(float64(d.Milliseconds()))
	AnalysisCells.Observe(float64(cells))
	for label, n := range counts {
		ClusterCellsTotal.WithLabelValues(label).Add(float64(n))
	}
}

// ObserveCache records a cache lookup.
func ObserveCache(hit bool) {
	if hit {
		CacheHitsTotal.Inc()
		return
	}
	CacheMissesTotal.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
