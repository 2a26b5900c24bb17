package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koredoko_extractions_total",
			Help: "Image extractions by outcome",
		},
		[]string{"outcome"},
	)

	MapURLs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koredoko_map_urls_total",
			Help: "Map URL generations by outcome",
		},
		[]string{"outcome"},
	)

	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koredoko_model_requests_total",
			Help: "Calls to the generative model",
		},
		[]string{"operation", "outcome"},
	)

	ModelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koredoko_model_request_duration_seconds",
			Help:    "Latency of generative model calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"operation"},
	)

	MapURLCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "koredoko_map_url_cache_hits_total",
			Help: "Map URL answers served from the local cache",
		},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koredoko_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveModel records one model call.
func ObserveModel(operation string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	ModelRequests.WithLabelValues(operation, outcome).Inc()
	ModelDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// GinMiddleware records request latency using the matched route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
