package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCount counts HTTP requests
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// PipelineRuns counts finished analysis runs by outcome and failing stage
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetrace_pipeline_runs_total",
			Help: "Total number of analysis pipeline runs",
		},
		[]string{"outcome", "stage"},
	)

	// StageDuration measures how long each pipeline stage takes
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codetrace_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// OracleCalls counts similarity oracle calls by result
	OracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetrace_oracle_calls_total",
			Help: "Total number of similarity oracle calls",
		},
		[]string{"result"},
	)

	// RetrievalMatches records how many matches a code search returned
	RetrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codetrace_retrieval_matches",
			Help:    "Number of matches returned per code search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)
)

var registerOnce sync.Once

// InitPrometheus registers all collectors with the default registry.
func InitPrometheus() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCount)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(PipelineRuns)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(OracleCalls)
		prometheus.MustRegister(RetrievalMatches)
	})
}

// Handler returns Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request counts and latencies per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RequestCount.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
