package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_runs_total", Help: "Pipeline runs by outcome"}, []string{"outcome"})
	PublishesTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_publishes_total", Help: "Items published successfully"})
	RetriesTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_retries_total", Help: "Attempts requeued for retry"})
	FailuresTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_failures_total", Help: "Terminal failures by kind"}, []string{"kind"})
	DeferralsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_deferrals_total", Help: "Runs deferred by the publish rate limit"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Work items currently eligible"})
	RunDurationHisto = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Duration of non-idle pipeline runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			PublishesTotal,
			RetriesTotal,
			FailuresTotal,
			DeferralsTotal,
			QueueDepthGauge,
			RunDurationHisto,
		)
	})
	return promhttp.Handler()
}
