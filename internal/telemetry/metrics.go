package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analysis_submissions_total", Help: "Analyses admitted, by assigned queue"}, []string{"queue"})
	RedirectsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analysis_redirects_total", Help: "Submissions redirected away from an overloaded queue"}, []string{"from", "to"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	EnqueueDelay     = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_enqueue_delay_seconds",
		Help:    "Artificial delay applied to submissions before they become ready",
		Buckets: []float64{0, 2, 5, 10, 15, 20},
	})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_completed_total", Help: "Analyses completed successfully"})
	WorkerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_failed_total", Help: "Analyses that failed and will retry"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_dead_letter_total", Help: "Analyses moved to DLQ"})
	AdvisoriesTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analysis_optimize_advisories_total", Help: "Advisories emitted by the optimize cycle, by kind"}, []string{"kind"})
	QueueDepthGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Ready queue depth per tier"}, []string{"queue"})
	QueueLoadGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "analysis_queue_load", Help: "Load factor per tier, 0..1"}, []string{"queue"})
	QueueHealthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "analysis_queue_health", Help: "Health score per tier, 0..1"}, []string{"queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_inflight", Help: "Analyses currently leased"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			RedirectsTotal,
			RateLimitRejects,
			EnqueueDelay,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			AdvisoriesTotal,
			QueueDepthGauge,
			QueueLoadGauge,
			QueueHealthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
