package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	LettersGenerated = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_letters_generated_total", Help: "Letters generated successfully"})
	GenerationFails  = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_generation_failures_total", Help: "Content generation failures"})
	DeliverySuccess  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "outreach_deliveries_sent_total", Help: "Delivery attempts that succeeded"}, []string{"method"})
	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "outreach_deliveries_failed_total", Help: "Delivery attempts that failed"}, []string{"method", "kind"})
	RetriesScheduled = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_retries_scheduled_total", Help: "Retry attempts scheduled by the retry policy"})
	TasksDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_tasks_failed_total", Help: "Tasks routed to permanent failure"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "outreach_deliveries_inflight", Help: "Delivery attempts currently running"})
	DeliverySeconds  = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_delivery_duration_seconds",
		Help:    "Wall time of one delivery attempt",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			LettersGenerated,
			GenerationFails,
			DeliverySuccess,
			DeliveryFailures,
			RetriesScheduled,
			TasksDeadLetter,
			InFlightGauge,
			DeliverySeconds,
		)
	})
	return promhttp.Handler()
}
