package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EnqueueCounter tracks items added to the task queue.
	EnqueueCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_enqueue_total",
		Help: "Total number of items enqueued",
	})
	// RetryCounter tracks failed items requeued for another attempt.
	RetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_retry_total",
		Help: "Total number of failed items requeued for retry",
	})
	// DropCounter tracks items dropped after exhausting their retry budget.
	DropCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_drop_total",
		Help: "Total number of items dropped after exhausting retries",
	})
	// InFlightGauge reports the number of items currently dispatched.
	InFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coord_in_flight",
		Help: "Current number of in-flight items",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers coord core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EnqueueCounter, RetryCounter, DropCounter, InFlightGauge)
}
