package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics wraps the Prometheus collectors exported by the service.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	ingested        *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobItems        *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "support",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of error responses by route and error code",
		}, []string{"route", "method", "code"}),
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages seen by the ingest path by direction and outcome",
		}, []string{"direction", "outcome"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "automation",
			Name:      "runs_total",
			Help:      "Automation job runs by job and result",
		}, []string{"job", "result"}),
		jobItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "automation",
			Name:      "items_total",
			Help:      "Conversations touched by automation jobs by outcome",
		}, []string{"job", "outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbound email deliveries by task kind and result",
		}, []string{"kind", "result"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordIngest counts one message outcome: stored, duplicate or failed.
func (m *Metrics) RecordIngest(direction, outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(direction, outcome).Inc()
}

// RecordJobRun counts a finished automation run.
func (m *Metrics) RecordJobRun(job string, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// RecordJobItems adds n per-conversation outcomes for a job.
func (m *Metrics) RecordJobItems(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobItems.WithLabelValues(job, outcome).Add(float64(n))
}

// RecordDelivery counts an outbox delivery attempt.
func (m *Metrics) RecordDelivery(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}
