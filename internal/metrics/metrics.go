package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the core services. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	UsecaseRequests     *prometheus.CounterVec
	UsecaseDuration     *prometheus.HistogramVec
	StockRejections     prometheus.Counter
	PaymentCallbacks    *prometheus.CounterVec
	DispatchFailures    prometheus.Counter
	TransitionConflicts prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UsecaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Total number of use case invocations.",
		}, []string{"use_case", "outcome"}),
		UsecaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Duration of use case execution in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		StockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_commit_rejections_total",
			Help: "Stock commits rejected for insufficient stock.",
		}),
		PaymentCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment provider callbacks by outcome.",
		}, []string{"outcome"}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Notification events the dispatcher failed to accept.",
		}),
		TransitionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_version_conflicts_total",
			Help: "Optimistic version conflicts retried on the order aggregate.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.UsecaseRequests, m.UsecaseDuration, m.StockRejections,
			m.PaymentCallbacks, m.DispatchFailures, m.TransitionConflicts)
	}
	return m
}

// Observe records one use case run. Call it deferred with a pointer to the named error.
func (m *Metrics) Observe(useCase string, start time.Time, err *error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil && *err != nil {
		outcome = "error"
	}
	m.UsecaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UsecaseDuration.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) StockRejected() {
	if m != nil {
		m.StockRejections.Inc()
	}
}

func (m *Metrics) Callback(outcome string) {
	if m != nil {
		m.PaymentCallbacks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) DispatchFailed() {
	if m != nil {
		m.DispatchFailures.Inc()
	}
}

func (m *Metrics) VersionConflict() {
	if m != nil {
		m.TransitionConflicts.Inc()
	}
}
