package authkit

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Auth events recorded by AuthService, written as "<operation>.<status>".
const (
	MetricSignupSuccess   = "signup.success"
	MetricSignupDuplicate = "signup.duplicate"
	MetricSignupFailure   = "signup.failure"
	MetricLoginSuccess    = "login.success"
	MetricLoginInvalid    = "login.invalid_credentials"
	MetricLoginFailure    = "login.failure"
	MetricRefreshSuccess  = "refresh.success"
	MetricRefreshInvalid  = "refresh.invalid"
	MetricRefreshExpired  = "refresh.expired"
	MetricRefreshReused   = "refresh.reused"
	MetricRefreshFailure  = "refresh.failure"
	MetricLogoutSuccess   = "logout.success"
	MetricLogoutFailure   = "logout.failure"
)

const unknownMetricStatus = "unknown"

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics records auth events in the auth_operations_total counter of its own registry.
type CounterMetrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

// NewCounterMetrics constructs a registry holding the auth counter plus Go and process collectors.
func NewCounterMetrics() *CounterMetrics {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Total number of authentication operations.",
	}, []string{"operation", "status"})
	registry.MustRegister(
		operations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &CounterMetrics{registry: registry, operations: operations}
}

// Registry exposes the registry so transports can register their own collectors.
func (recorder *CounterMetrics) Registry() *prometheus.Registry {
	return recorder.registry
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	operation, status := splitEvent(event)
	recorder.operations.WithLabelValues(operation, status).Inc()
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	operation, status := splitEvent(event)
	counter, err := recorder.operations.GetMetricWithLabelValues(operation, status)
	if err != nil {
		return 0
	}
	var sample dto.Metric
	if err := counter.Write(&sample); err != nil {
		return 0
	}
	return int64(sample.GetCounter().GetValue())
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *CounterMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{Registry: recorder.registry})
}

func splitEvent(event string) (string, string) {
	operation, status, found := strings.Cut(event, ".")
	if !found || status == "" {
		return operation, unknownMetricStatus
	}
	return operation, status
}
