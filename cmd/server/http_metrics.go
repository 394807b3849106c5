package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRouteLabel = "unmatched"

type requestMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRequestMetrics(registerer prometheus.Registerer) (*requestMetrics, error) {
	metrics := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status_code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests answered with a 4xx or 5xx status.",
		}, []string{"method", "route", "status_code", "error_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10},
		}, []string{"method", "route", "status_code"}),
	}
	for _, collector := range []prometheus.Collector{metrics.requests, metrics.errors, metrics.duration} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *requestMetrics) observe(contextGin *gin.Context, elapsed time.Duration) {
	if metrics == nil {
		return
	}
	route := contextGin.FullPath()
	if route == "" {
		route = unmatchedRouteLabel
	}
	status := contextGin.Writer.Status()
	statusCode := strconv.Itoa(status)
	method := contextGin.Request.Method

	metrics.requests.WithLabelValues(method, route, statusCode).Inc()
	metrics.duration.WithLabelValues(method, route, statusCode).Observe(elapsed.Seconds())
	switch {
	case status >= 500:
		metrics.errors.WithLabelValues(method, route, statusCode, "server").Inc()
	case status >= 400:
		metrics.errors.WithLabelValues(method, route, statusCode, "client").Inc()
	}
}
