package authkit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterMetricsLabelsOperationAndStatus(t *testing.T) {
	metrics := NewCounterMetrics()
	metrics.Increment(MetricRefreshSuccess)
	metrics.Increment(MetricLoginSuccess)
	metrics.Increment(MetricLoginSuccess)
	metrics.Increment(MetricLoginInvalid)

	expected := `
# HELP auth_operations_total Total number of authentication operations.
# TYPE auth_operations_total counter
auth_operations_total{operation="login",status="invalid_credentials"} 1
auth_operations_total{operation="login",status="success"} 2
auth_operations_total{operation="refresh",status="success"} 1
`
	if err := testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "auth_operations_total"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
	if metrics.Count(MetricLoginSuccess) != 2 {
		t.Fatalf("expected login success count 2, got %d", metrics.Count(MetricLoginSuccess))
	}
	if metrics.Count(MetricLogoutSuccess) != 0 {
		t.Fatalf("expected untouched event to read zero")
	}
}

func TestCounterMetricsEventWithoutStatus(t *testing.T) {
	metrics := NewCounterMetrics()
	metrics.Increment("bootstrap")

	if metrics.Count("bootstrap") != 1 {
		t.Fatalf("expected event without status to be counted")
	}
	value := testutil.ToFloat64(metrics.operations.WithLabelValues("bootstrap", unknownMetricStatus))
	if value != 1 {
		t.Fatalf("expected unknown status label, got %v", value)
	}
}

func TestCounterMetricsHandler(t *testing.T) {
	metrics := NewCounterMetrics()
	metrics.Increment(MetricSignupSuccess)

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `auth_operations_total{operation="signup",status="success"} 1`) {
		t.Fatalf("expected signup counter, got %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go runtime collector output")
	}
}
