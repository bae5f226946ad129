package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesExpositionFormat(t *testing.T) {
	WorkerPoolQueueDepth.WithLabelValues("http").Set(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "nesta_worker_pool_queue_depth{pool=\"http\"} 3") {
		t.Fatalf("expected queue depth gauge in exposition, got:\n%s", body)
	}
}

func TestRequestsTotalIncrementsByStatusLabel(t *testing.T) {
	RequestsTotal.WithLabelValues("2xx").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `nesta_http_requests_total{status="2xx"}`) {
		t.Fatal("expected http_requests_total series with status=2xx label")
	}
}

func TestRelayCommandsTotalLabelsCommandAndOutcome(t *testing.T) {
	RelayCommandsTotal.WithLabelValues("rg", "ok").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `nesta_session_relay_commands_total{command="rg",outcome="ok"}`) {
		t.Fatal("expected session_relay_commands_total series with command/outcome labels")
	}
}
