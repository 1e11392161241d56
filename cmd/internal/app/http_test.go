package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaplabs/zap-server/cmd/internal/realtime"
)

func newTestMux(t *testing.T, cfg Config) *http.ServeMux {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws := realtime.NewWSGateway(log, realtime.GatewayDeps{})

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, nil, false, prometheus.NewRegistry(), ws)
	return mux
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, Config{MetricsEnabled: true})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	mux := newTestMux(t, Config{MetricsEnabled: true})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzRequiresDBWhenConfigured(t *testing.T) {
	mux := newTestMux(t, Config{ReadinessRequireDB: true})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	enabled := newTestMux(t, Config{MetricsEnabled: true})
	rec := httptest.NewRecorder()
	enabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics enabled: status = %d, want 200", rec.Code)
	}

	disabled := newTestMux(t, Config{MetricsEnabled: false})
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics disabled: status = %d, want 404", rec.Code)
	}
}
