package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"timeoutproxy/internal/config"
	"timeoutproxy/internal/mockserver"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := mockserver.New(logger)
	mock.Given(mockserver.Stub{Body: "from upstream"})
	upstream := httptest.NewServer(mock)
	defer upstream.Close()

	cfg := baseTestConfig(upstream.URL)
	cfg.Routes = append(cfg.Routes, config.RouteConfig{ID: "root", Path: "/", Cluster: "cluster1"})
	e, _ := newTestEcho(t, cfg, logger)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK, `"ok"`},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK, `"routes"`},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{"GET /route1/path", http.MethodGet, "/route1/path", http.StatusOK, "from upstream"},
		{"DELETE /route2/x", http.MethodDelete, "/route2/x", http.StatusOK, "from upstream"},
		{"GET / goes to the catch-all route", http.MethodGet, "/", http.StatusOK, "from upstream"},
		{"MKCOL /route1/x", "MKCOL", "/route1/x", http.StatusOK, "from upstream"},
		{"PURGE / goes to the catch-all route", "PURGE", "/", http.StatusOK, "from upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	if n := len(mock.LogEntries()); n != 5 {
		t.Errorf("upstream saw %d requests, want 5", n)
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := baseTestConfig("http://127.0.0.1:1")
	cfg.Metrics.Enabled = false
	e, _ := newTestEcho(t, cfg, logger)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Without the metrics endpoint the path falls through to the proxy,
	// which has no route for it.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
