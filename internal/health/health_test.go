package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/health"
)

var testClk = clock.NewMock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))

// serve runs one GET through handler and decodes the body.
func serve(t *testing.T, handler http.Handler, path string) (int, health.Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return rec.Code, s
}

func TestLivenessHandler(t *testing.T) {
	code, s := serve(t, health.NewHandler(testClk, "1.2.3").LivenessHandler(), "/healthz")
	if code != http.StatusOK {
		t.Fatalf("got status %d, want %d", code, http.StatusOK)
	}
	if s.Status != "ok" || s.Version != "1.2.3" {
		t.Errorf("got %+v, want ok at 1.2.3", s)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "not ready",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready all checks pass",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready but check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"db": "connection refused"},
		},
		{
			name:  "one of several fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return nil }},
				{Name: "redis", Check: func(ctx context.Context) error { return errors.New("i/o timeout") }},
				{Name: "nats", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"db": "ok", "redis": "i/o timeout", "nats": "ok"},
		},
		{
			name:  "check sees a deadline",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error {
					if _, ok := ctx.Deadline(); !ok {
						return errors.New("no deadline")
					}
					return nil
				}},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"db": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, "1.2.3", tt.checkers...)
			h.SetReady(tt.ready)

			code, s := serve(t, h.ReadinessHandler(), "/readyz")
			if code != tt.wantCode {
				t.Errorf("got status %d, want %d", code, tt.wantCode)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := s.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestLivenessHandler_Uptime(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))
	h := health.NewHandler(clk, "dev")
	clk.Advance(90 * time.Second)

	if _, s := serve(t, h.LivenessHandler(), "/healthz"); s.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want 1m30s", s.Uptime)
	}
}

func TestRegister(t *testing.T) {
	h := health.NewHandler(testClk, "1.2.3")
	h.SetReady(true)
	r := mux.NewRouter()
	h.Register(r)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
