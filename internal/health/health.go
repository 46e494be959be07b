// Package health serves the liveness and readiness probes of both
// binaries.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auction-house/internal/clock"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 3 * time.Second

// Status is the body of a probe response.
type Status struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker is a named dependency check, such as a database ping.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler answers the probes. Readiness requires SetReady(true) and every
// checker to pass.
type Handler struct {
	clock    clock.Clock
	version  string
	started  time.Time
	checkers []Checker

	mu    sync.RWMutex
	ready bool
}

// NewHandler creates a Handler reporting version.
func NewHandler(clk clock.Clock, version string, checkers ...Checker) *Handler {
	return &Handler{clock: clk, version: version, started: clk.Now(), checkers: checkers}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *Handler) isReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ReadinessHandler()).Methods(http.MethodGet)
}

func (h *Handler) status(s string) Status {
	now := h.clock.Now()
	return Status{
		Status:    s,
		Version:   h.version,
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// LivenessHandler reports 200 while the process is serving.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.status("ok"))
	}
}

// ReadinessHandler reports 200 when the service is ready and every
// dependency answers, 503 otherwise. Checks run concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.isReady() {
			writeJSON(w, http.StatusServiceUnavailable, h.status("not_ready"))
			return
		}

		results := h.runChecks(r.Context())
		s, code := h.status("ready"), http.StatusOK
		for _, res := range results {
			if res != "ok" {
				s.Status, code = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		if len(results) > 0 {
			s.Checks = results
		}
		writeJSON(w, code, s)
	}
}

func (h *Handler) runChecks(ctx context.Context) map[string]string {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checkers))
		g       errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			res := "ok"
			if err := c.Check(cctx); err != nil {
				res = err.Error()
			}
			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
