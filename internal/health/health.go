// Package health provides the HTTP probes for lifelogger.
//
// Three endpoints are served:
//
//   - /health  status banner with process uptime.
//   - /healthz liveness probe; always 200 while the process serves HTTP.
//   - /readyz  readiness probe; 200 only when every registered [Checker]
//     passes (capture streaming, archive breakers closed).
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/lifelogger/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the component
// is healthy.
type Checker struct {
	// Name is the key in the JSON response, e.g. "capture".
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type statusBody struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Message string `json:"message"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStartTime overrides the process start used for uptime.
func WithStartTime(t time.Time) Option {
	return func(h *Handler) { h.started = t }
}

// WithMessage sets the message reported by /health.
func WithMessage(msg string) Option {
	return func(h *Handler) { h.message = msg }
}

// WithCheckers appends readiness checkers.
func WithCheckers(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
	message  string
	now      func() time.Time
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{
		started: time.Now(),
		message: "lifelogger is recording",
		now:     time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Uptime returns the time since start, truncated to whole seconds.
func (h *Handler) Uptime() time.Duration {
	return h.now().Sub(h.started).Truncate(time.Second)
}

// Status reports uptime as {"status":"ok","uptime":"<n>s","message":...}.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{
		Status:  "ok",
		Uptime:  fmt.Sprintf("%ds", int64(h.Uptime().Seconds())),
		Message: h.message,
	})
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own [checkTimeout],
// and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(errs))}
	code := http.StatusOK
	for i, err := range errs {
		name := h.checkers[i].Name
		if err == nil {
			res.Checks[name] = "ok"
			continue
		}
		res.Checks[name] = "fail: " + err.Error()
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Status)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// BreakerChecker fails while any of breakers is open.
func BreakerChecker(name string, breakers ...*resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			var errs []error
			for _, b := range breakers {
				if b.State() == resilience.StateOpen {
					errs = append(errs, fmt.Errorf("%s: %w", b.Name(), resilience.ErrCircuitOpen))
				}
			}
			return errors.Join(errs...)
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: write response", "err", err)
	}
}
