package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lifelogger/internal/resilience"
)

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return v
}

func serve(h http.HandlerFunc, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStatus_ReportsUptime(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New(WithStartTime(start), WithMessage("recording"))
	h.now = func() time.Time { return start.Add(90*time.Second + 400*time.Millisecond) }

	rec := serve(h.Status, t.Context())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[statusBody](t, rec)
	if body.Status != "ok" || body.Uptime != "90s" || body.Message != "recording" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(WithCheckers(Checker{Name: "capture", Check: func(context.Context) error {
		return errors.New("not streaming")
	}}))

	rec := serve(h.Healthz, t.Context())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode[result](t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{"capture", ok}, {"archive", ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"capture": "ok", "archive": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{"capture", fail("state negotiating")}, {"archive", ok}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"capture": "fail: state negotiating", "archive": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{"capture", fail("idle")}, {"archive", fail("open")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"capture": "fail: idle", "archive": "fail: open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(New(WithCheckers(tt.checkers...)).Readyz, t.Context())
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode[result](t, rec)
			wantStatus := "ok"
			if tt.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("status = %q, want %q", body.Status, wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(WithCheckers(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rec := serve(h.Readyz, ctx); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	arrived := make(chan struct{}, 2)
	// Each check passes only once the other has started.
	rendezvous := func(ctx context.Context) error {
		arrived <- struct{}{}
		for {
			if len(arrived) == 2 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	h := New(WithCheckers(
		Checker{Name: "capture", Check: rendezvous},
		Checker{Name: "archive", Check: rendezvous},
	))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec := serve(h.Readyz, ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()
	disk := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "archive/disk", MaxFailures: 1, ResetTimeout: time.Hour})
	db := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "archive/postgres", MaxFailures: 1, ResetTimeout: time.Hour})
	c := BreakerChecker("archive", disk, db)

	if err := c.Check(t.Context()); err != nil {
		t.Fatalf("closed breakers: %v", err)
	}

	_ = db.Execute(func() error { return errors.New("down") })
	err := c.Check(t.Context())
	if !errors.Is(err, resilience.ErrCircuitOpen) || !strings.Contains(err.Error(), "archive/postgres") {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(err.Error(), "archive/disk") {
		t.Errorf("closed breaker reported: %v", err)
	}
}
