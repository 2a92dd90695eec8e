package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/store"
	"trendcast/internal/store/memory"
)

type started struct {
	mode   domain.Mode
	dryRun bool
}

func newTestServer(t *testing.T, api *API) *httptest.Server {
	t.Helper()
	s := New(nil)
	api.Register(s.Router)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusWithoutHistory(t *testing.T) {
	next := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	srv := newTestServer(t, &API{
		Runs:    memory.New(),
		Mode:    domain.ModeAllUsers,
		NextRun: func() time.Time { return next },
	})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LastRun != nil || got.NextRun == nil || !got.NextRun.Equal(next) || got.Mode != domain.ModeAllUsers {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestLastRun(t *testing.T) {
	runs := memory.New()
	srv := newTestServer(t, &API{Runs: runs})

	resp, err := http.Get(srv.URL + "/v1/runs/last")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", resp.StatusCode)
	}

	ctx := context.Background()
	_ = runs.StartRun(ctx, store.RunRecord{RunID: "run_1", Mode: "all", StartedAt: time.Now()})
	_ = runs.FinishRun(ctx, store.RunRecord{RunID: "run_1", Mode: "all", Status: store.RunOK, SuccessCount: 4, StartedAt: time.Now()})

	resp, err = http.Get(srv.URL + "/v1/runs/last")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var rec store.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.RunID != "run_1" || rec.Status != store.RunOK || rec.SuccessCount != 4 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTriggerRunAcceptsAndRejectsOverlap(t *testing.T) {
	calls := make(chan started, 2)
	release := make(chan struct{})
	api := &API{
		Mode: domain.ModeAllUsers,
		Start: func(ctx context.Context, mode domain.Mode, dryRun bool) error {
			calls <- started{mode, dryRun}
			<-release
			return nil
		},
	}
	srv := newTestServer(t, api)

	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(`{"mode":"active","dryRun":true}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	got := <-calls
	if got.mode != domain.ModeActiveUsers || !got.dryRun {
		t.Fatalf("overrides not passed: %+v", got)
	}

	resp, err = http.Post(srv.URL+"/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while a run is active, got %d", resp.StatusCode)
	}

	close(release)
	api.Wait()

	// empty body keeps the configured mode
	resp, err = http.Post(srv.URL+"/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 after the first run finished, got %d", resp.StatusCode)
	}
	if got := <-calls; got.mode != "" || got.dryRun {
		t.Fatalf("expected no overrides, got %+v", got)
	}
	api.Wait()
}

func TestTriggerRunBadInput(t *testing.T) {
	srv := newTestServer(t, &API{Start: func(context.Context, domain.Mode, bool) error { return errors.New("unused") }})

	for _, body := range []string{`{"mode":"everyone"}`, `{not json`} {
		resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestTriggerRunNotConfigured(t *testing.T) {
	srv := newTestServer(t, &API{})
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	ok := Readyz(time.Second, Check{Name: "db", Fn: func(context.Context) error { return nil }}, Check{Name: "unset"})
	rec := httptest.NewRecorder()
	ok(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	bad := Readyz(time.Second, Check{Name: "db", Fn: func(context.Context) error { return errors.New("db down") }})
	rec = httptest.NewRecorder()
	bad(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Failed["db"] != "db down" {
		t.Fatalf("expected failing check reported, got %+v", body.Failed)
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status not passed through: %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get(RequestIDHeader), "req_") {
		t.Fatalf("expected generated request id, got %q", rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("expected caller id kept, got %q", got)
	}
}
