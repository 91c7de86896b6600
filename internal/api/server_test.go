package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"portaria/internal/engine"
	"portaria/internal/metrics"
	"portaria/internal/model"
)

type fakeRunner struct {
	history *metrics.Store
	notices []model.Notice
	runs    int
	err     error
}

func (f *fakeRunner) Run(_ context.Context, source string) (engine.Result, error) {
	f.runs++
	if f.err != nil {
		return engine.Result{}, f.err
	}
	st := model.RunStats{Source: source, Loaded: 10, Kept: 9}
	f.history.Update(st)
	return engine.Result{RunID: "20240501T000000Z", Stats: st}, nil
}

func (f *fakeRunner) History() *metrics.Store     { return f.history }
func (f *fakeRunner) LastNotices() []model.Notice { return f.notices }

func newTestServer() (*fakeRunner, http.Handler) {
	ts := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	f := &fakeRunner{
		history: metrics.NewStore(4),
		notices: []model.Notice{
			{Timestamp: ts, EventType: "ACCESS_DENIED", ActorOrVehicle: "Ana Costa", Severity: model.SeverityCritical},
			{Timestamp: ts.Add(time.Minute), EventType: "Alarme disparado", ActorOrVehicle: "RTY7U89", Severity: model.SeverityCritical},
		},
	}
	return f, NewServer(f, "log.csv", nil, "test").Handler()
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return rec, body
}

func TestStatus(t *testing.T) {
	_, h := newTestServer()
	rec, body := do(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["source"] != "log.csv" {
		t.Fatalf("status: %d %v", rec.Code, body)
	}
	if rec, _ := do(t, h, http.MethodPost, "/status"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRerunThenStats(t *testing.T) {
	f, h := newTestServer()
	if _, body := do(t, h, http.MethodGet, "/stats"); body["count"] != float64(0) {
		t.Fatalf("expected empty stats, got %v", body)
	}
	rec, body := do(t, h, http.MethodPost, "/admin/rerun")
	if rec.Code != http.StatusOK || body["run_id"] != "20240501T000000Z" || f.runs != 1 {
		t.Fatalf("rerun: %d %v", rec.Code, body)
	}
	if _, body := do(t, h, http.MethodGet, "/stats"); body["count"] != float64(1) {
		t.Fatalf("expected one source, got %v", body)
	}
	if rec, _ := do(t, h, http.MethodGet, "/stats?source=log.csv"); rec.Code != http.StatusOK {
		t.Fatalf("stats by source: %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/stats?source=other.csv"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if _, body := do(t, h, http.MethodGet, "/status"); body["last_run"] == nil {
		t.Fatalf("status should report last run")
	}
}

func TestRerunFailure(t *testing.T) {
	f, h := newTestServer()
	f.err = errors.New("load: not found")
	rec, body := do(t, h, http.MethodPost, "/admin/rerun")
	if rec.Code != http.StatusInternalServerError || body["error"] != "load: not found" {
		t.Fatalf("rerun failure: %d %v", rec.Code, body)
	}
}

func TestAlertsLimit(t *testing.T) {
	_, h := newTestServer()
	if _, body := do(t, h, http.MethodGet, "/alerts"); body["count"] != float64(2) {
		t.Fatalf("alerts: %v", body)
	}
	_, body := do(t, h, http.MethodGet, "/alerts?limit=1")
	list, _ := body["alerts"].([]any)
	if len(list) != 1 {
		t.Fatalf("limit: %v", body)
	}
	if entry, _ := list[0].(map[string]any); entry["actor_or_vehicle"] != "RTY7U89" {
		t.Fatalf("expected newest notice, got %v", list[0])
	}
	if rec, _ := do(t, h, http.MethodGet, "/alerts?limit=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
