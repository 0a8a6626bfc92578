package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/breaker"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	"github.com/hamed0406/apimonitor/internal/scheduler"
	"github.com/hamed0406/apimonitor/internal/uptime"
)

// ---- test helpers ----

type fakeChecker struct {
	out domain.ProbeResult
}

func (f *fakeChecker) Check(_ context.Context, ep domain.Endpoint) domain.ProbeResult {
	out := f.out
	out.EndpointID = ep.ID
	out.CheckedAt = time.Now().UTC()
	return out
}

// fakeJobs records scheduler calls so tests can assert the job set follows
// endpoint mutations.
type fakeJobs struct {
	added   []domain.EndpointID
	updated []domain.EndpointID
	removed []domain.EndpointID
}

func (f *fakeJobs) AddJob(ep domain.Endpoint)      { f.added = append(f.added, ep.ID) }
func (f *fakeJobs) UpdateJob(ep domain.Endpoint)   { f.updated = append(f.updated, ep.ID) }
func (f *fakeJobs) RemoveJob(id domain.EndpointID) { f.removed = append(f.removed, id) }
func (f *fakeJobs) AllJobStatuses() map[domain.EndpointID]scheduler.JobStatus {
	out := make(map[domain.EndpointID]scheduler.JobStatus)
	for _, id := range f.added {
		out[id] = scheduler.JobStatus{EndpointID: id, Interval: 30 * time.Second}
	}
	return out
}

type fakeRevalidator struct {
	err error
}

func (f *fakeRevalidator) Revalidate(context.Context) error { return f.err }

type fixture struct {
	store    *memory.Store
	jobs     *fakeJobs
	breakers *breaker.Registry
	server   *httptest.Server
}

func setup(t *testing.T, opts func(*Server)) *fixture {
	t.Helper()
	store := memory.New()
	jobs := &fakeJobs{}
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())

	srv := &Server{
		Logger:    zap.NewNop(),
		Endpoints: store,
		Results:   store,
		Checker:   &fakeChecker{out: domain.ProbeResult{Success: true, HTTPStatus: 200, LatencyMS: 12.5}},
		Jobs:      jobs,
		Stats:     uptime.New(store, store),
		Breakers:  breakers,
		RateLimit: 10_000,
		RateBurst: 10_000,
	}
	if opts != nil {
		opts(srv)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{store: store, jobs: jobs, breakers: breakers, server: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func validPayload() map[string]any {
	return map[string]any{
		"name":             "prod-api",
		"url":              "https://api.example.com/health",
		"interval_seconds": 30,
		"timeout_seconds":  5,
	}
}

// ---- tests ----

func TestCreateEndpoint_RegistersJob(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	view := decode[endpointView](t, resp)
	if view.ID == "" || view.ExpectedStatus != 200 || !view.Active {
		t.Fatalf("created view = %+v", view)
	}
	if len(f.jobs.added) != 1 || f.jobs.added[0] != view.ID {
		t.Fatalf("jobs.added = %v, want [%s]", f.jobs.added, view.ID)
	}
}

func TestCreateEndpoint_Validation(t *testing.T) {
	f := setup(t, nil)

	bad := []map[string]any{
		{"url": "https://x", "interval_seconds": 30, "timeout_seconds": 5},          // missing name
		{"name": "a", "interval_seconds": 30, "timeout_seconds": 5},                 // missing url
		{"name": "a", "url": "https://x", "interval_seconds": 5, "timeout_seconds": 5}, // interval too short
		{"name": "a", "url": "https://x", "interval_seconds": 30, "timeout_seconds": 0},
		{"name": "a", "url": "https://x", "interval_seconds": 30, "timeout_seconds": 5, "expected_status": 42},
	}
	for i, p := range bad {
		resp := f.do(t, http.MethodPost, "/api/endpoints", p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("payload %d: status = %d, want 400", i, resp.StatusCode)
		}
	}
	if len(f.jobs.added) != 0 {
		t.Fatalf("no jobs should be registered, got %v", f.jobs.added)
	}
}

func TestUpdateEndpoint_PropagatesToScheduler(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	p := validPayload()
	p["interval_seconds"] = 60
	p["active"] = false
	resp = f.do(t, http.MethodPut, "/api/endpoints/"+string(view.ID), p)
	updated := decode[endpointView](t, resp)
	if updated.IntervalSeconds != 60 || updated.Active {
		t.Fatalf("updated view = %+v", updated)
	}
	if len(f.jobs.updated) != 1 || f.jobs.updated[0] != view.ID {
		t.Fatalf("jobs.updated = %v", f.jobs.updated)
	}
}

func TestDeleteEndpoint_RemovesJob(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	resp = f.do(t, http.MethodDelete, "/api/endpoints/"+string(view.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(f.jobs.removed) != 1 || f.jobs.removed[0] != view.ID {
		t.Fatalf("jobs.removed = %v", f.jobs.removed)
	}

	resp = f.do(t, http.MethodDelete, "/api/endpoints/"+string(view.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", resp.StatusCode)
	}
}

func TestGetEndpoint_NotFound(t *testing.T) {
	f := setup(t, nil)
	resp := f.do(t, http.MethodGet, "/api/endpoints/missing", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCheckNow_PersistsResult(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/endpoints/%s/check", view.ID), nil)
	res := decode[domain.ProbeResult](t, resp)
	if !res.Success || res.HTTPStatus != 200 {
		t.Fatalf("check result = %+v", res)
	}

	stored, err := f.store.LastByEndpoint(context.Background(), view.ID)
	if err != nil || stored == nil {
		t.Fatalf("result not persisted: %v %v", stored, err)
	}
}

func TestStats_DefaultWindowAndErrors(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/endpoints/%s/stats", view.ID), nil)
	stats := decode[uptime.Statistics](t, resp)
	if stats.Window != "24h" || stats.TotalChecks != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/endpoints/%s/stats?window=12h", view.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad window status = %d, want 400", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/endpoints/missing/stats", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing endpoint status = %d, want 404", resp.StatusCode)
	}
}

func TestIncidents_MinDurationParsing(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/endpoints/%s/incidents?min_duration_minutes=1", view.ID), nil)
	incidents := decode[[]uptime.Incident](t, resp)
	if len(incidents) != 0 {
		t.Fatalf("incidents = %v, want empty", incidents)
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/endpoints/%s/incidents?min_duration_minutes=-1", view.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative min duration = %d, want 400", resp.StatusCode)
	}
}

func TestSummaryAndJobs(t *testing.T) {
	f := setup(t, nil)

	resp := f.do(t, http.MethodPost, "/api/endpoints", validPayload())
	view := decode[endpointView](t, resp)

	resp = f.do(t, http.MethodGet, "/api/summary", nil)
	sum := decode[uptime.Summary](t, resp)
	if sum.TotalEndpoints != 1 || sum.ActiveEndpoints != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	resp = f.do(t, http.MethodGet, "/api/jobs", nil)
	jobs := decode[[]scheduler.JobStatus](t, resp)
	if len(jobs) != 1 || jobs[0].EndpointID != view.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestBreakerEndpoints(t *testing.T) {
	f := setup(t, nil)

	// trip a breaker open
	b := f.breakers.Get("prod-api")
	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		_ = b.Do(func() error { return errors.New("down") })
	}

	resp := f.do(t, http.MethodGet, "/api/breakers", nil)
	snaps := decode[map[string]breaker.Snapshot](t, resp)
	if snaps["prod-api"].State != breaker.Open {
		t.Fatalf("snapshot = %+v, want open", snaps["prod-api"])
	}

	resp = f.do(t, http.MethodPost, "/api/breakers/prod-api/reset", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if f.breakers.Snapshots()["prod-api"].State != breaker.Closed {
		t.Fatal("breaker should be closed after reset")
	}

	resp = f.do(t, http.MethodPost, "/api/breakers/unknown/reset", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown breaker reset = %d, want 404", resp.StatusCode)
	}
}

func TestCooldownRevalidate(t *testing.T) {
	f := setup(t, nil)
	resp := f.do(t, http.MethodPost, "/api/cooldown/revalidate", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("local gate revalidate = %d, want 409", resp.StatusCode)
	}

	f = setup(t, func(s *Server) { s.Cooldown = &fakeRevalidator{} })
	resp = f.do(t, http.MethodPost, "/api/cooldown/revalidate", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revalidate ok = %d, want 200", resp.StatusCode)
	}

	f = setup(t, func(s *Server) { s.Cooldown = &fakeRevalidator{err: errors.New("still down")} })
	resp = f.do(t, http.MethodPost, "/api/cooldown/revalidate", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("revalidate failure = %d, want 502", resp.StatusCode)
	}
}

func TestAPIKeyGuardsAPIButNotHealthz(t *testing.T) {
	f := setup(t, func(s *Server) { s.APIKey = "secret" })

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/endpoints", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/endpoints", nil)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed request: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("authed = %d, want 200", authed.StatusCode)
	}
}
