package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/breaker"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/retry"
)

func testProber(t *testing.T, useRetry bool) *Prober {
	t.Helper()
	reg := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())
	pol := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
	return New(reg, pol, useRetry, 4, zap.NewNop())
}

func ep(url string, timeout time.Duration, expect int) domain.Endpoint {
	return domain.Endpoint{
		ID:             "E1",
		Name:           "api-one",
		URL:            url,
		Method:         http.MethodGet,
		Interval:       30 * time.Second,
		Timeout:        timeout,
		ExpectedStatus: expect,
		Active:         true,
	}
}

func TestCheck_Success(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	out := testProber(t, false).Check(context.Background(), ep(s.URL, 2*time.Second, 200))
	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.HTTPStatus != 200 {
		t.Fatalf("want status 200, got %d", out.HTTPStatus)
	}
	if out.Category != "" {
		t.Fatalf("want empty category on success, got %q", out.Category)
	}
	if out.LatencyMS < 0 {
		t.Fatalf("latency should be >= 0, got %f", out.LatencyMS)
	}
	if out.CheckedAt.IsZero() {
		t.Fatalf("want checked_at set")
	}
}

func TestCheck_StatusMismatch(t *testing.T) {
	hits := int32(0)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(500)
	}))
	defer s.Close()

	out := testProber(t, true).Check(context.Background(), ep(s.URL, 2*time.Second, 200))
	if out.Success {
		t.Fatalf("want failure, got %+v", out)
	}
	if out.Category != domain.FailureStatusMismatch {
		t.Fatalf("want status_mismatch, got %q", out.Category)
	}
	if out.HTTPStatus != 500 {
		t.Fatalf("want status 500 recorded, got %d", out.HTTPStatus)
	}
	if !strings.Contains(out.Message, "200") || !strings.Contains(out.Message, "500") {
		t.Fatalf("want expected and actual codes in message, got %q", out.Message)
	}
	// A mismatched status is a resolved answer, not a transient fault.
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("status mismatch must not be retried, got %d requests", n)
	}
}

func TestCheck_ExpectedNon200(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer s.Close()

	out := testProber(t, false).Check(context.Background(), ep(s.URL, 2*time.Second, 404))
	if !out.Success {
		t.Fatalf("want success when 404 is expected, got %+v", out)
	}
}

func TestCheck_Timeout(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	out := testProber(t, false).Check(context.Background(), ep(s.URL, 50*time.Millisecond, 200))
	if out.Success {
		t.Fatalf("want timeout failure, got %+v", out)
	}
	if out.Category != domain.FailureTimeout {
		t.Fatalf("want timeout category, got %q", out.Category)
	}
	if out.HTTPStatus != 0 {
		t.Fatalf("want status 0 on timeout, got %d", out.HTTPStatus)
	}
}

func TestCheck_ConnectionRefused(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := s.URL
	s.Close() // nothing listening now

	out := testProber(t, false).Check(context.Background(), ep(url, time.Second, 200))
	if out.Success {
		t.Fatalf("want failure, got %+v", out)
	}
	if out.Category != domain.FailureConnection {
		t.Fatalf("want connection_error, got %q (%s)", out.Category, out.Message)
	}
}

func TestCheck_RetriesTransientThenSucceeds(t *testing.T) {
	hits := int32(0)
	var s *httptest.Server
	s = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// Kill the connection so the client sees a transport error.
			c, _, _ := w.(http.Hijacker).Hijack()
			c.Close()
			return
		}
		w.WriteHeader(200)
	}))
	defer s.Close()

	out := testProber(t, true).Check(context.Background(), ep(s.URL, 2*time.Second, 200))
	if !out.Success {
		t.Fatalf("want success after transient retry, got %+v", out)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("want 2 requests, got %d", n)
	}
}

func TestCheck_OpenBreakerYieldsFailedResult(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1}, zap.NewNop())
	p := New(reg, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2}, true, 2, zap.NewNop())

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := s.URL
	s.Close()

	target := ep(url, 200*time.Millisecond, 200)
	_ = p.Check(context.Background(), target) // trips the breaker

	hits := int32(0)
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
	}))
	defer live.Close()
	target.URL = live.URL

	out := p.Check(context.Background(), target)
	if out.Success {
		t.Fatalf("want failure while breaker is open, got %+v", out)
	}
	if !strings.Contains(out.Message, "circuit breaker") {
		t.Fatalf("want breaker rejection in message, got %q", out.Message)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("open breaker must not let the request through")
	}
}

func TestCheck_SendsHeadersAndBody(t *testing.T) {
	var gotAuth, gotCT, gotBody string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		b := make([]byte, r.ContentLength)
		r.Body.Read(b)
		gotBody = string(b)
		w.WriteHeader(201)
	}))
	defer s.Close()

	target := ep(s.URL, 2*time.Second, 201)
	target.Method = http.MethodPost
	target.Headers = map[string]string{"Authorization": "Bearer tok"}
	target.Body = []byte(`{"ping":true}`)

	out := testProber(t, false).Check(context.Background(), target)
	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("want auth header forwarded, got %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Fatalf("want default content type for body, got %q", gotCT)
	}
	if gotBody != `{"ping":true}` {
		t.Fatalf("want body forwarded, got %q", gotBody)
	}
}
