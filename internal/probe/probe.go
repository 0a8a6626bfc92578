// Package probe performs single HTTP health checks against endpoints.
//
// A check is the composition breaker(retry(httpRequest)), bounded by an outer
// deadline of endpoint.Timeout plus a fixed buffer that absorbs retry
// overhead. Probe-level failures never escape as errors: every check resolves
// to a ProbeResult.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/breaker"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/retry"
)

// DeadlineBuffer is added to the endpoint timeout to bound the whole
// composed call, retries and backoff included.
const DeadlineBuffer = 10 * time.Second

type probeError struct {
	category domain.FailureCategory
	err      error
}

func (e *probeError) Error() string { return e.err.Error() }
func (e *probeError) Unwrap() error { return e.err }

// Prober issues health checks. The HTTP transport is shared across all
// probes and a semaphore caps how many run at once.
type Prober struct {
	client   *http.Client
	breakers *breaker.Registry
	policy   retry.Policy
	useRetry bool
	sem      chan struct{}
	log      *zap.Logger
}

func New(breakers *breaker.Registry, policy retry.Policy, useRetry bool, maxConcurrent int, log *zap.Logger) *Prober {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	policy.Retryable = isTransient
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        maxConcurrent,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: breakers,
		policy:   policy,
		useRetry: useRetry,
		sem:      make(chan struct{}, maxConcurrent),
		log:      log,
	}
}

// isTransient reports whether an error is worth retrying. Status mismatches
// never reach here (they are results, not errors), so only transport-level
// failures are retried.
func isTransient(err error) bool {
	var pe *probeError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.category {
	case domain.FailureTimeout, domain.FailureConnection, domain.FailureClient:
		return true
	}
	return false
}

// Check runs one health check and always returns a resolved result. Breaker
// rejections and retry exhaustion are folded into a failed ProbeResult.
func (p *Prober) Check(ctx context.Context, ep domain.Endpoint) domain.ProbeResult {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return p.failed(ep, domain.FailureTimeout, 0, ctx.Err().Error())
	}

	ctx, cancel := context.WithTimeout(ctx, ep.Timeout+DeadlineBuffer)
	defer cancel()

	var res domain.ProbeResult
	op := func(ctx context.Context) error {
		r, err := p.request(ctx, ep)
		res = r
		return err
	}

	err := p.breakers.Get(ep.Name).Do(func() error {
		if !p.useRetry {
			return op(ctx)
		}
		return retry.Run(ctx, p.policy, op)
	})
	if err == nil {
		return res
	}

	var oe *breaker.OpenError
	if errors.As(err, &oe) {
		p.log.Debug("probe_rejected_by_breaker",
			zap.String("endpoint", ep.Name),
			zap.Duration("retry_after", oe.RetryAfter),
		)
		return p.failed(ep, domain.FailureUnexpected, 0, err.Error())
	}

	category := domain.FailureUnexpected
	var pe *probeError
	if errors.As(err, &pe) {
		category = pe.category
	}
	return p.failed(ep, category, res.LatencyMS, err.Error())
}

// request performs one HTTP attempt. Transport problems come back as
// *probeError; a response with the wrong status is a resolved failure, not
// an error, so it is neither retried nor counted by the breaker.
func (p *Prober) request(ctx context.Context, ep domain.Endpoint) (domain.ProbeResult, error) {
	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}

	attemptCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	var body io.Reader
	if len(ep.Body) > 0 {
		body = bytes.NewReader(ep.Body)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(attemptCtx, method, ep.URL, body)
	if err != nil {
		return domain.ProbeResult{}, &probeError{category: domain.FailureClient, err: err}
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ProbeResult{LatencyMS: msSince(start)}, categorize(err, ep.Timeout)
	}
	defer resp.Body.Close()

	// Drain so latency covers the full body read.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return domain.ProbeResult{LatencyMS: msSince(start)}, categorize(err, ep.Timeout)
	}
	latency := msSince(start)

	if resp.StatusCode != ep.ExpectedStatus {
		return domain.ProbeResult{
			EndpointID: ep.ID,
			Success:    false,
			HTTPStatus: resp.StatusCode,
			LatencyMS:  latency,
			Category:   domain.FailureStatusMismatch,
			Message:    fmt.Sprintf("expected status %d, got %d", ep.ExpectedStatus, resp.StatusCode),
			CheckedAt:  time.Now().UTC(),
		}, nil
	}

	return domain.ProbeResult{
		EndpointID: ep.ID,
		Success:    true,
		HTTPStatus: resp.StatusCode,
		LatencyMS:  latency,
		CheckedAt:  time.Now().UTC(),
	}, nil
}

func (p *Prober) failed(ep domain.Endpoint, cat domain.FailureCategory, latencyMS float64, msg string) domain.ProbeResult {
	return domain.ProbeResult{
		EndpointID: ep.ID,
		Success:    false,
		LatencyMS:  latencyMS,
		Category:   cat,
		Message:    msg,
		CheckedAt:  time.Now().UTC(),
	}
}

func categorize(err error, timeout time.Duration) *probeError {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		return &probeError{
			category: domain.FailureTimeout,
			err:      fmt.Errorf("request timed out after %s: %w", timeout, err),
		}
	case isConnectionError(err):
		return &probeError{category: domain.FailureConnection, err: fmt.Errorf("connection error: %w", err)}
	default:
		return &probeError{category: domain.FailureClient, err: fmt.Errorf("client error: %w", err)}
	}
}

func isConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
