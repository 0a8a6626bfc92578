// Package uptime computes availability statistics and downtime incidents
// from stored probe results. It is a read-only derived view: source results
// are never mutated.
package uptime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// GroupingGap merges consecutive failures into one incident when the gap
// between them is at or under this threshold. It is a fixed value regardless
// of the endpoint's check interval — a known limitation: endpoints probed
// less often than this can see one outage split into several incidents.
const GroupingGap = 120 * time.Second

// ErrEndpointNotFound is returned for statistics on an unknown endpoint.
var ErrEndpointNotFound = errors.New("endpoint not found")

// ErrInvalidWindow marks a bad window selector; match with errors.Is.
var ErrInvalidWindow = errors.New("invalid window")

var windows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParseWindow resolves a named window selector. Unknown selectors are a
// validation error, raised before any computation.
func ParseWindow(name string) (time.Duration, error) {
	d, ok := windows[name]
	if !ok {
		return 0, fmt.Errorf("%w %q, use one of 24h, 7d, 30d", ErrInvalidWindow, name)
	}
	return d, nil
}

type Statistics struct {
	EndpointID   domain.EndpointID `json:"endpoint_id"`
	EndpointName string            `json:"endpoint_name"`
	Window       string            `json:"window"`
	UptimePct    float64           `json:"uptime_pct"`
	TotalChecks  int               `json:"total_checks"`
	Successful   int               `json:"successful_checks"`
	Failed       int               `json:"failed_checks"`
	AvgLatencyMS *float64          `json:"avg_latency_ms"`
	MinLatencyMS *float64          `json:"min_latency_ms"`
	MaxLatencyMS *float64          `json:"max_latency_ms"`
	LastCheck    *time.Time        `json:"last_check"`
	LastSuccess  *time.Time        `json:"last_success"`
	LastFailure  *time.Time        `json:"last_failure"`
}

type Incident struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes float64   `json:"duration_minutes"`
	FailureCount    int       `json:"failure_count"`
	Errors          []string  `json:"errors"`
}

type Summary struct {
	TotalEndpoints     int       `json:"total_endpoints"`
	ActiveEndpoints    int       `json:"active_endpoints"`
	InactiveEndpoints  int       `json:"inactive_endpoints"`
	HealthyEndpoints   int       `json:"healthy_endpoints"`
	UnhealthyEndpoints int       `json:"unhealthy_endpoints"`
	Timestamp          time.Time `json:"timestamp"`
}

type Aggregator struct {
	endpoints repo.EndpointStore
	results   repo.ResultStore
	now       func() time.Time
}

func New(endpoints repo.EndpointStore, results repo.ResultStore) *Aggregator {
	return &Aggregator{endpoints: endpoints, results: results, now: time.Now}
}

// Statistics summarizes probe results inside the window. An endpoint with no
// results yields the zero shape, not an error.
func (a *Aggregator) Statistics(ctx context.Context, id domain.EndpointID, window string) (*Statistics, error) {
	dur, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	ep, err := a.endpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrEndpointNotFound
	}

	rs, err := a.results.ListSince(ctx, id, a.now().Add(-dur))
	if err != nil {
		return nil, err
	}

	stats := &Statistics{EndpointID: id, EndpointName: ep.Name, Window: window}
	if len(rs) == 0 {
		return stats, nil
	}

	var (
		sum      float64
		min, max float64
		timed    int
	)
	for _, r := range rs {
		if r.Success {
			stats.Successful++
			t := r.CheckedAt
			stats.LastSuccess = latest(stats.LastSuccess, t)
		} else {
			stats.Failed++
			t := r.CheckedAt
			stats.LastFailure = latest(stats.LastFailure, t)
		}
		stats.LastCheck = latest(stats.LastCheck, r.CheckedAt)

		// Checks that never got a response (breaker rejections, dial
		// failures) carry no latency and must not drag the minimum to 0.
		if r.LatencyMS <= 0 {
			continue
		}
		sum += r.LatencyMS
		if timed == 0 || r.LatencyMS < min {
			min = r.LatencyMS
		}
		if timed == 0 || r.LatencyMS > max {
			max = r.LatencyMS
		}
		timed++
	}
	stats.TotalChecks = len(rs)
	stats.UptimePct = round2(float64(stats.Successful) / float64(stats.TotalChecks) * 100)

	if timed > 0 {
		avg := round2(sum / float64(timed))
		minV, maxV := round2(min), round2(max)
		stats.AvgLatencyMS = &avg
		stats.MinLatencyMS = &minV
		stats.MaxLatencyMS = &maxV
	}
	return stats, nil
}

// Incidents groups failed results into continuous outages. Failures whose
// gap is at most GroupingGap belong to the same incident; a larger gap
// starts a new one. Incidents shorter than minDuration are dropped.
func (a *Aggregator) Incidents(ctx context.Context, id domain.EndpointID, window string, minDuration time.Duration) ([]Incident, error) {
	dur, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	ep, err := a.endpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrEndpointNotFound
	}

	rs, err := a.results.ListSince(ctx, id, a.now().Add(-dur))
	if err != nil {
		return nil, err
	}

	var failures []domain.ProbeResult
	for _, r := range rs {
		if !r.Success {
			failures = append(failures, r)
		}
	}
	if len(failures) == 0 {
		return []Incident{}, nil
	}

	var out []Incident
	cur := newIncidentBuilder(failures[0])
	for _, f := range failures[1:] {
		if f.CheckedAt.Sub(cur.end) <= GroupingGap {
			cur.extend(f)
			continue
		}
		if inc, keep := cur.build(minDuration); keep {
			out = append(out, inc)
		}
		cur = newIncidentBuilder(f)
	}
	if inc, keep := cur.build(minDuration); keep {
		out = append(out, inc)
	}
	if out == nil {
		out = []Incident{}
	}
	return out, nil
}

type incidentBuilder struct {
	start, end time.Time
	count      int
	errs       []string
	seen       map[string]bool
}

func newIncidentBuilder(first domain.ProbeResult) *incidentBuilder {
	b := &incidentBuilder{
		start: first.CheckedAt,
		end:   first.CheckedAt,
		seen:  make(map[string]bool),
	}
	b.extendCounts(first)
	return b
}

func (b *incidentBuilder) extend(f domain.ProbeResult) {
	b.end = f.CheckedAt
	b.extendCounts(f)
}

func (b *incidentBuilder) extendCounts(f domain.ProbeResult) {
	b.count++
	if f.Message != "" && !b.seen[f.Message] {
		b.seen[f.Message] = true
		b.errs = append(b.errs, f.Message)
	}
}

func (b *incidentBuilder) build(minDuration time.Duration) (Incident, bool) {
	d := b.end.Sub(b.start)
	if d < minDuration {
		return Incident{}, false
	}
	return Incident{
		Start:           b.start,
		End:             b.end,
		DurationMinutes: math.Round(d.Minutes()*10) / 10,
		FailureCount:    b.count,
		Errors:          b.errs,
	}, true
}

// OverallSummary classifies every active endpoint by its single most recent
// result; an endpoint with no result yet counts as unhealthy.
func (a *Aggregator) OverallSummary(ctx context.Context) (*Summary, error) {
	eps, err := a.endpoints.List(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{TotalEndpoints: len(eps), Timestamp: a.now().UTC()}
	for _, ep := range eps {
		if !ep.Active {
			s.InactiveEndpoints++
			continue
		}
		s.ActiveEndpoints++

		last, err := a.results.LastByEndpoint(ctx, ep.ID)
		if err != nil {
			return nil, err
		}
		if last != nil && last.Success {
			s.HealthyEndpoints++
		} else {
			s.UnhealthyEndpoints++
		}
	}
	return s, nil
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		return &t
	}
	return cur
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
