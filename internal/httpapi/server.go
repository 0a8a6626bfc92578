// Package httpapi exposes the monitor's REST surface: endpoint management,
// statistics, incidents, and operational controls for breakers and the
// notification cooldown backend.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/breaker"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/scheduler"
	"github.com/hamed0406/apimonitor/internal/uptime"
)

// Jobs is the scheduler surface the API needs: endpoint mutations are
// propagated so the running job set follows the store.
type Jobs interface {
	AddJob(ep domain.Endpoint)
	RemoveJob(id domain.EndpointID)
	UpdateJob(ep domain.Endpoint)
	AllJobStatuses() map[domain.EndpointID]scheduler.JobStatus
}

// Prober issues one on-demand check.
type Prober interface {
	Check(ctx context.Context, ep domain.Endpoint) domain.ProbeResult
}

// Revalidator re-checks the cooldown backend after an outage.
type Revalidator interface {
	Revalidate(ctx context.Context) error
}

type Server struct {
	Logger    *zap.Logger
	Endpoints repo.EndpointStore
	Results   repo.ResultStore
	Checker   Prober
	Jobs      Jobs
	Stats     *uptime.Aggregator
	Breakers  *breaker.Registry
	Cooldown  Revalidator // nil when the local gate is in use

	APIKey    string
	RateLimit float64
	RateBurst int
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.RateLimit(s.RateLimit, s.RateBurst))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireKey(s.APIKey))

		r.Get("/endpoints", s.handleListEndpoints)
		r.Post("/endpoints", s.handleCreateEndpoint)
		r.Get("/endpoints/{id}", s.handleGetEndpoint)
		r.Put("/endpoints/{id}", s.handleUpdateEndpoint)
		r.Delete("/endpoints/{id}", s.handleDeleteEndpoint)
		r.Post("/endpoints/{id}/check", s.handleCheckNow)
		r.Get("/endpoints/{id}/stats", s.handleStats)
		r.Get("/endpoints/{id}/incidents", s.handleIncidents)

		r.Get("/summary", s.handleSummary)
		r.Get("/jobs", s.handleJobs)

		r.Get("/breakers", s.handleListBreakers)
		r.Post("/breakers/reset", s.handleResetAllBreakers)
		r.Post("/breakers/{name}/reset", s.handleResetBreaker)

		r.Post("/cooldown/revalidate", s.handleRevalidateCooldown)
	})

	return r
}

// endpointPayload is the create/update body. Durations travel as whole
// seconds to keep the JSON surface free of Go duration encoding.
type endpointPayload struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	IntervalSeconds int               `json:"interval_seconds"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	ExpectedStatus  int               `json:"expected_status"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	Active          *bool             `json:"active"`
}

type endpointView struct {
	ID              domain.EndpointID `json:"id"`
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	IntervalSeconds int               `json:"interval_seconds"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	ExpectedStatus  int               `json:"expected_status"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Active          bool              `json:"active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func viewOf(ep *domain.Endpoint) endpointView {
	return endpointView{
		ID:              ep.ID,
		Name:            ep.Name,
		URL:             ep.URL,
		Method:          ep.Method,
		IntervalSeconds: int(ep.Interval / time.Second),
		TimeoutSeconds:  int(ep.Timeout / time.Second),
		ExpectedStatus:  ep.ExpectedStatus,
		Headers:         ep.Headers,
		Body:            string(ep.Body),
		Active:          ep.Active,
		CreatedAt:       ep.CreatedAt,
		UpdatedAt:       ep.UpdatedAt,
	}
}

func (p *endpointPayload) validate() string {
	if p.Name == "" {
		return "name is required"
	}
	if p.URL == "" {
		return "url is required"
	}
	if p.IntervalSeconds < 10 {
		return "interval_seconds must be at least 10"
	}
	if p.TimeoutSeconds < 1 {
		return "timeout_seconds must be at least 1"
	}
	if p.ExpectedStatus != 0 && (p.ExpectedStatus < 100 || p.ExpectedStatus > 599) {
		return "expected_status must be a valid HTTP status"
	}
	return ""
}

func (p *endpointPayload) apply(ep *domain.Endpoint) {
	ep.Name = p.Name
	ep.URL = p.URL
	ep.Method = p.Method
	ep.Interval = time.Duration(p.IntervalSeconds) * time.Second
	ep.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
	ep.ExpectedStatus = p.ExpectedStatus
	if ep.ExpectedStatus == 0 {
		ep.ExpectedStatus = http.StatusOK
	}
	ep.Headers = p.Headers
	ep.Body = []byte(p.Body)
	ep.Active = true
	if p.Active != nil {
		ep.Active = *p.Active
	}
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var p endpointPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ep := &domain.Endpoint{}
	p.apply(ep)
	if err := s.Endpoints.Add(r.Context(), ep); err != nil {
		s.Logger.Error("endpoint_add_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not add endpoint")
		return
	}
	s.Jobs.AddJob(*ep)

	s.Logger.Info("endpoint_added",
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("url", ep.URL),
	)
	writeJSON(w, http.StatusCreated, viewOf(ep))
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.Endpoints.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	views := make([]endpointView, 0, len(eps))
	for _, ep := range eps {
		views = append(views, viewOf(&ep))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.fetchEndpoint(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ep))
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.fetchEndpoint(w, r)
	if !ok {
		return
	}

	var p endpointPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p.apply(ep)
	if err := s.Endpoints.Update(r.Context(), ep); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not update endpoint")
		return
	}
	s.Jobs.UpdateJob(*ep)

	s.Logger.Info("endpoint_updated", zap.String("endpoint_id", string(ep.ID)))
	writeJSON(w, http.StatusOK, viewOf(ep))
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	if err := s.Endpoints.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete endpoint")
		return
	}
	s.Jobs.RemoveJob(id)

	s.Logger.Info("endpoint_deleted", zap.String("endpoint_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckNow runs one probe synchronously for immediate feedback. The
// result is persisted like a scheduled one but never triggers notifications.
func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.fetchEndpoint(w, r)
	if !ok {
		return
	}

	res := s.Checker.Check(r.Context(), *ep)
	if err := s.Results.Append(r.Context(), &res); err != nil {
		s.Logger.Warn("result_append_failed",
			zap.String("endpoint_id", string(ep.ID)),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "24h"
	}

	stats, err := s.Stats.Statistics(r.Context(), id, window)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	window := q.Get("window")
	if window == "" {
		window = "24h"
	}
	minDuration := time.Duration(0)
	if v := q.Get("min_duration_minutes"); v != "" {
		mins, err := strconv.ParseFloat(v, 64)
		if err != nil || mins < 0 {
			writeError(w, http.StatusBadRequest, "min_duration_minutes must be a non-negative number")
			return
		}
		minDuration = time.Duration(mins * float64(time.Minute))
	}

	incidents, err := s.Stats.Incidents(r.Context(), id, window, minDuration)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Stats.OverallSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summary error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	statuses := s.Jobs.AllJobStatuses()
	out := make([]scheduler.JobStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID < out[j].EndpointID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Breakers.Snapshots())
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.Breakers.Reset(name) {
		writeError(w, http.StatusNotFound, "unknown breaker")
		return
	}
	s.Logger.Info("breaker_reset", zap.String("breaker", name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "breaker": name})
}

func (s *Server) handleResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	s.Breakers.ResetAll()
	s.Logger.Info("breakers_reset_all")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRevalidateCooldown(w http.ResponseWriter, r *http.Request) {
	if s.Cooldown == nil {
		writeError(w, http.StatusConflict, "cooldown backend is local, nothing to revalidate")
		return
	}
	if err := s.Cooldown.Revalidate(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "cooldown backend still unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fetchEndpoint(w http.ResponseWriter, r *http.Request) (*domain.Endpoint, bool) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	ep, err := s.Endpoints.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup error")
		return nil, false
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return nil, false
	}
	return ep, true
}

func (s *Server) writeStatsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, uptime.ErrEndpointNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	case errors.Is(err, uptime.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "stats error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
