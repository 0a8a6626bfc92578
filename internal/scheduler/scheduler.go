// Package scheduler owns one periodic probe job per active endpoint.
//
// Each job is a goroutine with its own ticker and cancel handle, so jobs can
// be added, removed, and updated independently while the process runs. Ticks
// for one endpoint never overlap: a slow tick delays, but does not
// duplicate, the next one. Ticks for different endpoints are independent.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/cooldown"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Prober issues one health check. Implementations always resolve to a
// result, never an error.
type Prober interface {
	Check(ctx context.Context, ep domain.Endpoint) domain.ProbeResult
}

// Notifier receives edge notifications. Dispatch is fire-and-forget.
type Notifier interface {
	NotifyFailure(ctx context.Context, ep domain.Endpoint, res domain.ProbeResult)
	NotifyRecovery(ctx context.Context, ep domain.Endpoint, res domain.ProbeResult)
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	EndpointID domain.EndpointID `json:"endpoint_id"`
	Interval   time.Duration     `json:"interval"`
	NextRun    time.Time         `json:"next_run"`
}

type job struct {
	id       domain.EndpointID
	interval time.Duration
	cancel   context.CancelFunc

	mu      sync.Mutex
	nextRun time.Time
}

func (j *job) setNextRun(t time.Time) {
	j.mu.Lock()
	j.nextRun = t
	j.mu.Unlock()
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{EndpointID: j.id, Interval: j.interval, NextRun: j.nextRun}
}

type Scheduler struct {
	endpoints repo.EndpointStore
	results   repo.ResultStore
	prober    Prober
	gate      cooldown.Gate
	notifier  Notifier
	log       *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	jobs  map[domain.EndpointID]*job
	edges map[domain.EndpointID]bool // last known success per endpoint
}

func New(
	endpoints repo.EndpointStore,
	results repo.ResultStore,
	prober Prober,
	gate cooldown.Gate,
	notifier Notifier,
	log *zap.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		endpoints: endpoints,
		results:   results,
		prober:    prober,
		gate:      gate,
		notifier:  notifier,
		log:       log,
		baseCtx:   ctx,
		stop:      cancel,
		jobs:      make(map[domain.EndpointID]*job),
		edges:     make(map[domain.EndpointID]bool),
	}
}

// Start registers a job for every active endpoint.
func (s *Scheduler) Start(ctx context.Context) error {
	eps, err := s.endpoints.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		s.AddJob(ep)
	}
	s.log.Info("scheduler_started", zap.Int("jobs", len(eps)))
	return nil
}

// Stop cancels every job and waits for in-flight ticks to finish. Ticks are
// bounded by the probe deadline, so this returns promptly.
func (s *Scheduler) Stop() {
	s.stop()
	s.wg.Wait()
	s.log.Info("scheduler_stopped")
}

// AddJob registers a periodic job for the endpoint. It is a no-op when a job
// already exists for the id or the endpoint is inactive.
func (s *Scheduler) AddJob(ep domain.Endpoint) {
	if !ep.Active {
		return
	}
	s.mu.Lock()
	if _, exists := s.jobs[ep.ID]; exists {
		s.mu.Unlock()
		s.log.Warn("scheduler_job_exists", zap.String("endpoint_id", string(ep.ID)))
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	j := &job{id: ep.ID, interval: ep.Interval, cancel: cancel}
	s.jobs[ep.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, j)

	s.log.Info("scheduler_job_added",
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("name", ep.Name),
		zap.Duration("interval", ep.Interval),
	)
}

// RemoveJob cancels the endpoint's job and clears its edge state.
// Cancellation stops future ticks; an in-flight tick finishes on its own
// deadline. A missing job is a no-op, and cancelling twice is safe.
func (s *Scheduler) RemoveJob(id domain.EndpointID) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
		delete(s.edges, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	s.log.Info("scheduler_job_removed", zap.String("endpoint_id", string(id)))
}

// UpdateJob re-registers the job when the endpoint is active (picking up a
// changed interval) and removes it otherwise.
func (s *Scheduler) UpdateJob(ep domain.Endpoint) {
	s.RemoveJob(ep.ID)
	if ep.Active {
		s.AddJob(ep)
	}
}

func (s *Scheduler) JobStatus(id domain.EndpointID) (JobStatus, bool) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	return j.status(), true
}

func (s *Scheduler) AllJobStatuses() map[domain.EndpointID]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.EndpointID]JobStatus, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = j.status()
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	t := time.NewTicker(j.interval)
	defer t.Stop()

	// Job cancellation only stops future ticks. An in-flight tick runs on a
	// detached context so removing or editing the endpoint mid-probe cannot
	// abort it into a fake failure; the probe deadline still bounds it.
	tickCtx := context.WithoutCancel(ctx)

	// immediate first pass, then one tick per interval
	j.setNextRun(time.Now().Add(j.interval))
	s.tickSafe(tickCtx, j)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.setNextRun(time.Now().Add(j.interval))
			s.tickSafe(tickCtx, j)
		}
	}
}

// tickSafe isolates one tick: nothing escaping it may kill the job loop or
// touch other endpoints' jobs.
func (s *Scheduler) tickSafe(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler_tick_panic",
				zap.String("endpoint_id", string(j.id)),
				zap.Any("panic", r),
			)
		}
	}()
	s.tick(ctx, j)
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	// Re-fetch: the definition may have changed or vanished since scheduling.
	ep, err := s.endpoints.Get(ctx, j.id)
	if err != nil {
		s.log.Warn("scheduler_fetch_error",
			zap.String("endpoint_id", string(j.id)),
			zap.Error(err),
		)
		return
	}
	if ep == nil {
		s.log.Info("scheduler_endpoint_deleted", zap.String("endpoint_id", string(j.id)))
		s.RemoveJob(j.id)
		return
	}
	if !ep.Active {
		s.log.Debug("scheduler_endpoint_inactive", zap.String("endpoint_id", string(j.id)))
		return
	}

	res := s.prober.Check(ctx, *ep)

	if err := s.results.Append(ctx, &res); err != nil {
		s.log.Warn("scheduler_append_error",
			zap.String("endpoint_id", string(j.id)),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	if _, registered := s.jobs[j.id]; !registered {
		// The job was removed while we probed. The result stays persisted,
		// but a gone endpoint must not raise edges or notices.
		s.mu.Unlock()
		s.log.Debug("scheduler_job_removed_mid_tick", zap.String("endpoint_id", string(j.id)))
		return
	}
	prev, hasPrev := s.edges[j.id]
	s.edges[j.id] = res.Success
	s.mu.Unlock()

	switch {
	case !res.Success && (!hasPrev || prev):
		// failure edge
		s.log.Warn("scheduler_endpoint_down",
			zap.String("endpoint_id", string(j.id)),
			zap.String("name", ep.Name),
			zap.String("category", string(res.Category)),
			zap.String("message", res.Message),
		)
		if s.gate.TryAcquire(ctx, j.id) {
			s.notifier.NotifyFailure(ctx, *ep, res)
		} else {
			s.log.Debug("scheduler_notify_suppressed", zap.String("endpoint_id", string(j.id)))
		}
	case res.Success && hasPrev && !prev:
		// recovery edge bypasses the cooldown
		s.log.Info("scheduler_endpoint_recovered",
			zap.String("endpoint_id", string(j.id)),
			zap.String("name", ep.Name),
		)
		s.notifier.NotifyRecovery(ctx, *ep, res)
	default:
		s.log.Debug("scheduler_checked",
			zap.String("endpoint_id", string(j.id)),
			zap.Bool("success", res.Success),
			zap.Float64("latency_ms", res.LatencyMS),
		)
	}
}
