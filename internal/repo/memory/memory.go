// Package memory is the in-process store, used for tests and single-node
// runs without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

type Store struct {
	mu            sync.RWMutex
	endpoints     map[domain.EndpointID]*domain.Endpoint
	results       []*domain.ProbeResult
	notifications []*repo.NotificationRecord
}

func New() *Store {
	return &Store{
		endpoints: make(map[domain.EndpointID]*domain.Endpoint),
		results:   make([]*domain.ProbeResult, 0, 128),
	}
}

// ---- EndpointStore ----

func (m *Store) Add(ctx context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = domain.EndpointID(uuid.NewString())
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *Store) List(ctx context.Context) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		out = append(out, *e)
	}
	return out, nil
}

func (m *Store) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Endpoint
	for _, e := range m.endpoints {
		if e.Active {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *Store) Update(ctx context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.endpoints[e.ID]
	if !ok {
		return repo.ErrNotFound
	}
	e.CreatedAt = cur.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *Store) Delete(ctx context.Context, id domain.EndpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.endpoints, id)
	return nil
}

// ---- ResultStore ----

func (m *Store) Append(ctx context.Context, r *domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.results = append(m.results, &cp)
	return nil
}

func (m *Store) ListSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ProbeResult
	for _, r := range m.results {
		if r.EndpointID == id && !r.CheckedAt.Before(since) {
			out = append(out, *r)
		}
	}
	// results are appended in check order, so out is already oldest-first
	return out, nil
}

func (m *Store) LastByEndpoint(ctx context.Context, id domain.EndpointID) (*domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *domain.ProbeResult
	for _, r := range m.results {
		if r.EndpointID != id {
			continue
		}
		if last == nil || r.CheckedAt.After(last.CheckedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

// ---- NotificationLogStore ----

func (m *Store) AppendNotification(ctx context.Context, rec *repo.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.notifications = append(m.notifications, &cp)
	return nil
}

// Notifications returns a copy of the log, newest last. Test helper.
func (m *Store) Notifications() []repo.NotificationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]repo.NotificationRecord, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	return out
}

var (
	_ repo.EndpointStore        = (*Store)(nil)
	_ repo.ResultStore          = (*Store)(nil)
	_ repo.NotificationLogStore = (*Store)(nil)
)
