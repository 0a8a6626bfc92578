package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// ErrNotFound is returned by mutations targeting a missing endpoint. Reads
// return (nil, nil) for absent rows instead.
var ErrNotFound = errors.New("not found")

// Ports (interfaces) — swap in any DB adapter later.

type EndpointStore interface {
	Add(ctx context.Context, e *domain.Endpoint) error
	// Get returns nil, nil when the endpoint does not exist.
	Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
	List(ctx context.Context) ([]domain.Endpoint, error)
	ListActive(ctx context.Context) ([]domain.Endpoint, error)
	Update(ctx context.Context, e *domain.Endpoint) error
	Delete(ctx context.Context, id domain.EndpointID) error
}

type ResultStore interface {
	// Append is an idempotent-safe, append-only write.
	Append(ctx context.Context, r *domain.ProbeResult) error
	// ListSince returns results with checked_at >= since, oldest first.
	ListSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.ProbeResult, error)
	// LastByEndpoint returns nil, nil when no result exists yet.
	LastByEndpoint(ctx context.Context, id domain.EndpointID) (*domain.ProbeResult, error)
}

// NotificationRecord logs one delivery attempt on one channel.
type NotificationRecord struct {
	EndpointID domain.EndpointID `json:"endpoint_id"`
	Channel    string            `json:"channel"`
	Status     string            `json:"status"` // sent | failed
	Message    string            `json:"message"`
	Error      string            `json:"error,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

type NotificationLogStore interface {
	AppendNotification(ctx context.Context, rec *NotificationRecord) error
}
