// Package cooldown gates failure notifications so one flapping endpoint
// cannot spam every channel.
//
// Two backends implement the same Gate: a Redis-backed one for multi-process
// deployments and an in-process map for single-process runs. Callers only see
// the Gate interface.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
)

const keyPrefix = "apimonitor:cooldown:"

// Gate decides whether a notification may fire for an endpoint right now.
// TryAcquire returns true when the caller may notify, recording a new
// suppression window atomically; false means suppressed.
type Gate interface {
	TryAcquire(ctx context.Context, id domain.EndpointID) bool
}

// Local is the single-process gate. Entries past their TTL are treated as
// absent.
type Local struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[domain.EndpointID]time.Time
}

func NewLocal(ttl time.Duration) *Local {
	return &Local{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[domain.EndpointID]time.Time),
	}
}

func (l *Local) TryAcquire(_ context.Context, id domain.EndpointID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.entries[id]; ok && now.Sub(at) < l.ttl {
		return false
	}
	l.entries[id] = now
	return true
}

// redisCmds is the slice of the go-redis client the gate needs.
type redisCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis is the distributed gate. SET NX with a TTL makes check-and-record a
// single atomic step. On backend errors the gate fails open: missing a real
// incident is worse than a duplicate alert. A failed backend also disables
// itself, routing subsequent calls through the in-process fallback until
// Revalidate succeeds.
type Redis struct {
	client   redisCmds
	ttl      time.Duration
	fallback *Local
	log      *zap.Logger
	disabled atomic.Bool
}

func NewRedis(redisURL string, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newRedisGate(client, ttl, log), nil
}

func newRedisGate(client redisCmds, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{
		client:   client,
		ttl:      ttl,
		fallback: NewLocal(ttl),
		log:      log,
	}
}

func (r *Redis) TryAcquire(ctx context.Context, id domain.EndpointID) bool {
	if r.disabled.Load() {
		return r.fallback.TryAcquire(ctx, id)
	}

	ok, err := r.client.SetNX(ctx, keyPrefix+string(id), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		r.disabled.Store(true)
		r.log.Warn("cooldown_backend_failed_open",
			zap.String("endpoint_id", string(id)),
			zap.Error(err),
		)
		return true
	}
	return ok
}

// Revalidate pings the backend and re-enables it on success.
func (r *Redis) Revalidate(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cooldown backend still unreachable: %w", err)
	}
	if r.disabled.Swap(false) {
		r.log.Info("cooldown_backend_restored")
	}
	return nil
}

var (
	_ Gate = (*Local)(nil)
	_ Gate = (*Redis)(nil)
)
