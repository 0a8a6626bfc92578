// Package breaker implements a per-key circuit breaker for outbound calls.
//
// A breaker moves Closed -> Open once enough counted failures pile up, rejects
// everything while Open, and after the recovery timeout admits trial calls in
// HalfOpen until enough successes close it again.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// OpenError is the rejection returned while a breaker is Open.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Config tunes one breaker. Counted decides whether an error counts toward
// the failure threshold; nil counts every error.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	Counted          func(error) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Snapshot is a read-only view of breaker state for monitoring.
type Snapshot struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	SuccessCount     int        `json:"success_count"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	FailureThreshold int        `json:"failure_threshold"`
	RecoveryTimeout  string     `json:"recovery_timeout"`
}

// Breaker guards one key. The admission decision and all counter updates run
// under mu; the wrapped operation runs outside it, so a slow call never
// blocks other callers checking state. Two calls admitted in that window may
// both run; only counting precision is affected.
type Breaker struct {
	name string
	cfg  Config
	log  *zap.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
}

func New(name string, cfg Config, log *zap.Logger) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{name: name, cfg: cfg, log: log, state: Closed}
}

// Do runs op with breaker protection. While Open it returns *OpenError
// without invoking op. The transition to HalfOpen happens before op runs.
func (b *Breaker) Do(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op()
	if err != nil && (b.cfg.Counted == nil || b.cfg.Counted(err)) {
		b.onFailure()
		return err
	}
	if err != nil {
		// Not a counted failure; pass through without touching state.
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	since := time.Since(b.lastFailureAt)
	if since < b.cfg.RecoveryTimeout {
		return &OpenError{Name: b.name, RetryAfter: b.cfg.RecoveryTimeout - since}
	}

	b.state = HalfOpen
	b.successCount = 0
	b.log.Warn("breaker_half_open",
		zap.String("breaker", b.name),
		zap.Duration("since_last_failure", since),
	)
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.log.Info("breaker_closed", zap.String("breaker", b.name))
		}
	case Closed:
		// Unrelated earlier failures carry no penalty once we see a success.
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = time.Now()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.successCount = 0
		b.log.Warn("breaker_reopened", zap.String("breaker", b.name))
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.log.Warn("breaker_opened",
				zap.String("breaker", b.name),
				zap.Int("failure_count", b.failureCount),
			)
		}
	}
}

// Reset forces the breaker back to Closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureAt = time.Time{}
	b.log.Info("breaker_reset", zap.String("breaker", b.name))
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout.String(),
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	return s
}
