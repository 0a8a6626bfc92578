package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiter struct {
	rps   rate.Limit
	burst int

	mu   sync.Mutex
	m    map[string]*entry
	last time.Time // last sweep of stale entries
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

const staleAfter = 10 * time.Minute

func newLimiter(rps float64, burst int) *limiter {
	return &limiter{
		rps:   rate.Limit(rps),
		burst: burst,
		m:     make(map[string]*entry),
		last:  time.Now(),
	}
}

func (l *limiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.last) > staleAfter {
		for k, e := range l.m {
			if now.Sub(e.seen) > staleAfter {
				delete(l.m, k)
			}
		}
		l.last = now
	}

	e := l.m[key]
	if e == nil {
		e = &entry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.m[key] = e
	}
	e.seen = now
	return e.lim.Allow()
}

// RateLimit limits requests per client IP to rps with the given burst.
// A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// honor X-Forwarded-For if behind a proxy
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
