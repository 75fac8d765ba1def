// Package ratelimit implements the fixed-window request limiter applied at
// the boundary, keyed by authenticated identity with the source address as a
// fallback. Window state lives in memory only; entries reset lazily on access
// and are discarded by a periodic sweep.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agentmesh-ai/meshd/internal/auth"
)

// entry is one identity's counter within the active window.
type entry struct {
	count     int
	resetTime time.Time
}

// Decision reports the outcome of a limit check, including the header values
// every response carries regardless of outcome.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Option defines a functional option for configuring a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter is a fixed-window rate limiter.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	logger hclog.Logger
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewLimiter creates a limiter allowing max requests per window.
func NewLimiter(logger hclog.Logger, max int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		logger:  logger.Named("ratelimit"),
		max:     max,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l
}

// Allow records one request for the key and decides whether it is within
// budget. An expired window is reset lazily on access.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetTime) {
		e = &entry{resetTime: now.Add(l.window)}
		l.entries[key] = e
	}

	e.count++

	remaining := l.max - e.count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   e.count <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		Reset:     e.resetTime,
	}
}

// Sweep discards entries whose window has rolled over.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if !now.Before(e.resetTime) {
			delete(l.entries, key)
		}
	}
}

// RunSweeper periodically sweeps expired entries until the context is
// canceled.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Middleware applies the limiter to HTTP requests. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset; over-budget
// requests are answered with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := l.Allow(identityKey(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// identityKey prefers the authenticated user id and falls back to the source
// address.
func identityKey(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok && claims.UserID() != "" {
		return "user:" + claims.UserID()
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
