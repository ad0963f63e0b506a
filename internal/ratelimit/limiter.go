// Package ratelimit guards token issuance with fixed-window counters and
// defines the caller-side retry contract for rate-limited issuance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result carries the telemetry returned with every limiter decision,
// allowed or not. Reset is the time remaining until the current window
// closes; it is rendered as delta seconds everywhere it crosses the wire.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// ResetSeconds returns the reset hint as whole seconds, rounded up so a
// caller sleeping for the returned value always lands in the next window.
func (r Result) ResetSeconds() int {
	if r.Reset <= 0 {
		return 0
	}
	secs := int((r.Reset + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter bounds how often a key may take an issuance slot.
//
// Take consumes one unit of budget when capacity remains and must be atomic
// under concurrent callers for the same key: no read-then-write pairs.
type Limiter interface {
	Take(ctx context.Context, key string) (Result, error)
}

const (
	// DefaultLimit is the issuance budget per subject per window.
	DefaultLimit = 30
	// DefaultWindow is the fixed window length.
	DefaultWindow = time.Minute
)

// FixedWindow is an in-process fixed-window limiter. Counters reset at
// window boundaries aligned to the window length.
// NOTE: process-local; multi-instance deployments share the Postgres limiter.
type FixedWindow struct {
	mu      sync.Mutex
	buckets map[string]*windowCount

	limit  int
	window time.Duration
	now    func() time.Time
}

type windowCount struct {
	start time.Time
	count int
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *FixedWindow) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewFixedWindow creates a limiter allowing limit takes per window per key.
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &FixedWindow{
		buckets: make(map[string]*windowCount),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FixedWindow) Take(ctx context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Truncate(l.window)

	b, ok := l.buckets[key]
	if !ok || b.start.Before(start) {
		b = &windowCount{start: start}
		l.buckets[key] = b
	}

	res := Result{
		Limit: l.limit,
		Reset: b.start.Add(l.window).Sub(now),
	}
	if b.count >= l.limit {
		res.Remaining = 0
		return res, nil
	}
	b.count++
	res.Allowed = true
	res.Remaining = l.limit - b.count
	return res, nil
}

// Sweep drops buckets whose window closed before the given time. Hygiene for
// long-running processes; correctness does not depend on it.
func (l *FixedWindow) Sweep(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.start.Add(l.window).Before(before) {
			delete(l.buckets, key)
		}
	}
}
