package gate

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces fixed one-second windows per credential. A request in
// window W is admitted while the window counter is below the credential's
// limit; denied requests do not advance the counter. Buckets idle for more
// than the idle threshold are garbage collected.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	idleAfter time.Duration
	now       func() time.Time
}

type bucket struct {
	windowStart int64
	count       int
	lastSeen    time.Time
}

// NewLimiter builds a limiter with the default 60s idle eviction.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets:   make(map[string]*bucket),
		idleAfter: 60 * time.Second,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow records one request attempt against the key. The limit is the
// credential's per-second allowance; a non-positive limit denies everything.
func (l *Limiter) Allow(key string, limit int) bool {
	now := l.now()
	sec := now.Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: sec}
		l.buckets[key] = b
	}
	if b.windowStart != sec {
		b.windowStart = sec
		b.count = 0
	}
	b.lastSeen = now
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// WindowCount returns the admitted count in the key's current window.
func (l *Limiter) WindowCount(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || b.windowStart != l.now().Unix() {
		return 0
	}
	return b.count
}

// Run garbage collects idle buckets until the context is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.idleAfter)
	l.mu.Lock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
	l.mu.Unlock()
}

// Size returns the number of tracked buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
