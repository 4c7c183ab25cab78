package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second. Zero or less means unlimited.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter is a token bucket backed by x/time/rate.
type Limiter struct {
	bucket *rate.Limiter
	now    func() time.Time
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		limit = rate.Inf
	}
	return &Limiter{bucket: rate.NewLimiter(limit, opts.Burst), now: time.Now}
}

// Every creates a limiter that admits one call per interval.
func Every(interval time.Duration, burst int) *Limiter {
	l := NewLimiter(LimiterOpts{Burst: burst})
	l.bucket.SetLimit(rate.Every(interval))
	return l
}

// Allow reports whether a call may happen now, consuming a token if so.
func (l *Limiter) Allow() bool {
	return l.bucket.AllowN(l.now(), 1)
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// KeyedLimiter keeps one Limiter per key, such as a client address.
// Idle entries are dropped after TTL.
type KeyedLimiter struct {
	opts LimiterOpts
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]*keyedEntry
	now     func() time.Time
}

type keyedEntry struct {
	limiter  *Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a per-key limiter.
func NewKeyedLimiter(opts LimiterOpts, ttl time.Duration) *KeyedLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeyedLimiter{opts: opts, ttl: ttl, entries: make(map[string]*keyedEntry), now: time.Now}
}

// Allow consumes a token from key's bucket.
func (k *KeyedLimiter) Allow(key string) bool {
	now := k.now()
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: NewLimiter(k.opts)}
		e.limiter.now = k.now
		k.entries[key] = e
	}
	e.lastSeen = now
	k.sweep(now)
	k.mu.Unlock()
	return e.limiter.Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// sweep drops idle keys. Must hold mu.
func (k *KeyedLimiter) sweep(now time.Time) {
	for key, e := range k.entries {
		if now.Sub(e.lastSeen) > k.ttl {
			delete(k.entries, key)
		}
	}
}
