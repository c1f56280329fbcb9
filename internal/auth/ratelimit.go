package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an actor may proceed.
type RateLimiter interface {
	Allow(actor string) bool
}

// TokenBucketLimiter keeps one token bucket per actor.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewTokenBucketLimiter allows perMinute requests per actor with the given
// burst. A non-positive perMinute disables limiting.
func NewTokenBucketLimiter(perMinute, burst int) *TokenBucketLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements RateLimiter.
func (l *TokenBucketLimiter) Allow(actor string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[actor]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[actor] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
