package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-connection token bucket for inbound frames. It also
// throttles how often the client is told it is being limited.
type RateLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	lastWarning time.Time
	warnEvery   time.Duration
}

// NewRateLimiter allows burst frames at once and refills one token per
// interval.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Every(interval), burst),
		warnEvery: 3 * time.Second,
	}
}

func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// ShouldWarn reports whether a rate-limit warning may be sent now, and if so
// records it.
func (l *RateLimiter) ShouldWarn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.lastWarning) < l.warnEvery {
		return false
	}
	l.lastWarning = now
	return true
}
