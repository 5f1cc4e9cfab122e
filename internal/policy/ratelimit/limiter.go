package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
)

// UpstreamConfig holds the outbound token bucket settings shared by every registrar host.
type UpstreamConfig struct {
	RPS   float64
	Burst int
}

// UpstreamLimiter paces outbound registrar requests per host.
type UpstreamLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewUpstream creates an UpstreamLimiter. A non-positive RPS disables pacing.
func NewUpstream(cfg UpstreamConfig) *UpstreamLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &UpstreamLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until the registrar host behind rawURL may receive another request.
// It never outlives ctx, so the wait counts against the caller's deadline.
func (l *UpstreamLimiter) Wait(ctx context.Context, registrar, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upstream rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveUpstreamDelay(registrar, waited)
	}
	return nil
}
