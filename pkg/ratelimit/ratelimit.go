package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is attached to the gin context when a client exceeds its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

type Config struct {
	// RequestsPerSecond <= 0 disables limiting.
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func NewRateLimiter(cfg Config, logger *zap.Logger) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

func (r *RateLimiter) Enabled() bool {
	return r != nil && r.limit > 0
}

// Allow consumes one token for key.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than the configured TTL.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, entry := range r.entries {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps idle limiters every interval until ctx is cancelled.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if !r.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Sugar().Debugw("Evicted idle rate limiters", "count", n)
			}
		}
	}
}

// Middleware rejects requests over budget by recording ErrRateLimited on the context.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		r.logger.Warn("Rate limit exceeded",
			zap.String("client_ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path),
		)
		c.Header("Retry-After", "1")
		_ = c.Error(ErrRateLimited)
		c.Abort()
	}
}
