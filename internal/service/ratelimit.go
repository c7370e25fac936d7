package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/cache"
	"stockcount-sync-api/internal/logging"
)

// RateLimitConfig holds the per-user quota.
type RateLimitConfig struct {
	Enabled   bool
	Requests  int
	Window    time.Duration
	KeyPrefix string
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
}

// RateLimiter enforces a fixed quota per window on the shared KV store, so
// the quota holds across API instances. The window starts at a key's first
// request.
type RateLimiter struct {
	store cache.Store
	cfg   RateLimitConfig
	log   zerolog.Logger
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(store cache.Store, cfg RateLimitConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "stockcount"
	}
	return &RateLimiter{store: store, cfg: cfg, log: logging.Component("ratelimit")}
}

// Allow counts one request for key. Store failures let the request through.
func (r *RateLimiter) Allow(ctx context.Context, key string) Decision {
	if !r.cfg.Enabled {
		return Decision{Allowed: true, Limit: r.cfg.Requests, Remaining: r.cfg.Requests}
	}

	count, left, err := r.store.IncrWindow(ctx, r.cfg.KeyPrefix+":ratelimit:"+key, r.cfg.Window)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return Decision{Allowed: true, Limit: r.cfg.Requests, Remaining: r.cfg.Requests}
	}

	remaining := r.cfg.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(r.cfg.Requests),
		Limit:     r.cfg.Requests,
		Remaining: remaining,
	}
	if !d.Allowed {
		d.RetryAfter = left
	}
	return d
}
