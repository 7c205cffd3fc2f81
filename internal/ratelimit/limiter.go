// Package ratelimit throttles API callers with token buckets. Anonymous
// callers are keyed by client IP; callers holding a configured API key are
// keyed by the key name and get their own, usually larger, allowance.
package ratelimit

import (
	"time"

	"appupdate/internal/models"
)

// Limiter decides whether a caller identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow consumes one token for key and reports the bucket state.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per minute
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// Tiers pairs the anonymous and authenticated limiters.
type Tiers struct {
	Anonymous     Limiter
	Authenticated Limiter
}

// NewTiers builds in-memory limiters from configuration. Unset authenticated
// limits default to twice the anonymous ones.
func NewTiers(cfg models.RateLimitConfig) *Tiers {
	authRPM := cfg.AuthenticatedRequestsPerMinute
	if authRPM <= 0 {
		authRPM = cfg.RequestsPerMinute * 2
	}
	authBurst := cfg.AuthenticatedBurstSize
	if authBurst <= 0 {
		authBurst = cfg.BurstSize * 2
	}
	return &Tiers{
		Anonymous:     NewMemoryLimiter(cfg.RequestsPerMinute, cfg.BurstSize, cfg.CleanupInterval),
		Authenticated: NewMemoryLimiter(authRPM, authBurst, cfg.CleanupInterval),
	}
}

// Close stops both limiters.
func (t *Tiers) Close() {
	if t.Anonymous != nil {
		t.Anonymous.Close()
	}
	if t.Authenticated != nil && t.Authenticated != t.Anonymous {
		t.Authenticated.Close()
	}
}
