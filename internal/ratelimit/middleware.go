package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"appupdate/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Option configures Middleware.
type Option func(*middlewareConfig)

type middlewareConfig struct {
	meter  metric.Meter
	exempt []string
}

// WithMeterProvider records rejected requests as appupdate.ratelimit.rejected.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *middlewareConfig) {
		if mp != nil {
			c.meter = mp.Meter("appupdate/ratelimit")
		}
	}
}

// WithExemptPaths skips limiting for requests whose path has one of prefixes.
func WithExemptPaths(prefixes ...string) Option {
	return func(c *middlewareConfig) {
		c.exempt = append(c.exempt, prefixes...)
	}
}

// Middleware enforces the tier matching the caller. It reads the "api_key"
// context value set by the auth middleware, so it must run after it.
func Middleware(tiers *Tiers, opts ...Option) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{meter: noop.NewMeterProvider().Meter("appupdate/ratelimit")}
	for _, opt := range opts {
		opt(cfg)
	}
	rejected, err := cfg.meter.Int64Counter("appupdate.ratelimit.rejected",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"))
	if err != nil {
		slog.Warn("Failed to create rate limit counter", "error", err)
		rejected, _ = noop.NewMeterProvider().Meter("appupdate/ratelimit").Int64Counter("appupdate.ratelimit.rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.isExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key, tier, limiter := resolve(r, tiers)
			allowed, info := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(info.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeRejection(w)
			rejected.Add(context.WithoutCancel(r.Context()), 1, metric.WithAttributes(attribute.String("tier", tier)))

			slog.Warn("Rate limit exceeded",
				"key", key,
				"tier", tier,
				"path", r.URL.Path,
				"limit", info.Limit,
				"retry_after", retryAfter,
			)
		})
	}
}

func (c *middlewareConfig) isExempt(path string) bool {
	for _, prefix := range c.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func writeRejection(w http.ResponseWriter) {
	resp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
	resp.RequestID = w.Header().Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("Failed to write rate limit response", "error", err)
	}
}

// resolve picks the bucket key and limiter for the request.
func resolve(r *http.Request, tiers *Tiers) (key, tier string, limiter Limiter) {
	if apiKey, ok := r.Context().Value("api_key").(*models.APIKey); ok && apiKey != nil {
		return "key:" + apiKey.Name, "authenticated", tiers.Authenticated
	}
	return clientIP(r), "anonymous", tiers.Anonymous
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
