// Package ratelimiter guards room creation against spam using an in-memory
// token bucket keyed by remote IP, adapted from
// RoseWrightdev-Video-Conferencing's internal/v1/ratelimit package (which
// wraps the same ulule/limiter/v3 library for a gin stack) to httprouter.
package ratelimiter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter enforces a single named rate, e.g. "10-M" (10 requests/minute).
type Limiter struct {
	inner *limiter.Limiter
}

// New builds a Limiter from a formatted rate string such as "5-M" or "20-H".
func New(formatted string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", formatted, err)
	}
	store := memory.NewStore()
	return &Limiter{inner: limiter.New(store, rate)}, nil
}

// Allow reports whether a request keyed by key (typically a remote IP) is
// within the configured rate, setting the standard X-RateLimit-* headers on
// w regardless of outcome.
func (l *Limiter) Allow(ctx context.Context, w http.ResponseWriter, key string) bool {
	result, err := l.inner.Get(ctx, key)
	if err != nil {
		// Fail open: a broken limiter must not take down room creation.
		return true
	}

	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.Reset))

	return !result.Reached
}
