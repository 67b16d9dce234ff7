// Package throttle limits how many visitor messages a chat session may post
// within a time window.
package throttle

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Limiter counts visitor messages per session in the shared cache.
type Limiter struct {
	cache   domain.Cache
	enabled bool
	max     int64
	window  time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// New creates a limiter. Non-positive limits fall back to 30 messages per minute.
func New(cache domain.Cache, cfg domain.ThrottleConfig) *Limiter {
	max := cfg.MaxMessages
	if max <= 0 {
		max = 30
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		cache:   cache,
		enabled: cfg.Enabled && cache != nil,
		max:     max,
		window:  window,
	}
}

// Allow records one message for sessionID and reports whether it is within
// the limit. A cache failure lets the message through.
func (l *Limiter) Allow(ctx context.Context, sessionID string) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Limit: l.max}
	}

	count, err := l.cache.IncrementCounter(ctx, "throttle:"+sessionID, l.window)
	if err != nil {
		slog.Warn("throttle counter unavailable",
			"session_id", sessionID,
			"error", err,
		)
		return Decision{Allowed: true, Limit: l.max}
	}

	d := Decision{Allowed: count <= l.max, Count: count, Limit: l.max}
	if !d.Allowed {
		d.RetryAfter = l.window
		metrics.RecordThrottled()
	}
	return d
}
