// FILE: src/internal/flow/limiter.go
package flow

import (
	"sync/atomic"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// Limiter bounds the rate of entries admitted into the pipeline.
// A nil *Limiter admits everything, so callers never branch on
// whether rate limiting is configured. Entries over the limit are
// dropped, observable only through statistics.
type Limiter struct {
	bucket *rate.Limiter
	logger *log.Logger

	// Statistics
	totalAllowed atomic.Uint64
	totalDropped atomic.Uint64
}

// New creates a capture-side rate limiter. Returns nil (no limiting)
// when perSecond is zero or negative. Burst defaults to perSecond.
func New(perSecond float64, burst int, logger *log.Logger) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	logger.Debug("msg", "Capture rate limiter created",
		"component", "flow",
		"per_second", perSecond,
		"burst", burst)

	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger: logger,
	}
}

// Allow reports whether one more entry may enter the pipeline.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	if l.bucket.Allow() {
		l.totalAllowed.Add(1)
		return true
	}
	l.totalDropped.Add(1)
	return false
}

// GetStats returns limiter statistics.
func (l *Limiter) GetStats() map[string]any {
	if l == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":       true,
		"total_allowed": l.totalAllowed.Load(),
		"total_dropped": l.totalDropped.Load(),
	}
}
