package rpcdispatch

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/vzdtic/raftcore/pkg/id"
)

// RateLimiter throttles inbound RPCs per sender, one token bucket per
// NodeID created lazily on first sight. Grounded directly on
// cuemby-warren's pkg/ingress/middleware.go CheckRateLimit, which does
// the same per-client-IP lazy-bucket bookkeeping with
// golang.org/x/time/rate; keyed on sender NodeID here instead of
// client IP since RPC senders are authenticated cluster members, not
// anonymous HTTP clients.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[id.NodeID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter allowing ratePerSecond sustained
// requests per sender with the given burst allowance. A zero
// ratePerSecond disables limiting (Allow always returns true).
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[id.NodeID]*rate.Limiter),
		limit:    rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

// Allow reports whether sender is within its rate budget, creating its
// bucket on first use.
func (r *RateLimiter) Allow(sender id.NodeID) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	limiter, ok := r.limiters[sender]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[sender] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}
