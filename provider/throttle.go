package provider

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/status-im/wallet-router/rpc"
)

const (
	defaultThrottleRate  = rate.Limit(50) // requests per second per origin
	defaultThrottleBurst = 100
	throttleStateTTL     = 5 * time.Minute
)

// OriginThrottle rate-limits requests per origin. Limiter state for idle
// origins expires so the table stays bounded.
type OriginThrottle struct {
	limiters *ttlcache.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewOriginThrottle builds a throttle. Zero values select the defaults.
func NewOriginThrottle(r rate.Limit, burst int) *OriginThrottle {
	if r == 0 {
		r = defaultThrottleRate
	}
	if burst == 0 {
		burst = defaultThrottleBurst
	}
	t := &OriginThrottle{
		limiters: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](throttleStateTTL),
		),
		rate:  r,
		burst: burst,
	}
	go t.limiters.Start()
	return t
}

// Allow reports whether a request from origin may proceed now.
func (t *OriginThrottle) Allow(origin string) bool {
	item := t.limiters.Get(origin)
	if item == nil {
		item = t.limiters.Set(origin, rate.NewLimiter(t.rate, t.burst), ttlcache.DefaultTTL)
	}
	return item.Value().Allow()
}

// Stop releases the expiry worker.
func (t *OriginThrottle) Stop() {
	t.limiters.Stop()
}

// Middleware rejects requests from origins over their budget with a typed
// limit-exceeded error.
func (t *OriginThrottle) Middleware() Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if !t.Allow(req.Origin) {
			return nil, rpc.ErrLimitExceeded(req.Origin)
		}
		return next(ctx, req)
	}
}
