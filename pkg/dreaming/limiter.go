package dreaming

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterPool hands out one token bucket per tenant, throttling LLM and
// embedding calls so a single tenant cannot exhaust the provider budget
type LimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLimiterPool builds a pool. limit <= 0 disables throttling.
func NewLimiterPool(limit rate.Limit, burst int) *LimiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &LimiterPool{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Get returns the tenant's limiter, creating it on first use. Returns
// nil when throttling is disabled.
func (p *LimiterPool) Get(tenantID string) *rate.Limiter {
	if p == nil || p.limit <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[tenantID] = l
	}
	return l
}
