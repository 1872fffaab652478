package syncrun

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// TenantRateGate
// ---------------------------------------------------------------------------

// TenantRateGate enforces a per-tenant token bucket over outbound platform
// calls. Each tenant gets an independent limiter so one tenant's burst never
// consumes another's budget.
type TenantRateGate struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

// NewTenantRateGate creates a gate allowing callsPerSecond sustained calls
// with the given burst per tenant.
func NewTenantRateGate(callsPerSecond float64, burst int) *TenantRateGate {
	if callsPerSecond <= 0 {
		callsPerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &TenantRateGate{
		limit:    rate.Limit(callsPerSecond),
		burst:    burst,
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

// Wait blocks until the tenant may make another call or ctx is done
func (g *TenantRateGate) Wait(ctx context.Context, tenantID uuid.UUID) error {
	return g.limiter(tenantID).Wait(ctx)
}

// Allow reports without blocking whether the tenant has budget left
func (g *TenantRateGate) Allow(tenantID uuid.UUID) bool {
	return g.limiter(tenantID).Allow()
}

func (g *TenantRateGate) limiter(tenantID uuid.UUID) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[tenantID] = l
	}
	return l
}
