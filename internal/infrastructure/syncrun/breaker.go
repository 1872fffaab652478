package syncrun

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// TenantBreaker
// ---------------------------------------------------------------------------

// BreakerConfig holds the circuit breaker knobs
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive failures
	FailureThreshold int
	// FailureWindow bounds how old the failure streak may be; older streaks reset
	FailureWindow time.Duration
	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    10 * time.Minute,
		Cooldown:         5 * time.Minute,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type tenantCircuit struct {
	state        breakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
}

// TenantBreaker pauses syncs for a tenant whose platform calls keep failing.
// While open, attempts return ErrTenantPaused without consuming quota; after
// the cooldown one probe attempt runs half-open, and its outcome closes or
// re-opens the circuit.
type TenantBreaker struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	circuits map[uuid.UUID]*tenantCircuit
}

// NewTenantBreaker creates a new TenantBreaker
func NewTenantBreaker(cfg BreakerConfig, logger *zap.Logger) *TenantBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 10 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &TenantBreaker{
		cfg:      cfg,
		logger:   logger,
		circuits: make(map[uuid.UUID]*tenantCircuit),
	}
}

// Allow returns ErrTenantPaused while the tenant's circuit is open. An open
// circuit past its cooldown moves to half-open and lets one probe through.
func (b *TenantBreaker) Allow(tenantID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[tenantID]
	if !ok {
		return nil
	}

	switch c.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(c.openedAt) < b.cfg.Cooldown {
			return accounting.ErrTenantPaused
		}
		c.state = breakerHalfOpen
		b.logger.Info("Circuit half-open, allowing probe",
			zap.String("tenant_id", tenantID.String()))
		return nil
	default: // half-open: one probe is already in flight
		return accounting.ErrTenantPaused
	}
}

// RecordSuccess closes the tenant's circuit and resets the failure streak
func (b *TenantBreaker) RecordSuccess(tenantID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[tenantID]
	if !ok {
		return
	}
	if c.state != breakerClosed {
		b.logger.Info("Circuit closed",
			zap.String("tenant_id", tenantID.String()))
	}
	delete(b.circuits, tenantID)
}

// RecordFailure counts a transient platform failure. Reaching the threshold
// within the window opens the circuit; a failed half-open probe re-opens it.
func (b *TenantBreaker) RecordFailure(tenantID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	c, ok := b.circuits[tenantID]
	if !ok {
		c = &tenantCircuit{firstFailure: now}
		b.circuits[tenantID] = c
	}

	if c.state == breakerHalfOpen {
		c.state = breakerOpen
		c.openedAt = now
		b.logger.Warn("Probe failed, circuit re-opened",
			zap.String("tenant_id", tenantID.String()))
		return
	}
	if c.state == breakerOpen {
		return
	}

	// Streaks older than the window start over.
	if now.Sub(c.firstFailure) > b.cfg.FailureWindow {
		c.failures = 0
		c.firstFailure = now
	}
	c.failures++

	if c.failures >= b.cfg.FailureThreshold {
		c.state = breakerOpen
		c.openedAt = now
		b.logger.Warn("Circuit opened after repeated platform failures",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("failures", c.failures),
			zap.Duration("cooldown", b.cfg.Cooldown))
	}
}
