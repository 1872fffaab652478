package syncrun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Dispatcher Errors
// ---------------------------------------------------------------------------

var (
	ErrDispatcherNotRunning = errors.New("syncrun: dispatcher is not running")
	ErrQueueFull            = errors.New("syncrun: tenant queue is full")
)

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// AttemptExecutor runs sync attempts. Implemented by the sync service.
type AttemptExecutor interface {
	// ExecuteAttempt runs one attempt for an invoice
	ExecuteAttempt(ctx context.Context, tenantID, invoiceID uuid.UUID) error
	// ResubmitDueRetries re-submits FAILED_RETRYABLE records that are due
	ResubmitDueRetries(ctx context.Context, limit int) (int, error)
	// RecoverStaleAttempts rescues records stuck IN_PROGRESS past the
	// staleness cutoff back onto the retry path
	RecoverStaleAttempts(ctx context.Context, limit int) (int, error)
}

// DispatcherConfig holds the worker pool knobs
type DispatcherConfig struct {
	// Workers is the number of concurrent attempt workers
	Workers int
	// QueueDepth caps the number of queued jobs per tenant
	QueueDepth int
	// AttemptTimeout bounds one full attempt end to end
	AttemptTimeout time.Duration
	// RetryPollInterval is how often due retries are re-submitted
	RetryPollInterval time.Duration
	// RetryPollBatch is the maximum retries re-submitted per poll
	RetryPollBatch int
	// PauseRequeueDelay is how long a breaker-paused job waits before re-queueing
	PauseRequeueDelay time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:           8,
		QueueDepth:        1000,
		AttemptTimeout:    2 * time.Minute,
		RetryPollInterval: 5 * time.Second,
		RetryPollBatch:    100,
		PauseRequeueDelay: 30 * time.Second,
	}
}

type job struct {
	tenantID  uuid.UUID
	invoiceID uuid.UUID
}

type tenantQueue struct {
	jobs   []job
	queued map[uuid.UUID]struct{}
}

// Dispatcher is the sync worker pool. Jobs are held in per-tenant FIFO
// queues drained round-robin, so a tenant with a deep backlog cannot starve
// the others. At most one attempt per invoice is in flight at a time;
// queued jobs can be cancelled, in-flight attempts run to completion.
type Dispatcher struct {
	cfg      DispatcherConfig
	executor AttemptExecutor
	logger   *zap.Logger

	mu       sync.Mutex
	queues   map[uuid.UUID]*tenantQueue
	ring     []uuid.UUID
	nextIdx  int
	inflight map[uuid.UUID]struct{}
	running  bool

	notify chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(cfg DispatcherConfig, executor AttemptExecutor, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1000
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	if cfg.RetryPollInterval <= 0 {
		cfg.RetryPollInterval = 5 * time.Second
	}
	if cfg.RetryPollBatch <= 0 {
		cfg.RetryPollBatch = 100
	}
	if cfg.PauseRequeueDelay <= 0 {
		cfg.PauseRequeueDelay = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		executor: executor,
		logger:   logger,
		queues:   make(map[uuid.UUID]*tenantQueue),
		inflight: make(map[uuid.UUID]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

// Start starts the worker pool and the retry poller
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Add(1)
	go d.retryPoller(ctx)

	d.logger.Info("Sync dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Duration("attempt_timeout", d.cfg.AttemptTimeout),
		zap.Duration("retry_poll_interval", d.cfg.RetryPollInterval))
	return nil
}

// Stop stops accepting jobs and waits for in-flight attempts to finish
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Sync dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Sync dispatcher stop timed out")
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Queueing
// ---------------------------------------------------------------------------

// Submit enqueues one invoice sync. Submitting an invoice that is already
// queued or in flight is a no-op.
func (d *Dispatcher) Submit(tenantID, invoiceID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrDispatcherNotRunning
	}
	if _, busy := d.inflight[invoiceID]; busy {
		return nil
	}

	q, ok := d.queues[tenantID]
	if !ok {
		q = &tenantQueue{queued: make(map[uuid.UUID]struct{})}
		d.queues[tenantID] = q
		d.ring = append(d.ring, tenantID)
	}
	if _, dup := q.queued[invoiceID]; dup {
		return nil
	}
	if len(q.jobs) >= d.cfg.QueueDepth {
		return ErrQueueFull
	}

	q.jobs = append(q.jobs, job{tenantID: tenantID, invoiceID: invoiceID})
	q.queued[invoiceID] = struct{}{}
	d.wake()
	return nil
}

// Cancel removes a queued job. In-flight attempts are not interrupted; the
// return value reports whether a queued job was removed.
func (d *Dispatcher) Cancel(tenantID, invoiceID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[tenantID]
	if !ok {
		return false
	}
	if _, queued := q.queued[invoiceID]; !queued {
		return false
	}
	for i := range q.jobs {
		if q.jobs[i].invoiceID == invoiceID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	delete(q.queued, invoiceID)
	return true
}

// QueueDepth returns the number of queued jobs for a tenant
func (d *Dispatcher) QueueDepth(tenantID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[tenantID]; ok {
		return len(q.jobs)
	}
	return 0
}

// wake nudges one idle worker. The channel is buffered so a pending nudge
// is never lost and repeated nudges collapse.
func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// pop takes the next runnable job, scanning tenants round-robin from where
// the last pop left off. Jobs whose invoice is already in flight stay queued.
func (d *Dispatcher) pop() (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.ring)
	for i := 0; i < n; i++ {
		tid := d.ring[(d.nextIdx+i)%n]
		q := d.queues[tid]
		for idx := range q.jobs {
			j := q.jobs[idx]
			if _, busy := d.inflight[j.invoiceID]; busy {
				continue
			}
			q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
			delete(q.queued, j.invoiceID)
			d.inflight[j.invoiceID] = struct{}{}
			d.nextIdx = (d.nextIdx + i + 1) % n
			if len(q.jobs) == 0 {
				d.dropTenantLocked(tid)
			}
			if len(d.queues) > 0 {
				// More work remains: nudge another idle worker.
				d.wake()
			}
			return j, true
		}
	}
	return job{}, false
}

// dropTenantLocked removes an empty tenant queue from the ring. Caller holds d.mu.
func (d *Dispatcher) dropTenantLocked(tenantID uuid.UUID) {
	delete(d.queues, tenantID)
	for i := range d.ring {
		if d.ring[i] == tenantID {
			d.ring = append(d.ring[:i], d.ring[i+1:]...)
			if d.nextIdx > i {
				d.nextIdx--
			}
			if len(d.ring) > 0 {
				d.nextIdx %= len(d.ring)
			} else {
				d.nextIdx = 0
			}
			return
		}
	}
}

func (d *Dispatcher) release(invoiceID uuid.UUID) {
	d.mu.Lock()
	delete(d.inflight, invoiceID)
	d.mu.Unlock()
	d.wake()
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		j, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.notify:
				continue
			}
		}
		d.run(ctx, j)
	}
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	defer d.release(j.invoiceID)

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	err := d.executor.ExecuteAttempt(attemptCtx, j.tenantID, j.invoiceID)
	if err == nil {
		return
	}

	if errors.Is(err, accounting.ErrTenantPaused) {
		// Paused tenants re-queue after a delay instead of burning workers.
		d.requeueLater(j)
		return
	}

	d.logger.Error("Sync attempt errored outside the state machine",
		zap.String("tenant_id", j.tenantID.String()),
		zap.String("invoice_id", j.invoiceID.String()),
		zap.Error(err))
}

func (d *Dispatcher) requeueLater(j job) {
	time.AfterFunc(d.cfg.PauseRequeueDelay, func() {
		if err := d.Submit(j.tenantID, j.invoiceID); err != nil &&
			!errors.Is(err, ErrDispatcherNotRunning) {
			d.logger.Warn("Failed to re-queue paused job",
				zap.String("tenant_id", j.tenantID.String()),
				zap.String("invoice_id", j.invoiceID.String()),
				zap.Error(err))
		}
	})
}

// retryPoller periodically re-submits due FAILED_RETRYABLE records and
// rescues stale IN_PROGRESS records left behind by a crash
func (d *Dispatcher) retryPoller(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.RetryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.executor.RecoverStaleAttempts(ctx, d.cfg.RetryPollBatch); err != nil {
				d.logger.Error("Stale attempt recovery failed", zap.Error(err))
			} else if n > 0 {
				d.logger.Warn("Recovered stale sync attempts", zap.Int("count", n))
			}

			n, err := d.executor.ResubmitDueRetries(ctx, d.cfg.RetryPollBatch)
			if err != nil {
				d.logger.Error("Retry poll failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.logger.Debug("Re-submitted due retries", zap.Int("count", n))
			}
		}
	}
}
