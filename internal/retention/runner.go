package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"carekeeper/internal/retention/metrics"
	"carekeeper/internal/retention/models"
)

var (
	// ErrTickSkipped is returned by TickOnce when another tick holds the
	// lock, in this process or elsewhere.
	ErrTickSkipped = errors.New("retention tick already in progress")
	// ErrLockLost is returned by TickOnce when the lock expired or was taken
	// over before the tick finished. The tick stops between accounts.
	ErrLockLost = errors.New("retention lock lost during tick")
)

const lockKey = "carekeeper:retention:tick"

// Lease is a held lock. Extend pushes its expiry to ttl from now and reports
// false once the lock is no longer ours.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion across instances. Acquire returns
// acquired=false without error when someone else holds the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, acquired bool, err error)
}

// Runner drives the scheduler on an interval.
type Runner struct {
	scheduler *Scheduler
	store     Store
	locker    Locker
	interval  time.Duration
	lockTTL   time.Duration
	renew     time.Duration
	clock     func() time.Time
	running   atomic.Bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

func WithLockTTL(d time.Duration) RunnerOption {
	return func(r *Runner) { r.lockTTL = d }
}

// WithLockRenewInterval sets how often a running tick extends its lock.
// It defaults to a third of the lock TTL.
func WithLockRenewInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.renew = d }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.clock = now }
}

func NewRunner(scheduler *Scheduler, store Store, locker Locker, opts ...RunnerOption) (*Runner, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if store == nil {
		return nil, fmt.Errorf("lifecycle store is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	r := &Runner{
		scheduler: scheduler,
		store:     store,
		locker:    locker,
		interval:  time.Hour,
		lockTTL:   15 * time.Minute,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lockTTL <= 0 {
		return nil, fmt.Errorf("lock TTL must be positive")
	}
	if r.renew <= 0 || r.renew >= r.lockTTL {
		r.renew = r.lockTTL / 3
	}
	return r, nil
}

// Run ticks every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "retention runner started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "retention runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.TickOnce(ctx); err != nil && !errors.Is(err, ErrTickSkipped) {
				r.logger.ErrorContext(ctx, "retention tick failed", "error", err)
			}
		}
	}
}

// TickOnce runs a single lock-guarded tick over every pending account.
func (r *Runner) TickOnce(ctx context.Context) (models.BatchReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.IncTickSkipped("in_progress")
		return models.BatchReport{}, ErrTickSkipped
	}
	defer r.running.Store(false)

	lease, acquired, err := r.locker.Acquire(ctx, lockKey, r.lockTTL)
	if err != nil {
		r.metrics.IncTickSkipped("lock_error")
		return models.BatchReport{}, fmt.Errorf("acquire retention lock: %w", err)
	}
	if !acquired {
		r.metrics.IncTickSkipped("lock_held")
		r.logger.InfoContext(ctx, "retention tick skipped, lock held elsewhere")
		return models.BatchReport{}, ErrTickSkipped
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release retention lock", "error", err)
		}
	}()

	// A tick over a large backlog can outlive the TTL, so the lease is
	// renewed until the tick returns.
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lost atomic.Bool
	stop := r.keepAlive(tickCtx, lease, func() {
		lost.Store(true)
		cancel()
	})

	start := r.clock()
	accounts, err := r.store.ListByState(tickCtx, models.PendingStates()...)
	if err != nil {
		stop()
		if lost.Load() {
			return models.BatchReport{}, ErrLockLost
		}
		return models.BatchReport{}, fmt.Errorf("load pending accounts: %w", err)
	}
	report := r.scheduler.Tick(tickCtx, start, accounts)
	stop()
	end := r.clock()
	r.metrics.ObserveTick(end.Sub(start), end)
	if lost.Load() {
		return report, ErrLockLost
	}
	return report, nil
}

// keepAlive extends lease every renew interval until stop is called. onLost
// runs once if an extension finds the lock gone. A failed extension is
// retried on the next interval.
func (r *Runner) keepAlive(ctx context.Context, lease Lease, onLost func()) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.renew)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := lease.Extend(ctx, r.lockTTL)
				if err != nil {
					r.logger.WarnContext(ctx, "failed to extend retention lock", "error", err)
					continue
				}
				if !ok {
					r.logger.ErrorContext(ctx, "retention lock lost, stopping tick")
					onLost()
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLease), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && l.now().Before(cur.expires) {
		return nil, false, nil
	}
	lease := &localLease{locker: l, key: key, expires: l.now().Add(ttl)}
	l.held[key] = lease
	return lease, true, nil
}

type localLease struct {
	locker  *LocalLocker
	key     string
	expires time.Time
}

func (h *localLease) Extend(_ context.Context, ttl time.Duration) (bool, error) {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.held[h.key] != h || !now.Before(h.expires) {
		return false, nil
	}
	h.expires = now.Add(ttl)
	return true, nil
}

func (h *localLease) Release(context.Context) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[h.key] == h {
		delete(l.held, h.key)
	}
	return nil
}
