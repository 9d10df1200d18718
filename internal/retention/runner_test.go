package retention

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountService "carekeeper/internal/account/service"
	accountStore "carekeeper/internal/account/store"
	"carekeeper/internal/retention/models"
	"carekeeper/internal/retention/store"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/audit/store/memory"
)

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (Lease, bool, error) {
	return nil, false, nil
}

// recordingLease counts extensions. Once lost, every Extend reports the
// lock gone.
type recordingLease struct {
	mu        sync.Mutex
	extends   int
	released  bool
	lost      bool
	twice     chan struct{}
	closeOnce sync.Once
}

func newRecordingLease() *recordingLease {
	return &recordingLease{twice: make(chan struct{})}
}

func (l *recordingLease) Extend(context.Context, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return false, nil
	}
	l.extends++
	if l.extends == 2 {
		l.closeOnce.Do(func() { close(l.twice) })
	}
	return true, nil
}

func (l *recordingLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *recordingLease) snapshot() (extends int, released bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends, l.released
}

type leaseLocker struct{ lease *recordingLease }

func (l leaseLocker) Acquire(context.Context, string, time.Duration) (Lease, bool, error) {
	return l.lease, true, nil
}

// blockingStore holds ListByState until release is closed, standing in for
// a tick that runs longer than the lock TTL.
type blockingStore struct {
	Store
	release <-chan struct{}
}

func (b blockingStore) ListByState(ctx context.Context, states ...models.State) ([]models.Account, error) {
	select {
	case <-b.release:
		return b.Store.ListByState(ctx, states...)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestRunner(t *testing.T, locker Locker, now time.Time) (*Runner, *store.InMemory) {
	t.Helper()
	st := store.NewInMemory()
	return buildRunner(t, locker, st, st, now), st
}

// buildRunner wires a runner whose scheduler writes to st while the runner
// lists pending accounts from listing.
func buildRunner(t *testing.T, locker Locker, st, listing Store, now time.Time, opts ...RunnerOption) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail, err := audit.New(memory.New(), audit.WithLogger(logger))
	require.NoError(t, err)
	profiles, err := accountService.New(accountStore.NewInMemory(), accountService.WithLogger(logger))
	require.NoError(t, err)
	sched, err := NewScheduler(st, trail, &recordingNotifier{}, profiles, WithSchedulerLogger(logger))
	require.NoError(t, err)
	opts = append([]RunnerOption{
		WithRunnerLogger(logger),
		WithRunnerClock(func() time.Time { return now }),
	}, opts...)
	r, err := NewRunner(sched, listing, locker, opts...)
	require.NoError(t, err)
	return r
}

func TestRunnerTickOnce(t *testing.T) {
	now := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)

	t.Run("loads pending accounts and applies due transitions", func(t *testing.T) {
		r, st := newTestRunner(t, NewLocalLocker(), now)
		stale := models.Account{UserID: domain.NewUserID(), State: models.StateActive, LastActivityAt: now.AddDate(-3, 0, 0)}
		fresh := models.Account{UserID: domain.NewUserID(), State: models.StateActive, LastActivityAt: now.Add(-time.Hour)}
		require.NoError(t, st.Create(context.Background(), stale))
		require.NoError(t, st.Create(context.Background(), fresh))

		report, err := r.TickOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 1, report.Transitioned)

		got, err := st.Get(context.Background(), stale.UserID)
		require.NoError(t, err)
		assert.Equal(t, models.StateInactiveFlagged, got.State)
	})

	t.Run("skips when the lock is held elsewhere", func(t *testing.T) {
		r, _ := newTestRunner(t, heldLocker{}, now)
		_, err := r.TickOnce(context.Background())
		assert.ErrorIs(t, err, ErrTickSkipped)
	})

	t.Run("skips when a tick is already running in process", func(t *testing.T) {
		r, _ := newTestRunner(t, NewLocalLocker(), now)
		r.running.Store(true)
		_, err := r.TickOnce(context.Background())
		assert.ErrorIs(t, err, ErrTickSkipped)
	})

	t.Run("releases the lock after the tick", func(t *testing.T) {
		locker := NewLocalLocker()
		r, _ := newTestRunner(t, locker, now)
		_, err := r.TickOnce(context.Background())
		require.NoError(t, err)
		_, err = r.TickOnce(context.Background())
		assert.NoError(t, err)
	})
}

func TestRunnerLockRenewal(t *testing.T) {
	now := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)

	t.Run("a tick longer than the TTL keeps extending its lease", func(t *testing.T) {
		lease := newRecordingLease()
		st := store.NewInMemory()
		require.NoError(t, st.Create(context.Background(), models.Account{UserID: domain.NewUserID(), State: models.StateActive, LastActivityAt: now.AddDate(-3, 0, 0)}))
		r := buildRunner(t, leaseLocker{lease}, st, blockingStore{Store: st, release: lease.twice}, now,
			WithLockTTL(30*time.Millisecond),
		)

		report, err := r.TickOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Transitioned)

		extends, released := lease.snapshot()
		assert.GreaterOrEqual(t, extends, 2)
		assert.True(t, released)

		time.Sleep(50 * time.Millisecond)
		after, _ := lease.snapshot()
		assert.Equal(t, extends, after, "renewal stops with the tick")
	})

	t.Run("a lost lease stops the tick", func(t *testing.T) {
		lease := newRecordingLease()
		lease.lost = true
		st := store.NewInMemory()
		r := buildRunner(t, leaseLocker{lease}, st, blockingStore{Store: st, release: make(chan struct{})}, now,
			WithLockTTL(30*time.Millisecond),
		)

		_, err := r.TickOnce(context.Background())
		assert.ErrorIs(t, err, ErrLockLost)
		_, released := lease.snapshot()
		assert.True(t, released)
	})

	t.Run("renew interval defaults to a third of the TTL", func(t *testing.T) {
		st := store.NewInMemory()
		r := buildRunner(t, NewLocalLocker(), st, st, now, WithLockTTL(9*time.Minute))
		assert.Equal(t, 3*time.Minute, r.renew)

		r = buildRunner(t, NewLocalLocker(), st, st, now, WithLockTTL(9*time.Minute), WithLockRenewInterval(time.Minute))
		assert.Equal(t, time.Minute, r.renew)
	})
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	first, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "held lock is exclusive")

	now = now.Add(2 * time.Minute)
	second, ok, _ := l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok, "expired lock can be taken over")

	require.NoError(t, first.Release(ctx))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "stale release must not free the new holder's lock")

	extended, err := first.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "stale holder cannot extend")

	now = now.Add(30 * time.Second)
	extended, err = second.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	now = now.Add(45 * time.Second)
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "extension outlives the original expiry")

	require.NoError(t, second.Release(ctx))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}
