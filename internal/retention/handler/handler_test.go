package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carekeeper/internal/access"
	"carekeeper/internal/access/adapters"
	accountService "carekeeper/internal/account/service"
	accountStore "carekeeper/internal/account/store"
	consentService "carekeeper/internal/consent/service"
	consentStore "carekeeper/internal/consent/store"
	"carekeeper/internal/gate"
	relService "carekeeper/internal/relationship/service"
	relStore "carekeeper/internal/relationship/store"
	"carekeeper/internal/retention"
	"carekeeper/internal/retention/models"
	"carekeeper/internal/retention/store"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/audit/store/memory"
	"carekeeper/pkg/platform/tx"
	"carekeeper/pkg/testutil"
)

type fixture struct {
	router http.Handler
	store  *store.InMemory
	audit  *memory.Store
}

func newFixture(t *testing.T, now time.Time) fixture {
	t.Helper()
	return newFixtureWithRunner(t, now, tx.NopRunner{})
}

func newFixtureWithRunner(t *testing.T, now time.Time, runner tx.Runner) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rel, err := relService.New(relStore.NewInMemory())
	require.NoError(t, err)
	ledger, err := consentService.New(consentStore.NewInMemory())
	require.NoError(t, err)
	evaluator, err := access.NewEvaluator(adapters.NewRelationshipAdapter(rel), adapters.NewConsentAdapter(ledger), access.WithLogger(logger))
	require.NoError(t, err)
	auditStore := memory.New()
	trail, err := audit.New(auditStore, audit.WithLogger(logger))
	require.NoError(t, err)
	g, err := gate.New(evaluator, trail, gate.WithLogger(logger), gate.WithTxRunner(runner))
	require.NoError(t, err)

	st := store.NewInMemory()
	svc, err := retention.NewService(st, trail, retention.WithServiceLogger(logger))
	require.NoError(t, err)
	profiles, err := accountService.New(accountStore.NewInMemory(), accountService.WithLogger(logger))
	require.NoError(t, err)
	sched, err := retention.NewScheduler(st, trail, noopNotifier{}, profiles,
		retention.WithSchedulerLogger(logger),
		retention.WithSchedulerTxRunner(runner),
	)
	require.NoError(t, err)
	ticker, err := retention.NewRunner(sched, st, retention.NewLocalLocker(),
		retention.WithRunnerLogger(logger),
		retention.WithRunnerClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, ticker, g, logger).Register(r)
	return fixture{router: r, store: st, audit: auditStore}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.UserID, string) error { return nil }

func TestLifecycleEndpoints(t *testing.T) {
	now := time.Now().UTC()
	user := domain.NewUserID()
	admin := domain.NewUserID()
	base := "/accounts/" + user.String()

	t.Run("holder enrolls and reads own status", func(t *testing.T) {
		f := newFixture(t, now)
		rr := testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, base+"/lifecycle"), user, domain.RolePatient))
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodGet, base+"/lifecycle"), user, domain.RolePatient))
		require.Equal(t, http.StatusOK, rr.Code)
		got := testutil.DecodeJSON[models.Account](t, rr)
		assert.Equal(t, models.StateActive, got.State)
	})

	t.Run("another patient cannot read the status", func(t *testing.T) {
		f := newFixture(t, now)
		require.NoError(t, f.store.Create(context.Background(), models.Account{UserID: user, State: models.StateActive, LastActivityAt: now}))
		rr := testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodGet, base+"/lifecycle"), domain.NewUserID(), domain.RolePatient))
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, audit.OutcomeDenied, f.audit.All()[0].Decision)
	})

	t.Run("deletion request then login cancels it", func(t *testing.T) {
		f := newFixture(t, now)
		require.NoError(t, f.store.Create(context.Background(), models.Account{UserID: user, State: models.StateActive, LastActivityAt: now}))

		rr := testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, base+"/deletion-request"), user, domain.RolePatient))
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, models.StateDeletionScheduled, testutil.DecodeJSON[models.Account](t, rr).State)

		rr = testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, base+"/lifecycle/login"), user, domain.RolePatient))
		require.Equal(t, http.StatusOK, rr.Code)
		got := testutil.DecodeJSON[models.Account](t, rr)
		assert.Equal(t, models.StateActive, got.State)
		assert.Nil(t, got.ScheduledDeletionAt)

		var actions []audit.Action
		for _, rec := range f.audit.All() {
			actions = append(actions, rec.Action)
		}
		assert.Contains(t, actions, audit.ActionLifecycleRequest)
		assert.Contains(t, actions, audit.ActionLifecycleSched)
		assert.Contains(t, actions, audit.ActionLifecycleCancel)
	})

	t.Run("second deletion request conflicts", func(t *testing.T) {
		f := newFixture(t, now)
		require.NoError(t, f.store.Create(context.Background(), models.Account{UserID: user, State: models.StateActive, LastActivityAt: now}))
		req := func() *http.Request {
			return testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, base+"/deletion-request"), user, domain.RolePatient)
		}
		require.Equal(t, http.StatusAccepted, testutil.DoRequest(f.router, req()).Code)
		assert.Equal(t, http.StatusConflict, testutil.DoRequest(f.router, req()).Code)
	})

	t.Run("only admins trigger a tick", func(t *testing.T) {
		f := newFixture(t, now)
		require.NoError(t, f.store.Create(context.Background(), models.Account{UserID: user, State: models.StateActive, LastActivityAt: now.AddDate(-3, 0, 0)}))

		rr := testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, "/admin/retention/tick"), user, domain.RolePatient))
		testutil.AssertError(t, rr, http.StatusForbidden, "not_authorized")

		rr = testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, "/admin/retention/tick"), admin, domain.RoleAdmin))
		require.Equal(t, http.StatusOK, rr.Code)
		report := testutil.DecodeJSON[models.BatchReport](t, rr)
		assert.Equal(t, 1, report.Transitioned)
	})

	t.Run("admin tick commits each account on its own", func(t *testing.T) {
		db, counter := testutil.NewTxCountingDB(t)
		f := newFixtureWithRunner(t, now, tx.NewSQLRunner(db))
		for i := 0; i < 3; i++ {
			require.NoError(t, f.store.Create(context.Background(), models.Account{
				UserID:         domain.NewUserID(),
				State:          models.StateActive,
				LastActivityAt: now.AddDate(-3, 0, 0),
			}))
		}

		rr := testutil.DoRequest(f.router, testutil.WithSubject(testutil.NewRequest(t, http.MethodPost, "/admin/retention/tick"), admin, domain.RoleAdmin))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 3, testutil.DecodeJSON[models.BatchReport](t, rr).Transitioned)

		assert.Equal(t, int64(3), counter.Begins.Load())
		assert.Equal(t, int64(3), counter.Commits.Load())
		assert.Zero(t, counter.Rollbacks.Load())
	})

	t.Run("missing subject is unauthorized", func(t *testing.T) {
		f := newFixture(t, now)
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, base+"/lifecycle"))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
