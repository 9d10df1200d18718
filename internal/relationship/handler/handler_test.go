package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carekeeper/internal/access"
	"carekeeper/internal/access/adapters"
	consentService "carekeeper/internal/consent/service"
	consentStore "carekeeper/internal/consent/store"
	"carekeeper/internal/gate"
	"carekeeper/internal/relationship/models"
	"carekeeper/internal/relationship/service"
	"carekeeper/internal/relationship/store"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/audit/store/memory"
	"carekeeper/pkg/testutil"
)

func newRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rel, err := service.New(store.NewInMemory())
	require.NoError(t, err)
	ledger, err := consentService.New(consentStore.NewInMemory())
	require.NoError(t, err)
	evaluator, err := access.NewEvaluator(adapters.NewRelationshipAdapter(rel), adapters.NewConsentAdapter(ledger), access.WithLogger(logger))
	require.NoError(t, err)
	auditStore := memory.New()
	trail, err := audit.New(auditStore, audit.WithLogger(logger))
	require.NoError(t, err)
	g, err := gate.New(evaluator, trail, gate.WithLogger(logger))
	require.NoError(t, err)

	r := chi.NewRouter()
	New(rel, g, logger).Register(r)
	return r, auditStore
}

func TestAssignmentEndpoints(t *testing.T) {
	patient := domain.NewUserID()
	doctor := domain.NewUserID()
	admin := domain.NewUserID()
	path := "/patients/" + patient.String() + "/assignment"

	t.Run("admin assigns and the doctor can read it", func(t *testing.T) {
		router, auditStore := newRouter(t)

		req := testutil.NewJSONRequest(t, http.MethodPut, path, map[string]string{"doctor_id": doctor.String()})
		rr := testutil.DoRequest(router, testutil.WithSubject(req, admin, domain.RoleAdmin))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = testutil.DoRequest(router, testutil.WithSubject(testutil.NewRequest(t, http.MethodGet, path), doctor, domain.RoleDoctor))
		require.Equal(t, http.StatusOK, rr.Code)
		got := testutil.DecodeJSON[models.Assignment](t, rr)
		assert.Equal(t, doctor, got.DoctorID)

		records := auditStore.All()
		require.NotEmpty(t, records)
		assert.Equal(t, audit.ActionAssign, records[0].Action)
		assert.Equal(t, patient, records[0].OwnerID)
	})

	t.Run("doctor cannot assign themselves", func(t *testing.T) {
		router, _ := newRouter(t)
		req := testutil.NewJSONRequest(t, http.MethodPut, path, map[string]string{"doctor_id": doctor.String()})
		rr := testutil.DoRequest(router, testutil.WithSubject(req, doctor, domain.RoleDoctor))
		testutil.AssertError(t, rr, http.StatusForbidden, "not_authorized")
	})

	t.Run("unassign without assignment", func(t *testing.T) {
		router, _ := newRouter(t)
		rr := testutil.DoRequest(router, testutil.WithSubject(testutil.NewRequest(t, http.MethodDelete, path), admin, domain.RoleAdmin))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("patient reads own assignment", func(t *testing.T) {
		router, _ := newRouter(t)
		req := testutil.NewJSONRequest(t, http.MethodPut, path, map[string]string{"doctor_id": doctor.String()})
		require.Equal(t, http.StatusOK, testutil.DoRequest(router, testutil.WithSubject(req, admin, domain.RoleAdmin)).Code)

		rr := testutil.DoRequest(router, testutil.WithSubject(testutil.NewRequest(t, http.MethodGet, path), patient, domain.RolePatient))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
