package claims

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/requestcontext"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	// The upstream gateway verified the signature; any key will do here.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("gateway-key"))
	require.NoError(t, err)
	return token
}

func serve(r *http.Request) (*httptest.ResponseRecorder, domain.Subject, bool) {
	var (
		got   domain.Subject
		gotOK bool
	)
	h := RequireSubject(newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, gotOK = requestcontext.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr, got, gotOK
}

func TestRequireSubject(t *testing.T) {
	userID := domain.NewUserID()

	t.Run("gateway headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderSubjectID, userID.String())
		r.Header.Set(HeaderSubjectRole, "doctor")

		rr, subject, ok := serve(r)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.True(t, ok)
		assert.Equal(t, domain.Subject{ID: userID, Role: domain.RoleDoctor}, subject)
	})

	t.Run("bearer token claims read without verification", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+unsignedToken(t, jwt.MapClaims{"sub": userID.String(), "role": "secretary"}))

		rr, subject, ok := serve(r)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.True(t, ok)
		assert.Equal(t, domain.RoleSecretary, subject.Role)
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderSubjectID, userID.String())
		r.Header.Set(HeaderSubjectRole, "nurse")

		rr, _, ok := serve(r)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, ok)
	})

	t.Run("missing claims are rejected", func(t *testing.T) {
		rr, _, ok := serve(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, ok)
	})

	t.Run("garbage bearer token is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer not.a.token")
		rr, _, _ := serve(r)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
