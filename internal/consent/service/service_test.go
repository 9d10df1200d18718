package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carekeeper/internal/consent/models"
	"carekeeper/internal/consent/store"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/requestcontext"
)

type LedgerSuite struct {
	suite.Suite
	ledger *Ledger
	user   domain.UserID
	base   time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	ledger, err := New(store.NewInMemory(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	s.ledger = ledger
	s.user = domain.NewUserID()
	s.base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
}

func (s *LedgerSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.base.Add(offset))
}

// =============================================================================
// Status derivation
// =============================================================================
// Justification: consent status gates every non-owner clinical read; order,
// not count, must decide it.

func (s *LedgerSuite) TestDefaultIsNone() {
	st, err := s.ledger.CurrentStatus(s.at(0), s.user, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)
	s.Equal(models.StateNone, st.State)
}

func (s *LedgerSuite) TestGrantRevokeGrantIsGranted() {
	_, err := s.ledger.Grant(s.at(0), s.user, domain.ConsentSensitiveHealthData, "v1")
	s.Require().NoError(err)
	_, err = s.ledger.Revoke(s.at(time.Hour), s.user, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)
	_, err = s.ledger.Grant(s.at(2*time.Hour), s.user, domain.ConsentSensitiveHealthData, "v2")
	s.Require().NoError(err)

	st, err := s.ledger.CurrentStatus(s.at(3*time.Hour), s.user, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)
	s.Equal(models.StateGrant, st.State)
	s.Equal("v2", st.PolicyVersion)
	s.Equal(s.base.Add(2*time.Hour), *st.Since)
}

func (s *LedgerSuite) TestRepeatedGrantsAreAllLogged() {
	for i := 0; i < 3; i++ {
		_, err := s.ledger.Grant(s.at(time.Duration(i)*time.Minute), s.user, domain.ConsentMarketing, "v1")
		s.Require().NoError(err)
	}
	history, err := s.ledger.History(s.at(time.Hour), s.user, domain.ConsentMarketing)
	s.Require().NoError(err)
	s.Len(history, 3)
}

func (s *LedgerSuite) TestRevokeWithinSameInstantWins() {
	ctx := s.at(0)
	_, err := s.ledger.Grant(ctx, s.user, domain.ConsentSensitiveHealthData, "v1")
	s.Require().NoError(err)
	_, err = s.ledger.Revoke(ctx, s.user, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)

	st, err := s.ledger.CurrentStatus(ctx, s.user, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)
	s.Equal(models.StateRevoke, st.State)
}

func (s *LedgerSuite) TestTypesAreIndependent() {
	_, err := s.ledger.Grant(s.at(0), s.user, domain.ConsentSensitiveHealthData, "v1")
	s.Require().NoError(err)
	_, err = s.ledger.Revoke(s.at(time.Minute), s.user, domain.ConsentMarketing)
	s.Require().NoError(err)

	statuses, err := s.ledger.Statuses(s.at(time.Hour), s.user)
	s.Require().NoError(err)
	s.Require().Len(statuses, 3)
	byType := map[domain.ConsentType]models.State{}
	for _, st := range statuses {
		byType[st.Type] = st.State
	}
	s.Equal(models.StateGrant, byType[domain.ConsentSensitiveHealthData])
	s.Equal(models.StateRevoke, byType[domain.ConsentMarketing])
	s.Equal(models.StateNone, byType[domain.ConsentDataProcessing])
}

// =============================================================================
// Validation and failures
// =============================================================================

func (s *LedgerSuite) TestGrantRequiresPolicyVersion() {
	_, err := s.ledger.Grant(s.at(0), s.user, domain.ConsentSensitiveHealthData, "  ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LedgerSuite) TestRejectsUnknownType() {
	_, err := s.ledger.Revoke(s.at(0), s.user, domain.ConsentType("newsletter"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

type failingStore struct{ store.InMemory }

func (*failingStore) ListByUser(context.Context, domain.UserID, ...domain.ConsentType) ([]models.Event, error) {
	return nil, errors.New("timeout")
}

func (s *LedgerSuite) TestStoreFailureIsInternal() {
	ledger, err := New(&failingStore{})
	s.Require().NoError(err)
	_, err = ledger.CurrentStatus(s.at(0), s.user, domain.ConsentSensitiveHealthData)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
