package access_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"carekeeper/internal/access"
	"carekeeper/internal/access/adapters"
	"carekeeper/internal/access/mocks"
	consentService "carekeeper/internal/consent/service"
	consentStore "carekeeper/internal/consent/store"
	relationshipService "carekeeper/internal/relationship/service"
	relationshipStore "carekeeper/internal/relationship/store"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/requestcontext"
)

type EvaluatorSuite struct {
	suite.Suite
	ctx           context.Context
	relationships *relationshipService.Service
	ledger        *consentService.Ledger
	evaluator     *access.Evaluator

	patient   domain.Subject
	stranger  domain.Subject
	doctor    domain.Subject
	other     domain.Subject
	secretary domain.Subject
	admin     domain.Subject
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rel, err := relationshipService.New(relationshipStore.NewInMemory())
	s.Require().NoError(err)
	s.relationships = rel

	ledger, err := consentService.New(consentStore.NewInMemory(), consentService.WithLogger(logger))
	s.Require().NoError(err)
	s.ledger = ledger

	s.evaluator = s.newEvaluator(access.WithLogger(logger))

	s.patient = domain.Subject{ID: domain.NewUserID(), Role: domain.RolePatient}
	s.stranger = domain.Subject{ID: domain.NewUserID(), Role: domain.RolePatient}
	s.doctor = domain.Subject{ID: domain.NewUserID(), Role: domain.RoleDoctor}
	s.other = domain.Subject{ID: domain.NewUserID(), Role: domain.RoleDoctor}
	s.secretary = domain.Subject{ID: domain.NewUserID(), Role: domain.RoleSecretary}
	s.admin = domain.Subject{ID: domain.NewUserID(), Role: domain.RoleAdmin}

	_, _, err = s.relationships.Assign(s.ctx, s.patient.ID, s.doctor.ID, time.Now())
	s.Require().NoError(err)
}

func (s *EvaluatorSuite) newEvaluator(opts ...access.Option) *access.Evaluator {
	e, err := access.NewEvaluator(
		adapters.NewRelationshipAdapter(s.relationships),
		adapters.NewConsentAdapter(s.ledger),
		opts...,
	)
	s.Require().NoError(err)
	return e
}

func (s *EvaluatorSuite) resource(t domain.ResourceType) access.Resource {
	owner := s.patient.ID
	return access.Resource{Type: t, ID: "r-1", OwnerPatientID: &owner}
}

func (s *EvaluatorSuite) grantSensitive() {
	_, err := s.ledger.Grant(s.ctx, s.patient.ID, domain.ConsentSensitiveHealthData, "v1")
	s.Require().NoError(err)
}

// =============================================================================
// Secretary
// =============================================================================
// Justification: a secretary never sees clinical content, whatever else is
// true about the patient.

func (s *EvaluatorSuite) TestSecretaryNeverReadsClinical() {
	s.grantSensitive()
	_, _, err := s.relationships.Assign(s.ctx, s.patient.ID, s.secretary.ID, time.Now())
	s.Require().NoError(err)

	for _, t := range domain.ClinicalTypes() {
		for _, op := range []domain.Operation{domain.OperationRead, domain.OperationCreate, domain.OperationUpdate, domain.OperationDelete} {
			d := s.evaluator.Evaluate(s.ctx, s.secretary, s.resource(t), op)
			s.False(d.Allowed, "%s %s", op, t)
			s.Equal(access.ReasonNotAuthorized, d.Reason)
		}
	}
}

func (s *EvaluatorSuite) TestSecretaryManagesAdministrativeData() {
	for _, t := range []domain.ResourceType{domain.ResourceAppointments, domain.ResourcePatientContacts, domain.ResourceUserDirectory} {
		d := s.evaluator.Evaluate(s.ctx, s.secretary, access.Resource{Type: t}, domain.OperationUpdate)
		s.True(d.Allowed)
		s.Equal(access.ReasonSecretaryAdministrative, d.Reason)
	}
}

// =============================================================================
// Doctor
// =============================================================================

func (s *EvaluatorSuite) TestUnassignedDoctorDenied() {
	s.grantSensitive()
	d := s.evaluator.Evaluate(s.ctx, s.other, s.resource(domain.ResourceExams), domain.OperationRead)
	s.False(d.Allowed)
	s.Equal(access.ReasonNotAuthorized, d.Reason)
}

func (s *EvaluatorSuite) TestAssignedDoctorReadsWithConsent() {
	s.grantSensitive()
	d := s.evaluator.Evaluate(s.ctx, s.doctor, s.resource(domain.ResourcePrescriptions), domain.OperationRead)
	s.True(d.Allowed)
	s.Equal(access.ReasonAssignedDoctor, d.Reason)
}

func (s *EvaluatorSuite) TestAssignedDoctorWithoutConsentDenied() {
	d := s.evaluator.Evaluate(s.ctx, s.doctor, s.resource(domain.ResourcePrescriptions), domain.OperationRead)
	s.False(d.Allowed)
	s.Equal(access.ReasonConsentRequired, d.Reason)
	s.True(dErrors.HasCode(d.Err(), dErrors.CodeConsentRequired))
}

func (s *EvaluatorSuite) TestRevocationAppliesToNextEvaluation() {
	s.grantSensitive()
	r := s.resource(domain.ResourceMoodEntries)
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationRead).Allowed)

	_, err := s.ledger.Revoke(s.ctx, s.patient.ID, domain.ConsentSensitiveHealthData)
	s.Require().NoError(err)

	d := s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationRead)
	s.False(d.Allowed)
	s.Equal(access.ReasonConsentRequired, d.Reason)
}

func (s *EvaluatorSuite) TestUnassignmentAppliesToNextEvaluation() {
	s.grantSensitive()
	r := s.resource(domain.ResourceExams)
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationRead).Allowed)

	_, err := s.relationships.Unassign(s.ctx, s.patient.ID)
	s.Require().NoError(err)

	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationRead).Allowed)
}

func (s *EvaluatorSuite) TestDoctorAuthorsOwnPrescriptions() {
	r := s.resource(domain.ResourcePrescriptions)
	r.AssignedDoctorID = &s.doctor.ID
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationCreate).Allowed)
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationUpdate).Allowed)
	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationDelete).Allowed)

	r.AssignedDoctorID = &s.other.ID
	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationUpdate).Allowed)

	r.AssignedDoctorID = nil
	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationCreate).Allowed)
}

func (s *EvaluatorSuite) TestDoctorCannotWriteMoodEntries() {
	r := s.resource(domain.ResourceMoodEntries)
	r.AssignedDoctorID = &s.doctor.ID
	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationCreate).Allowed)
}

func (s *EvaluatorSuite) TestMissingOwnerDenied() {
	s.grantSensitive()
	d := s.evaluator.Evaluate(s.ctx, s.doctor, access.Resource{Type: domain.ResourceExams}, domain.OperationRead)
	s.False(d.Allowed)
}

func (s *EvaluatorSuite) TestConsentGateDisabled() {
	e := s.newEvaluator(access.WithConsentGate(false))
	d := e.Evaluate(s.ctx, s.doctor, s.resource(domain.ResourceExams), domain.OperationRead)
	s.True(d.Allowed)
}

// =============================================================================
// Patient owner
// =============================================================================
// Justification: a patient owns their data but cannot erase clinical history
// or edit what a doctor wrote.

func (s *EvaluatorSuite) TestOwnerReadsOwnClinicalDataWithoutConsent() {
	d := s.evaluator.Evaluate(s.ctx, s.patient, s.resource(domain.ResourceExams), domain.OperationRead)
	s.True(d.Allowed)
	s.Equal(access.ReasonOwner, d.Reason)
}

func (s *EvaluatorSuite) TestOwnerCannotDeleteClinicalContent() {
	for _, t := range domain.ClinicalTypes() {
		d := s.evaluator.Evaluate(s.ctx, s.patient, s.resource(t), domain.OperationDelete)
		s.False(d.Allowed, t)
	}
}

func (s *EvaluatorSuite) TestOwnerWritesMoodEntriesOnly() {
	s.True(s.evaluator.Evaluate(s.ctx, s.patient, s.resource(domain.ResourceMoodEntries), domain.OperationCreate).Allowed)
	s.True(s.evaluator.Evaluate(s.ctx, s.patient, s.resource(domain.ResourceMoodEntries), domain.OperationUpdate).Allowed)
	s.False(s.evaluator.Evaluate(s.ctx, s.patient, s.resource(domain.ResourceDoctorNotes), domain.OperationUpdate).Allowed)
	s.False(s.evaluator.Evaluate(s.ctx, s.patient, s.resource(domain.ResourcePrescriptions), domain.OperationCreate).Allowed)
}

func (s *EvaluatorSuite) TestHiddenDoctorNotes() {
	hidden := false
	r := s.resource(domain.ResourceDoctorNotes)
	r.VisibleToPatient = &hidden
	s.False(s.evaluator.Evaluate(s.ctx, s.patient, r, domain.OperationRead).Allowed)

	s.grantSensitive()
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationRead).Allowed)
}

func (s *EvaluatorSuite) TestOtherPatientDenied() {
	d := s.evaluator.Evaluate(s.ctx, s.stranger, s.resource(domain.ResourceAppointments), domain.OperationRead)
	s.False(d.Allowed)
	s.True(dErrors.HasCode(d.Err(), dErrors.CodeForbidden))
}

func (s *EvaluatorSuite) TestSelfServiceCompliance() {
	own := s.doctor.ID
	r := access.Resource{Type: domain.ResourceConsents, OwnerPatientID: &own}
	s.True(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationCreate).Allowed)
	s.False(s.evaluator.Evaluate(s.ctx, s.doctor, r, domain.OperationDelete).Allowed)
	s.False(s.evaluator.Evaluate(s.ctx, s.secretary, r, domain.OperationRead).Allowed)
}

// =============================================================================
// Admin and malformed input
// =============================================================================

func (s *EvaluatorSuite) TestAdminAllowedEverywhere() {
	for _, t := range domain.ClinicalTypes() {
		d := s.evaluator.Evaluate(s.ctx, s.admin, s.resource(t), domain.OperationDelete)
		s.True(d.Allowed)
		s.Equal(access.ReasonAdmin, d.Reason)
	}
}

func (s *EvaluatorSuite) TestUnknownRoleDenied() {
	d := s.evaluator.Evaluate(s.ctx, domain.Subject{ID: domain.NewUserID(), Role: "nurse"}, s.resource(domain.ResourceAppointments), domain.OperationRead)
	s.False(d.Allowed)
}

func (s *EvaluatorSuite) TestUnknownOperationDenied() {
	d := s.evaluator.Evaluate(s.ctx, s.admin, s.resource(domain.ResourceAppointments), domain.Operation("purge"))
	s.False(d.Allowed)
}

// =============================================================================
// Decision matrix
// =============================================================================
// Justification: every role, resource type and operation is walked so a
// combination no rule names can only come out as NOT_AUTHORIZED.

var (
	matrixRoles = []domain.Role{domain.RolePatient, domain.RoleDoctor, domain.RoleSecretary, domain.RoleAdmin}
	matrixTypes = []domain.ResourceType{
		domain.ResourceAppointments, domain.ResourcePatientContacts, domain.ResourceUserDirectory,
		domain.ResourcePrescriptions, domain.ResourceExams, domain.ResourceMoodEntries, domain.ResourceDoctorNotes,
		domain.ResourceConsents, domain.ResourceAccountLifecycle, domain.ResourceAuditTrail, domain.ResourcePatientAssignments,
	}
	matrixOps = []domain.Operation{domain.OperationRead, domain.OperationCreate, domain.OperationUpdate, domain.OperationDelete}

	opsAll   = []domain.Operation{domain.OperationRead, domain.OperationCreate, domain.OperationUpdate, domain.OperationDelete}
	opsWrite = []domain.Operation{domain.OperationRead, domain.OperationCreate, domain.OperationUpdate}
	opsRead  = []domain.Operation{domain.OperationRead}
)

type grants map[domain.ResourceType][]domain.Operation

func (g grants) has(t domain.ResourceType, op domain.Operation) bool {
	for _, allowed := range g[t] {
		if allowed == op {
			return true
		}
	}
	return false
}

func (s *EvaluatorSuite) TestDecisionMatrix() {
	administrative := grants{
		domain.ResourceAppointments:    opsAll,
		domain.ResourcePatientContacts: opsAll,
		domain.ResourceUserDirectory:   opsAll,
	}

	cases := []struct {
		name string
		// owned makes the subject the resource's patient owner.
		owned   bool
		allowed map[domain.Role]grants
	}{
		{
			name: "another patient's data",
			allowed: map[domain.Role]grants{
				domain.RoleSecretary: administrative,
			},
		},
		{
			name:  "own data",
			owned: true,
			allowed: map[domain.Role]grants{
				domain.RolePatient: {
					domain.ResourceAppointments:       opsAll,
					domain.ResourcePatientContacts:    opsAll,
					domain.ResourceUserDirectory:      opsAll,
					domain.ResourcePrescriptions:      opsRead,
					domain.ResourceExams:              opsRead,
					domain.ResourceMoodEntries:        opsWrite,
					domain.ResourceDoctorNotes:        opsRead,
					domain.ResourceConsents:           opsWrite,
					domain.ResourceAccountLifecycle:   opsWrite,
					domain.ResourceAuditTrail:         opsWrite,
					domain.ResourcePatientAssignments: opsRead,
				},
				domain.RoleDoctor: {
					domain.ResourceUserDirectory:    opsWrite,
					domain.ResourceConsents:         opsWrite,
					domain.ResourceAccountLifecycle: opsWrite,
					domain.ResourceAuditTrail:       opsWrite,
				},
				domain.RoleSecretary: {
					domain.ResourceAppointments:     opsAll,
					domain.ResourcePatientContacts:  opsAll,
					domain.ResourceUserDirectory:    opsAll,
					domain.ResourceConsents:         opsWrite,
					domain.ResourceAccountLifecycle: opsWrite,
					domain.ResourceAuditTrail:       opsWrite,
				},
			},
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			for _, role := range matrixRoles {
				subject := domain.Subject{ID: domain.NewUserID(), Role: role}
				owner := s.patient.ID
				if tc.owned {
					owner = subject.ID
				}
				for _, t := range matrixTypes {
					for _, op := range matrixOps {
						d := s.evaluator.Evaluate(s.ctx, subject, access.Resource{Type: t, ID: "r-1", OwnerPatientID: &owner}, op)
						switch {
						case role == domain.RoleAdmin:
							s.True(d.Allowed, "%s %s %s", role, op, t)
							s.Equal(access.ReasonAdmin, d.Reason)
						case tc.allowed[role].has(t, op):
							s.True(d.Allowed, "%s %s %s", role, op, t)
						default:
							s.False(d.Allowed, "%s %s %s", role, op, t)
							s.Equal(access.ReasonNotAuthorized, d.Reason, "%s %s %s", role, op, t)
						}
					}
				}
			}
		})
	}
}

// =============================================================================
// Lookup failures
// =============================================================================
// Justification: an unreachable collaborator must never widen access.

func TestRelationshipLookupFailureDenies(t *testing.T) {
	ctrl := gomock.NewController(t)
	rel := mocks.NewMockRelationshipPort(ctrl)
	consent := mocks.NewMockConsentPort(ctrl)
	rel.EXPECT().IsAssigned(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("connection refused"))

	e, err := access.NewEvaluator(rel, consent)
	if err != nil {
		t.Fatal(err)
	}
	owner := domain.NewUserID()
	d := e.Evaluate(context.Background(), domain.Subject{ID: domain.NewUserID(), Role: domain.RoleDoctor},
		access.Resource{Type: domain.ResourceExams, OwnerPatientID: &owner}, domain.OperationRead)
	if d.Allowed || d.Reason != access.ReasonRelationshipLookupFailed {
		t.Fatalf("expected relationship lookup denial, got %+v", d)
	}
}

func TestConsentLookupFailureDenies(t *testing.T) {
	ctrl := gomock.NewController(t)
	rel := mocks.NewMockRelationshipPort(ctrl)
	consent := mocks.NewMockConsentPort(ctrl)
	rel.EXPECT().IsAssigned(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	consent.EXPECT().HasConsent(gomock.Any(), gomock.Any(), domain.ConsentSensitiveHealthData).Return(false, errors.New("timeout"))

	e, err := access.NewEvaluator(rel, consent)
	if err != nil {
		t.Fatal(err)
	}
	owner := domain.NewUserID()
	d := e.Evaluate(context.Background(), domain.Subject{ID: domain.NewUserID(), Role: domain.RoleDoctor},
		access.Resource{Type: domain.ResourceDoctorNotes, OwnerPatientID: &owner}, domain.OperationRead)
	if d.Allowed || d.Reason != access.ReasonConsentLookupFailed {
		t.Fatalf("expected consent lookup denial, got %+v", d)
	}
}
