// Package access decides whether a subject may perform an operation on a
// resource. Rules are evaluated in a fixed order and the first match wins:
//
//  1. Admin: allow.
//  2. Secretary: allow administrative types, deny clinical types.
//  3. Self-service: any subject may read, create or update their own
//     directory entry, consents, account lifecycle and audit trail.
//  4. Patient owner: own data, with the restrictions in ownerDecision.
//  5. Assigned doctor: read; create/update of doctor-authored content they
//     author.
//  6. Otherwise deny.
//
// A non-owner, non-admin read of clinical data additionally requires the
// owner's sensitive_health_data consent. Lookup failures deny.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carekeeper/internal/access/metrics"
	"carekeeper/internal/access/ports"
	"carekeeper/pkg/domain"
)

// Evaluator is safe for concurrent use. It holds no per-request state.
type Evaluator struct {
	relationships ports.RelationshipPort
	consent       ports.ConsentPort
	consentGate   bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithConsentGate toggles the sensitive-data consent check. It is on by
// default.
func WithConsentGate(enabled bool) Option {
	return func(e *Evaluator) { e.consentGate = enabled }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) { e.tracer = t }
}

func NewEvaluator(relationships ports.RelationshipPort, consent ports.ConsentPort, opts ...Option) (*Evaluator, error) {
	if relationships == nil {
		return nil, fmt.Errorf("relationship port is required")
	}
	if consent == nil {
		return nil, fmt.Errorf("consent port is required")
	}
	e := &Evaluator{
		relationships: relationships,
		consent:       consent,
		consentGate:   true,
		logger:        slog.Default(),
		tracer:        otel.Tracer("carekeeper/access"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// selfServiceTypes are resources every subject manages for themselves,
// whatever their role.
var selfServiceTypes = map[domain.ResourceType]bool{
	domain.ResourceUserDirectory:    true,
	domain.ResourceConsents:         true,
	domain.ResourceAccountLifecycle: true,
	domain.ResourceAuditTrail:       true,
}

// Evaluate never returns an error: anything indeterminate is a denial.
func (e *Evaluator) Evaluate(ctx context.Context, subject domain.Subject, resource Resource, op domain.Operation) Decision {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "access.Evaluate", trace.WithAttributes(
		attribute.String("subject.role", subject.Role.String()),
		attribute.String("resource.type", resource.Type.String()),
		attribute.String("operation", op.String()),
	))
	defer span.End()

	d := e.evaluate(ctx, subject, resource, op)

	span.SetAttributes(
		attribute.Bool("decision.allowed", d.Allowed),
		attribute.String("decision.reason", d.Reason.String()),
	)
	e.metrics.ObserveEvaluateLatency(time.Since(start))
	e.metrics.IncrementDecision(d.Allowed, d.Reason.String(), resource.Type.String())
	if !d.Allowed {
		e.logger.InfoContext(ctx, "access denied",
			"subject_id", subject.ID,
			"role", subject.Role,
			"resource_type", resource.Type,
			"resource_id", resource.ID,
			"operation", op,
			"reason", d.Reason,
		)
	}
	return d
}

func (e *Evaluator) evaluate(ctx context.Context, subject domain.Subject, resource Resource, op domain.Operation) Decision {
	if !subject.Role.IsValid() || !resource.Type.IsValid() {
		return deny(ReasonNotAuthorized)
	}
	if _, err := domain.ParseOperation(op.String()); err != nil {
		return deny(ReasonNotAuthorized)
	}

	if subject.IsAdmin() {
		return allow(ReasonAdmin)
	}
	if subject.ID.IsNil() {
		return deny(ReasonNotAuthorized)
	}

	if subject.Role == domain.RoleSecretary {
		switch {
		case resource.Type.IsAdministrative():
			return allow(ReasonSecretaryAdministrative)
		case resource.Type.IsClinical():
			return deny(ReasonNotAuthorized)
		}
	}

	if selfServiceTypes[resource.Type] && resource.OwnedBy(subject.ID) && op != domain.OperationDelete {
		return allow(ReasonOwner)
	}

	if subject.Role == domain.RolePatient && resource.OwnedBy(subject.ID) {
		return ownerDecision(resource, op)
	}

	if subject.Role == domain.RoleDoctor {
		d := e.doctorDecision(ctx, subject, resource, op)
		if !d.Allowed {
			return d
		}
		return e.consentCheck(ctx, resource, op, d)
	}

	return deny(ReasonNotAuthorized)
}

// ownerDecision applies the patient-owner rule. Clinical content is never
// deleted by its owner, and doctor-authored content is read-only to them.
func ownerDecision(resource Resource, op domain.Operation) Decision {
	t := resource.Type
	switch {
	case t.IsAdministrative():
		return allow(ReasonOwner)
	case t == domain.ResourcePatientAssignments:
		if op == domain.OperationRead {
			return allow(ReasonOwner)
		}
		return deny(ReasonNotAuthorized)
	case !t.IsClinical():
		return deny(ReasonNotAuthorized)
	}

	switch op {
	case domain.OperationRead:
		if t == domain.ResourceDoctorNotes && resource.hiddenFromPatient() {
			return deny(ReasonNotAuthorized)
		}
		return allow(ReasonOwner)
	case domain.OperationCreate, domain.OperationUpdate:
		if t.IsDoctorAuthored() {
			return deny(ReasonNotAuthorized)
		}
		return allow(ReasonOwner)
	default:
		return deny(ReasonNotAuthorized)
	}
}

func (e *Evaluator) doctorDecision(ctx context.Context, subject domain.Subject, resource Resource, op domain.Operation) Decision {
	if resource.OwnerPatientID == nil || resource.OwnerPatientID.IsNil() {
		return deny(ReasonNotAuthorized)
	}
	if !resource.Type.IsClinical() && !resource.Type.IsAdministrative() && resource.Type != domain.ResourcePatientAssignments {
		return deny(ReasonNotAuthorized)
	}

	assigned, err := e.relationships.IsAssigned(ctx, subject.ID, *resource.OwnerPatientID)
	if err != nil {
		e.metrics.IncrementLookupFailure("relationship")
		e.logger.ErrorContext(ctx, "relationship lookup failed",
			"doctor_id", subject.ID,
			"patient_id", resource.OwnerPatientID,
			"error", err,
		)
		return deny(ReasonRelationshipLookupFailed)
	}
	if !assigned {
		return deny(ReasonNotAuthorized)
	}

	switch op {
	case domain.OperationRead:
		return allow(ReasonAssignedDoctor)
	case domain.OperationCreate, domain.OperationUpdate:
		if !resource.Type.IsDoctorAuthored() {
			return deny(ReasonNotAuthorized)
		}
		if resource.AssignedDoctorID == nil || *resource.AssignedDoctorID != subject.ID {
			return deny(ReasonNotAuthorized)
		}
		return allow(ReasonAssignedDoctor)
	default:
		return deny(ReasonNotAuthorized)
	}
}

// consentCheck gates non-owner clinical reads on the owner's consent.
func (e *Evaluator) consentCheck(ctx context.Context, resource Resource, op domain.Operation, d Decision) Decision {
	if !e.consentGate || op != domain.OperationRead || !resource.Type.IsClinical() {
		return d
	}
	granted, err := e.consent.HasConsent(ctx, *resource.OwnerPatientID, domain.ConsentSensitiveHealthData)
	if err != nil {
		e.metrics.IncrementLookupFailure("consent")
		e.logger.ErrorContext(ctx, "consent lookup failed",
			"patient_id", resource.OwnerPatientID,
			"error", err,
		)
		return deny(ReasonConsentLookupFailed)
	}
	if !granted {
		return deny(ReasonConsentRequired)
	}
	return d
}
