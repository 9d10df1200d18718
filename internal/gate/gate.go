// Package gate is the single authorization boundary route handlers pass
// through. It evaluates access, runs the action, and writes the audit record.
// A mandatory audit write that fails aborts the action: the write happens
// inside the same transaction as the action, so the action rolls back with
// it.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"carekeeper/internal/access"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/tx"
	"carekeeper/pkg/requestcontext"
)

type Evaluator interface {
	Evaluate(ctx context.Context, subject domain.Subject, resource access.Resource, op domain.Operation) access.Decision
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (*audit.Record, error)
}

// Request describes one guarded action. Action defaults to the audit action
// matching Operation. Before is the resource state prior to a mutation and
// is ignored for reads.
type Request struct {
	Resource  access.Resource
	Operation domain.Operation
	Action    audit.Action
	Before    any
}

func (r Request) action() audit.Action {
	if r.Action != "" {
		return r.Action
	}
	return audit.ActionForOperation(r.Operation)
}

// Func performs the guarded action and returns the resulting resource state
// for the audit snapshot.
type Func func(ctx context.Context) (after any, err error)

type Gate struct {
	evaluator Evaluator
	trail     Recorder
	runner    tx.Runner
	logger    *slog.Logger
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithTxRunner sets the transaction runner shared by actions and their
// audit writes. Without one, actions are not rolled back on audit failure.
func WithTxRunner(r tx.Runner) Option {
	return func(g *Gate) { g.runner = r }
}

func New(evaluator Evaluator, trail Recorder, opts ...Option) (*Gate, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}
	g := &Gate{
		evaluator: evaluator,
		trail:     trail,
		runner:    tx.NopRunner{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authorize evaluates req for the subject in ctx. Denials are audited here
// and returned as errors; an allowed decision still needs Complete.
func (g *Gate) Authorize(ctx context.Context, req Request) (access.Decision, error) {
	subject, ok := requestcontext.Subject(ctx)
	if !ok {
		return access.Decision{}, dErrors.New(dErrors.CodeUnauthorized, "missing subject")
	}
	d := g.evaluator.Evaluate(ctx, subject, req.Resource, req.Operation)
	if d.Allowed {
		return d, nil
	}

	if _, err := g.trail.Record(ctx, g.entry(subject, req, d)); err != nil {
		if dErrors.HasCode(err, dErrors.CodeAuditWriteFailed) {
			return d, err
		}
		g.logger.ErrorContext(ctx, "failed to audit denied access",
			"subject_id", subject.ID,
			"resource_type", req.Resource.Type,
			"error", err,
		)
	}
	return d, d.Err()
}

// Complete writes the audit record for an allowed action. after is the
// resulting state, ignored for reads.
func (g *Gate) Complete(ctx context.Context, req Request, d access.Decision, after any) error {
	subject, ok := requestcontext.Subject(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "missing subject")
	}
	entry := g.entry(subject, req, d)
	if req.Operation.IsMutation() {
		var err error
		if entry.Before, err = snapshot(req.Before); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot resource")
		}
		if entry.After, err = snapshot(after); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot resource")
		}
	}
	_, err := g.trail.Record(ctx, entry)
	return err
}

// Run authorizes req, then runs fn and records the audit entry in one
// transaction. If fn fails the attempt is still audited outside the
// transaction, best effort.
func (g *Gate) Run(ctx context.Context, req Request, fn Func) error {
	return g.run(ctx, req, fn, g.runner)
}

// RunDetached is Run for actions that commit their own units of work, such
// as a retention tick. fn runs outside any transaction and the audit record
// is written after it returns.
func (g *Gate) RunDetached(ctx context.Context, req Request, fn Func) error {
	return g.run(tx.Detach(ctx), req, fn, tx.NopRunner{})
}

func (g *Gate) run(ctx context.Context, req Request, fn Func, runner tx.Runner) error {
	d, err := g.Authorize(ctx, req)
	if err != nil {
		return err
	}

	var actionErr error
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		after, err := fn(ctx)
		if err != nil {
			actionErr = err
			return err
		}
		return g.Complete(ctx, req, d, after)
	})
	if err == nil {
		return nil
	}
	if actionErr != nil {
		g.recordFailedAttempt(ctx, req, d, actionErr)
	}
	return err
}

// Check authorizes req and audits the decision without running an action.
func (g *Gate) Check(ctx context.Context, req Request) (access.Decision, error) {
	d, err := g.Authorize(ctx, req)
	if err != nil {
		return d, err
	}
	return d, g.Complete(ctx, Request{Resource: req.Resource, Operation: domain.OperationRead, Action: req.action()}, d, nil)
}

func (g *Gate) recordFailedAttempt(ctx context.Context, req Request, d access.Decision, cause error) {
	subject, _ := requestcontext.Subject(ctx)
	g.logger.WarnContext(ctx, "guarded action failed",
		"subject_id", subject.ID,
		"action", req.action(),
		"resource_type", req.Resource.Type,
		"resource_id", req.Resource.ID,
		"error", cause,
	)
	entry := g.entry(subject, req, d)
	entry.Reason = d.Reason.String() + ";ACTION_FAILED"
	if _, err := g.trail.Record(ctx, entry); err != nil {
		g.logger.ErrorContext(ctx, "failed to audit failed action", "error", err)
	}
}

func (g *Gate) entry(subject domain.Subject, req Request, d access.Decision) audit.Entry {
	e := audit.Entry{
		ActorID:      subject.ID,
		ActorRole:    subject.Role,
		Action:       req.action(),
		ResourceType: req.Resource.Type,
		ResourceID:   req.Resource.ID,
		Decision:     audit.OutcomeOf(d.Allowed),
		Reason:       d.Reason.String(),
	}
	if req.Resource.OwnerPatientID != nil {
		e.OwnerID = *req.Resource.OwnerPatientID
	}
	return e
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
