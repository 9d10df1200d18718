// Package handler exposes the consent ledger to data subjects. Every
// endpoint passes through the gate, so consent changes are themselves
// audited.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/consent/models"
	"carekeeper/internal/gate"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

// Ledger defines the consent operations the handler needs.
type Ledger interface {
	Grant(ctx context.Context, userID domain.UserID, t domain.ConsentType, policyVersion string) (*models.Event, error)
	Revoke(ctx context.Context, userID domain.UserID, t domain.ConsentType) (*models.Event, error)
	CurrentStatus(ctx context.Context, userID domain.UserID, t domain.ConsentType) (models.Status, error)
	Statuses(ctx context.Context, userID domain.UserID) ([]models.Status, error)
	History(ctx context.Context, userID domain.UserID, t domain.ConsentType) ([]models.Event, error)
}

type Gate interface {
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
}

type Handler struct {
	ledger Ledger
	gate   Gate
	logger *slog.Logger
}

func New(ledger Ledger, g Gate, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, gate: g, logger: logger}
}

// Register mounts consent endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consents", h.HandleStatuses)
	r.Post("/consents/{type}/grant", h.HandleGrant)
	r.Post("/consents/{type}/revoke", h.HandleRevoke)
	r.Get("/consents/{type}/history", h.HandleHistory)
}

// GrantRequest is the body of POST /consents/{type}/grant.
type GrantRequest struct {
	PolicyVersion string `json:"policy_version"`
}

func (r *GrantRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.PolicyVersion = strings.TrimSpace(r.PolicyVersion)
	if r.PolicyVersion == "" {
		return dErrors.New(dErrors.CodeValidation, "policy_version is required")
	}
	return nil
}

// HandleGrant handles POST /consents/{type}/grant.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, t, err := h.target(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[GrantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var event *models.Event
	err = h.change(ctx, userID, t, domain.OperationCreate, audit.ActionConsentGrant, func(ctx context.Context) (any, error) {
		event, err = h.ledger.Grant(ctx, userID, t, req.PolicyVersion)
		return event, err
	})
	if err != nil {
		h.fail(ctx, w, "consent grant failed", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

// HandleRevoke handles POST /consents/{type}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, t, err := h.target(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var event *models.Event
	err = h.change(ctx, userID, t, domain.OperationUpdate, audit.ActionConsentRevoke, func(ctx context.Context) (any, error) {
		event, err = h.ledger.Revoke(ctx, userID, t)
		return event, err
	})
	if err != nil {
		h.fail(ctx, w, "consent revoke failed", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

// HandleStatuses handles GET /consents.
func (h *Handler) HandleStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := h.targetUser(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var statuses []models.Status
	err = h.gate.Run(ctx, readRequest(userID, ""), func(ctx context.Context) (any, error) {
		statuses, err = h.ledger.Statuses(ctx, userID)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, "consent status lookup failed", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": statuses})
}

// HandleHistory handles GET /consents/{type}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, t, err := h.target(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var events []models.Event
	err = h.gate.Run(ctx, readRequest(userID, t), func(ctx context.Context) (any, error) {
		events, err = h.ledger.History(ctx, userID, t)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, "consent history lookup failed", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) change(ctx context.Context, userID domain.UserID, t domain.ConsentType, op domain.Operation, action audit.Action, fn gate.Func) error {
	before, err := h.ledger.CurrentStatus(ctx, userID, t)
	if err != nil {
		return err
	}
	req := readRequest(userID, t)
	req.Operation = op
	req.Action = action
	req.Before = before
	return h.gate.Run(ctx, req, fn)
}

func readRequest(userID domain.UserID, t domain.ConsentType) gate.Request {
	owner := userID
	return gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourceConsents,
			ID:             domain.ResourceID(t),
			OwnerPatientID: &owner,
		},
		Operation: domain.OperationRead,
	}
}

// target resolves the consent owner and type from the request.
func (h *Handler) target(r *http.Request) (domain.UserID, domain.ConsentType, error) {
	userID, err := h.targetUser(r)
	if err != nil {
		return domain.UserID{}, "", err
	}
	t, err := domain.ParseConsentType(chi.URLParam(r, "type"))
	if err != nil {
		return domain.UserID{}, "", err
	}
	return userID, t, nil
}

// targetUser is the subject themselves unless ?user_id= names someone else;
// the gate decides whether that is allowed.
func (h *Handler) targetUser(r *http.Request) (domain.UserID, error) {
	subject, ok := requestcontext.Subject(r.Context())
	if !ok {
		return domain.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		return domain.ParseUserID(raw)
	}
	return subject.ID, nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg, requestID string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestID,
		"error", err,
	)
	httputil.WriteError(w, err)
}
