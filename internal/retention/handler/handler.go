// Package handler exposes the account lifecycle over HTTP. Every route goes
// through the gate on the account_lifecycle resource, so the account holder
// can act on their own row and an admin can act on any.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/gate"
	"carekeeper/internal/retention"
	"carekeeper/internal/retention/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

type Service interface {
	Enroll(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error)
	Status(ctx context.Context, userID domain.UserID) (*models.Account, error)
	RecordLogin(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error)
	RequestDeletion(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error)
}

// Ticker runs one retention pass on demand.
type Ticker interface {
	TickOnce(ctx context.Context) (models.BatchReport, error)
}

type Gate interface {
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
	RunDetached(ctx context.Context, req gate.Request, fn gate.Func) error
}

type Handler struct {
	service Service
	ticker  Ticker
	gate    Gate
	logger  *slog.Logger
}

// New builds the handler. ticker may be nil, in which case the manual tick
// route is not registered.
func New(service Service, ticker Ticker, g Gate, logger *slog.Logger) *Handler {
	return &Handler{service: service, ticker: ticker, gate: g, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/accounts/{userID}/lifecycle", h.HandleEnroll)
	r.Get("/accounts/{userID}/lifecycle", h.HandleStatus)
	r.Post("/accounts/{userID}/lifecycle/login", h.HandleLogin)
	r.Post("/accounts/{userID}/deletion-request", h.HandleDeletionRequest)
	if h.ticker != nil {
		r.Post("/admin/retention/tick", h.HandleTick)
	}
}

// HandleEnroll handles POST /accounts/{userID}/lifecycle.
func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, domain.OperationCreate, audit.ActionLifecycleEnroll, http.StatusCreated, h.service.Enroll)
}

// HandleLogin handles POST /accounts/{userID}/lifecycle/login. The identity
// provider calls it after a successful sign-in.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, domain.OperationUpdate, "", http.StatusOK, h.service.RecordLogin)
}

// HandleDeletionRequest handles POST /accounts/{userID}/deletion-request.
func (h *Handler) HandleDeletionRequest(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, domain.OperationUpdate, audit.ActionLifecycleRequest, http.StatusAccepted, h.service.RequestDeletion)
}

// HandleStatus handles GET /accounts/{userID}/lifecycle.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var account *models.Account
	err = h.gate.Run(ctx, request(userID, domain.OperationRead, ""), func(ctx context.Context) (any, error) {
		account, err = h.service.Status(ctx, userID)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

type mutation func(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error)

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op domain.Operation, action audit.Action, status int, fn mutation) {
	ctx := r.Context()
	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	gr := request(userID, op, action)
	if prev, err := h.service.Status(ctx, userID); err == nil {
		gr.Before = prev
	}
	var account *models.Account
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		account, err = fn(ctx, userID, requestcontext.Now(ctx))
		return account, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.logger.InfoContext(ctx, "account lifecycle updated",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID,
		"state", account.State,
	)
	httputil.WriteJSON(w, status, account)
}

// HandleTick handles POST /admin/retention/tick. The resource has no owner,
// so only admins pass the gate. The tick commits per account, so it runs
// outside the gate's transaction.
func (h *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := gate.Request{
		Resource:  access.Resource{Type: domain.ResourceAccountLifecycle, ID: "retention-tick"},
		Operation: domain.OperationUpdate,
	}
	var report models.BatchReport
	err := h.gate.RunDetached(ctx, req, func(ctx context.Context) (any, error) {
		var err error
		report, err = h.ticker.TickOnce(ctx)
		if errors.Is(err, retention.ErrTickSkipped) {
			return nil, dErrors.New(dErrors.CodeConflict, "a retention tick is already running")
		}
		return report, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func request(userID domain.UserID, op domain.Operation, action audit.Action) gate.Request {
	owner := userID
	return gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourceAccountLifecycle,
			ID:             domain.ResourceID(userID.String()),
			OwnerPatientID: &owner,
		},
		Operation: op,
		Action:    action,
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "lifecycle request failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
