package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/account/models"
	"carekeeper/internal/account/service"
	"carekeeper/internal/gate"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

type Service interface {
	Get(ctx context.Context, userID domain.UserID) (*models.Profile, error)
	Save(ctx context.Context, userID domain.UserID, in service.UpdateInput) (*models.Profile, error)
}

type Gate interface {
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
}

type Handler struct {
	service Service
	gate    Gate
	logger  *slog.Logger
}

func New(service Service, g Gate, logger *slog.Logger) *Handler {
	return &Handler{service: service, gate: g, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/accounts/{userID}/profile", h.HandleGet)
	r.Put("/accounts/{userID}/profile", h.HandlePut)
}

type ProfileRequest struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	NationalID string `json:"national_id"`
}

func (r *ProfileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// HandleGet handles GET /accounts/{userID}/profile.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var p *models.Profile
	err = h.gate.Run(ctx, request(userID, domain.OperationRead), func(ctx context.Context) (any, error) {
		p, err = h.service.Get(ctx, userID)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// HandlePut handles PUT /accounts/{userID}/profile.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	gr := request(userID, domain.OperationUpdate)
	if before, err := h.service.Get(ctx, userID); err == nil {
		gr.Before = before
	}
	var saved *models.Profile
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		saved, err = h.service.Save(ctx, userID, service.UpdateInput{
			FullName:   req.FullName,
			Email:      req.Email,
			Phone:      req.Phone,
			NationalID: req.NationalID,
		})
		return saved, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, saved)
}

func request(userID domain.UserID, op domain.Operation) gate.Request {
	owner := userID
	return gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourceUserDirectory,
			ID:             domain.ResourceID(userID.String()),
			OwnerPatientID: &owner,
		},
		Operation: op,
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "profile request failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
