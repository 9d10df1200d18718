package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/gate"
	"carekeeper/internal/relationship/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

type Service interface {
	Current(ctx context.Context, patientID domain.UserID) (*models.Assignment, error)
	Assign(ctx context.Context, patientID, doctorID domain.UserID, now time.Time) (current, previous *models.Assignment, err error)
	Unassign(ctx context.Context, patientID domain.UserID) (*models.Assignment, error)
}

type Gate interface {
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
}

// Handler manages care-team assignments. Only admins may change them; the
// patient and their doctor may read them.
type Handler struct {
	service Service
	gate    Gate
	logger  *slog.Logger
}

func New(service Service, g Gate, logger *slog.Logger) *Handler {
	return &Handler{service: service, gate: g, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/patients/{patientID}/assignment", h.HandleGet)
	r.Put("/patients/{patientID}/assignment", h.HandleAssign)
	r.Delete("/patients/{patientID}/assignment", h.HandleUnassign)
}

type AssignRequest struct {
	DoctorID string `json:"doctor_id"`

	parsedDoctorID domain.UserID
}

func (r *AssignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	id, err := domain.ParseUserID(r.DoctorID)
	if err != nil {
		return err
	}
	r.parsedDoctorID = id
	return nil
}

// HandleGet handles GET /patients/{patientID}/assignment.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var current *models.Assignment
	err = h.gate.Run(ctx, request(patientID, domain.OperationRead, ""), func(ctx context.Context) (any, error) {
		current, err = h.service.Current(ctx, patientID)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, current)
}

// HandleAssign handles PUT /patients/{patientID}/assignment.
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AssignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	gr := request(patientID, domain.OperationUpdate, audit.ActionAssign)
	if prev, err := h.service.Current(ctx, patientID); err == nil {
		gr.Before = prev
	}
	var current *models.Assignment
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		current, _, err = h.service.Assign(ctx, patientID, req.parsedDoctorID, requestcontext.Now(ctx))
		return current, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.logger.InfoContext(ctx, "doctor assigned",
		"request_id", requestID,
		"patient_id", patientID,
		"doctor_id", req.parsedDoctorID,
	)
	httputil.WriteJSON(w, http.StatusOK, current)
}

// HandleUnassign handles DELETE /patients/{patientID}/assignment.
func (h *Handler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	gr := request(patientID, domain.OperationDelete, audit.ActionUnassign)
	if prev, err := h.service.Current(ctx, patientID); err == nil {
		gr.Before = prev
	}
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		_, err := h.service.Unassign(ctx, patientID)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func request(patientID domain.UserID, op domain.Operation, action audit.Action) gate.Request {
	owner := patientID
	return gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourcePatientAssignments,
			ID:             domain.ResourceID(patientID.String()),
			OwnerPatientID: &owner,
		},
		Operation: op,
		Action:    action,
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "assignment request failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
