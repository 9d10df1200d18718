package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/gate"
	"carekeeper/internal/records/models"
	"carekeeper/internal/records/service"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, in service.CreateInput, now time.Time) (*models.MedicalRecord, error)
	Get(ctx context.Context, id domain.RecordID) (*models.MedicalRecord, error)
	List(ctx context.Context, patientID domain.UserID, t domain.ResourceType) ([]models.MedicalRecord, error)
	UpdateContent(ctx context.Context, id domain.RecordID, content json.RawMessage, visible bool, now time.Time) (*models.MedicalRecord, error)
	Delete(ctx context.Context, id domain.RecordID, now time.Time) error
}

type Gate interface {
	Authorize(ctx context.Context, req gate.Request) (access.Decision, error)
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
}

// Handler serves clinical content. Every route runs through the gate with
// a resource built from the record's patient, type and author.
type Handler struct {
	service Service
	gate    Gate
	logger  *slog.Logger
}

func New(service Service, g Gate, logger *slog.Logger) *Handler {
	return &Handler{service: service, gate: g, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/patients/{patientID}/records", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{recordID}", h.HandleGet)
		r.Patch("/{recordID}", h.HandleUpdate)
		r.Delete("/{recordID}", h.HandleDelete)
	})
}

type CreateRequest struct {
	Type             string          `json:"type"`
	Content          json.RawMessage `json:"content"`
	VisibleToPatient *bool           `json:"visible_to_patient"`

	parsedType domain.ResourceType
}

func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	t, err := domain.ParseResourceType(r.Type)
	if err != nil {
		return err
	}
	if !t.IsClinical() {
		return dErrors.New(dErrors.CodeValidation, "type must be a clinical record type")
	}
	if len(r.Content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	r.parsedType = t
	return nil
}

func (r *CreateRequest) visible() bool {
	return r.VisibleToPatient == nil || *r.VisibleToPatient
}

type UpdateRequest struct {
	Content          json.RawMessage `json:"content"`
	VisibleToPatient *bool           `json:"visible_to_patient"`
}

func (r *UpdateRequest) Validate() error {
	if r == nil || len(r.Content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	return nil
}

// HandleCreate handles POST /patients/{patientID}/records.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, ok := requestcontext.Subject(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	author := subject.ID
	owner := patientID
	gr := gate.Request{
		Resource: access.Resource{
			Type:             req.parsedType,
			OwnerPatientID:   &owner,
			AssignedDoctorID: &author,
		},
		Operation: domain.OperationCreate,
	}
	var created *models.MedicalRecord
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		created, err = h.service.Create(ctx, service.CreateInput{
			PatientID:        patientID,
			Type:             req.parsedType,
			AuthorID:         author,
			VisibleToPatient: req.visible(),
			Content:          req.Content,
		}, requestcontext.Now(ctx))
		return created, err
	})
	if err != nil {
		h.fail(ctx, w, "medical record create failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// HandleList handles GET /patients/{patientID}/records?type=...
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := domain.ParseResourceType(r.URL.Query().Get("type"))
	if err != nil || !t.IsClinical() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "type must be a clinical record type"))
		return
	}

	owner := patientID
	gr := gate.Request{
		Resource:  access.Resource{Type: t, OwnerPatientID: &owner},
		Operation: domain.OperationRead,
	}
	var records []models.MedicalRecord
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		records, err = h.service.List(ctx, patientID, t)
		return nil, err
	})
	if err != nil {
		h.fail(ctx, w, "medical record list failed", err)
		return
	}
	if subject, _ := requestcontext.Subject(ctx); subject.ID == patientID && subject.Role == domain.RolePatient {
		records = visibleOnly(records)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// HandleGet handles GET /patients/{patientID}/records/{recordID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.load(ctx, r, domain.OperationRead)
	if err != nil {
		h.fail(ctx, w, "medical record read failed", err)
		return
	}
	err = h.gate.Run(ctx, recordRequest(rec, domain.OperationRead), func(context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		h.fail(ctx, w, "medical record read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleUpdate handles PATCH /patients/{patientID}/records/{recordID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	rec, err := h.load(ctx, r, domain.OperationUpdate)
	if err != nil {
		h.fail(ctx, w, "medical record update failed", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	visible := rec.VisibleToPatient
	if req.VisibleToPatient != nil {
		visible = *req.VisibleToPatient
	}

	gr := recordRequest(rec, domain.OperationUpdate)
	gr.Before = rec
	var updated *models.MedicalRecord
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		updated, err = h.service.UpdateContent(ctx, rec.ID, req.Content, visible, requestcontext.Now(ctx))
		return updated, err
	})
	if err != nil {
		h.fail(ctx, w, "medical record update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /patients/{patientID}/records/{recordID}.
// The retention floor applies after authorization, for every role.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.load(ctx, r, domain.OperationDelete)
	if err != nil {
		h.fail(ctx, w, "medical record delete failed", err)
		return
	}
	gr := recordRequest(rec, domain.OperationDelete)
	gr.Before = rec
	err = h.gate.Run(ctx, gr, func(ctx context.Context) (any, error) {
		return nil, h.service.Delete(ctx, rec.ID, requestcontext.Now(ctx))
	})
	if err != nil {
		h.fail(ctx, w, "medical record delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load fetches the record named in the path and checks it belongs to the
// patient in the path, so a mismatched URL cannot borrow another patient's
// authorization. The caller's standing with that patient is authorized
// before the lookup: without it the answer is the same denial whether or
// not the record exists.
func (h *Handler) load(ctx context.Context, r *http.Request, op domain.Operation) (*models.MedicalRecord, error) {
	patientID, err := domain.ParseUserID(chi.URLParam(r, "patientID"))
	if err != nil {
		return nil, err
	}
	recordID, err := domain.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		return nil, err
	}
	if _, err := h.gate.Authorize(ctx, standingRequest(patientID, recordID, op)); err != nil {
		return nil, err
	}
	rec, err := h.service.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.PatientID != patientID {
		return nil, dErrors.New(dErrors.CodeNotFound, "medical record not found")
	}
	return rec, nil
}

// standingRequest asks whether the caller may see the patient's care
// relationship. Only the patient, their assigned doctor and admins may, and
// every record route needs at least that. The decision does not depend on
// the record, so it can be made before the record is loaded.
func standingRequest(patientID domain.UserID, recordID domain.RecordID, op domain.Operation) gate.Request {
	owner := patientID
	return gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourcePatientAssignments,
			ID:             domain.ResourceID(recordID.String()),
			OwnerPatientID: &owner,
		},
		Operation: domain.OperationRead,
		Action:    audit.ActionForOperation(op),
	}
}

func recordRequest(rec *models.MedicalRecord, op domain.Operation) gate.Request {
	owner := rec.PatientID
	author := rec.AuthorID
	visible := rec.VisibleToPatient
	return gate.Request{
		Resource: access.Resource{
			Type:             rec.Type,
			ID:               domain.ResourceID(rec.ID.String()),
			OwnerPatientID:   &owner,
			AssignedDoctorID: &author,
			VisibleToPatient: &visible,
		},
		Operation: op,
	}
}

func visibleOnly(records []models.MedicalRecord) []models.MedicalRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.Type != domain.ResourceDoctorNotes || r.VisibleToPatient {
			out = append(out, r)
		}
	}
	return out
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
