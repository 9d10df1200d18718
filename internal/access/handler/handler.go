package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/gate"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

// Gate is the part of the authorization boundary this handler needs.
type Gate interface {
	Check(ctx context.Context, req gate.Request) (access.Decision, error)
}

// Handler exposes access decisions to services that cannot link the
// evaluator in-process.
type Handler struct {
	gate   Gate
	logger *slog.Logger
}

func New(g Gate, logger *slog.Logger) *Handler {
	return &Handler{gate: g, logger: logger}
}

// Register mounts access endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/access/evaluate", h.HandleEvaluate)
}

// HandleEvaluate handles POST /access/evaluate. A denial is a 200 with
// allowed=false; only audit or input failures are errors.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	d, err := h.gate.Check(ctx, gate.Request{Resource: req.parsedResource, Operation: req.parsedOperation})
	if err != nil && !isDenial(err) {
		h.logger.ErrorContext(ctx, "access evaluation failed",
			"request_id", requestID,
			"resource_type", req.parsedResource.Type,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, DecisionResponse{Allowed: d.Allowed, Reason: d.Reason.String()})
}

func isDenial(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeForbidden) || dErrors.HasCode(err, dErrors.CodeConsentRequired)
}
