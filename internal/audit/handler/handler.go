// Package handler serves audit trail queries. Admins may query any record;
// everyone else only sees the records they are the actor of. The query is
// itself audited.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/access"
	"carekeeper/internal/gate"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/requestcontext"
)

type Querier interface {
	Query(ctx context.Context, subject domain.Subject, f audit.Filter) ([]audit.Record, error)
}

type Gate interface {
	Run(ctx context.Context, req gate.Request, fn gate.Func) error
}

type Handler struct {
	trail  Querier
	gate   Gate
	logger *slog.Logger
}

func New(trail Querier, g Gate, logger *slog.Logger) *Handler {
	return &Handler{trail: trail, gate: g, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleQuery)
}

// RecordResponse is the wire form of an audit record.
type RecordResponse struct {
	ID           string          `json:"id"`
	Sequence     int64           `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	OwnerID      string          `json:"owner_id,omitempty"`
	Decision     string          `json:"decision"`
	Reason       string          `json:"reason,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
}

type QueryResponse struct {
	Records []RecordResponse `json:"records"`
}

// HandleQuery handles GET /audit.
//
// Query parameters: actor_id, owner_id, resource_type, resource_id, from,
// to (RFC 3339) and limit.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, ok := requestcontext.Subject(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing subject"))
		return
	}

	// Non-admin queries are scoped to the caller's own trail.
	owner := subject.ID
	req := gate.Request{
		Resource: access.Resource{
			Type:           domain.ResourceAuditTrail,
			ID:             domain.ResourceID(subject.ID.String()),
			OwnerPatientID: &owner,
		},
		Operation: domain.OperationRead,
	}
	var records []audit.Record
	err = h.gate.Run(ctx, req, func(ctx context.Context) (any, error) {
		records, err = h.trail.Query(ctx, subject, filter)
		return nil, err
	})
	if err != nil {
		h.logger.WarnContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := QueryResponse{Records: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, toResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func parseFilter(q url.Values) (audit.Filter, error) {
	var (
		f   audit.Filter
		err error
	)
	if v := q.Get("actor_id"); v != "" {
		if f.ActorID, err = domain.ParseUserID(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("owner_id"); v != "" {
		if f.OwnerID, err = domain.ParseUserID(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("resource_type"); v != "" {
		if f.ResourceType, err = domain.ParseResourceType(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("resource_id"); v != "" {
		if f.ResourceID, err = domain.ParseResourceID(v); err != nil {
			return f, err
		}
	}
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, dErrors.New(dErrors.CodeInvalidInput, "to must not be before from")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, "timestamps must be RFC 3339")
	}
	return t, nil
}

func toResponse(rec audit.Record) RecordResponse {
	out := RecordResponse{
		ID:           rec.ID.String(),
		Sequence:     rec.Sequence,
		Timestamp:    rec.Timestamp,
		ActorID:      rec.ActorID.String(),
		ActorRole:    rec.ActorRole.String(),
		Action:       string(rec.Action),
		ResourceType: rec.ResourceType.String(),
		ResourceID:   rec.ResourceID.String(),
		Decision:     string(rec.Decision),
		Reason:       rec.Reason,
		Before:       rec.Before,
		After:        rec.After,
		RequestID:    rec.RequestID,
	}
	if !rec.OwnerID.IsNil() {
		out.OwnerID = rec.OwnerID.String()
	}
	return out
}
