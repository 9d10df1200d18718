package testutil

import (
	"net/http"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/requestcontext"
)

// WithSubject attaches a trusted subject to the request context, the way the
// claims middleware does for authenticated requests.
func WithSubject(req *http.Request, id domain.UserID, role domain.Role) *http.Request {
	ctx := requestcontext.WithSubject(req.Context(), domain.Subject{ID: id, Role: role})
	return req.WithContext(ctx)
}

// WithClaimHeaders sets the gateway claim headers instead of the context
// value, for tests that run the full middleware chain.
func WithClaimHeaders(req *http.Request, id domain.UserID, role domain.Role) *http.Request {
	req.Header.Set("X-Subject-ID", id.String())
	req.Header.Set("X-Subject-Role", role.String())
	return req
}
