package request

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// routePattern returns the chi route template so metrics labels stay
// bounded (no raw IDs in label values).
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
