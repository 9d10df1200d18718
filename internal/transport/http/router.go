// Package httptransport assembles the chi router: the middleware chain,
// unauthenticated operational routes, and every module's guarded routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carekeeper/internal/platform/config"
	"carekeeper/pkg/platform/httputil"
	"carekeeper/pkg/platform/middleware/claims"
	"carekeeper/pkg/platform/middleware/metadata"
	"carekeeper/pkg/platform/middleware/request"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Logger   *slog.Logger
	Observer request.LatencyObserver
	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler
	// Tracing wraps the whole router when set.
	Tracing func(http.Handler) http.Handler
	DPO     config.DPOContact
	Health  map[string]HealthCheck
	Modules []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.Recovery(d.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(d.Logger, d.Observer))

	r.Get("/health", healthHandler(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/privacy/dpo", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, d.DPO)
	})

	r.Group(func(r chi.Router) {
		r.Use(claims.RequireSubject(d.Logger))
		for _, m := range d.Modules {
			m.Register(r)
		}
	})

	if d.Tracing != nil {
		return d.Tracing(r)
	}
	return r
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Services: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				resp.Services[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Services[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
