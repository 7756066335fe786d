package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campus-rp/paas/internal/access"
	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/observability"
	"github.com/campus-rp/paas/internal/platform/httpx"
	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/users"
	"github.com/campus-rp/paas/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Registry *access.Registry
	Metrics  *observability.Metrics
	// Inspector reports queue health; nil when jobs are disabled.
	Inspector jobs.QueueInspector
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Registry: params.Registry,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	reg := params.Registry
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "auth_enabled": reg.Enabled()})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	var cookieSecure bool
	var redirect string
	if params.Config != nil {
		cookieSecure = params.Config.IsProduction()
		redirect = params.Config.GoogleOAuthRedirectURI
	}
	authHandler := auth.NewHandler(params.Logger, reg.Engine(), reg.Enabled, auth.HandlerConfig{
		RedirectURI:  redirect,
		SecureCookie: cookieSecure,
	})
	r.Route("/auth", authHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(reg.RequireAuthentication)
		r.Route("/users", users.NewHandler(params.Logger, reg.Directory(), reg.RBAC()).MountRoutes)
		r.Route("/permissions", rbac.NewPermissionsHandler(params.Logger, reg.Resolver(), reg.Principal, reg.RBAC()).MountRoutes)
		r.Route("/jobs", func(r chi.Router) {
			r.Use(reg.RequireAction(rbac.ResourceSystem, rbac.ActionRead))
			jobs.NewHandler(params.Inspector, params.Logger).MountRoutes(r)
		})
	})
	return r
}
