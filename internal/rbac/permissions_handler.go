package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campus-rp/paas/internal/platform/httpx"
)

// PrincipalFunc extracts the caller from a request, nil when anonymous.
type PrincipalFunc func(r *http.Request) Principal

// PermissionsHandler exposes the role catalogue and the caller's effective
// permissions.
type PermissionsHandler struct {
	logger    *slog.Logger
	resolver  *Resolver
	principal PrincipalFunc
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, resolver *Resolver, principal PrincipalFunc, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, resolver: resolver, principal: principal, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.myPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(ResourceSystem, ActionRead))
		r.Get("/", h.listRoles)
	})
}

type roleView struct {
	Role        Role                `json:"role"`
	Permissions map[string][]Action `json:"permissions"`
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	out := make([]roleView, 0, len(Roles))
	for _, role := range Roles {
		out = append(out, roleView{Role: role, Permissions: Baseline[role]})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	p := h.principal(r)
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":       p.GetRoles(),
		"permissions": h.resolver.ListPermissions(p),
	})
}
