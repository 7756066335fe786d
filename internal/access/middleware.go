package access

import (
	"net/http"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/platform/httpx"
	"github.com/campus-rp/paas/internal/rbac"
)

// Authenticate attaches the identity resolved from the request credential
// to the context. Requests without a valid credential pass through
// anonymously.
func (r *Registry) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if id := r.AuthenticateRequest(req.Context(), auth.TokenFromRequest(req)); id != nil {
			req = req.WithContext(auth.ContextWithIdentity(req.Context(), id))
		}
		next.ServeHTTP(w, req)
	})
}

// RequireAuthentication rejects anonymous callers with 401 while
// authentication is enabled.
func (r *Registry) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Enabled() && r.identity(req) == nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// RequireEnabled answers 503 while authentication is disabled.
func (r *Registry) RequireEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Enabled() {
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "authentication is disabled")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// RequireAction rejects callers not allowed to perform action on resource.
func (r *Registry) RequireAction(resource string, action rbac.Action) func(http.Handler) http.Handler {
	return r.RBAC().RequireAny(resource, action)
}
