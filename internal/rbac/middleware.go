package rbac

import (
	"log/slog"
	"net/http"
)

// Decider makes the access decision for a request. The registry implements
// it so that a disabled deployment keeps allowing everything.
type Decider interface {
	Allow(r *http.Request, resource string, action Action) bool
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Decider Decider
	Logger  *slog.Logger
}

// RequireAny ensures the caller may perform at least one action on resource.
func (m Middleware) RequireAny(resource string, actions ...Action) func(http.Handler) http.Handler {
	normalized := normalizeList(actions)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, action := range normalized {
				if m.Decider.Allow(r, resource, action) {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.deny(w, r, resource)
		})
	}
}

// RequireAll ensures the caller may perform every action on resource.
func (m Middleware) RequireAll(resource string, actions ...Action) func(http.Handler) http.Handler {
	normalized := normalizeList(actions)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, action := range normalized {
				if !m.Decider.Allow(r, resource, action) {
					m.deny(w, r, resource)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, resource string) {
	if m.Logger != nil {
		m.Logger.Info("rbac denied", slog.String("resource", resource), slog.String("path", r.URL.Path))
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func normalizeList(actions []Action) []Action {
	set := make(map[Action]struct{}, len(actions))
	for _, action := range actions {
		if action == "" {
			continue
		}
		set[action] = struct{}{}
	}
	return normalizeActions(set)
}
