// Package access is the composition root for authentication and
// authorization. A Registry gates every check behind one enabled flag: when
// disabled, callers get no identity and every action is authorized; when
// enabled, a missing identity is denied.
package access

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/users"
)

// Registry holds one engine, one resolver and one user directory.
type Registry struct {
	enabled   atomic.Bool
	engine    *auth.Engine
	resolver  *rbac.Resolver
	directory *users.Service
	store     sessionstore.Store
	closers   []func()
	logger    *slog.Logger
}

var _ rbac.Decider = (*Registry)(nil)

// NewRegistry wires a Registry from already constructed parts. engine and
// store may be nil when authentication is disabled.
func NewRegistry(enabled bool, engine *auth.Engine, resolver *rbac.Resolver, directory *users.Service, store sessionstore.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = rbac.NewResolver(logger)
	}
	r := &Registry{engine: engine, resolver: resolver, directory: directory, store: store, logger: logger}
	r.enabled.Store(enabled)
	return r
}

// Enabled reports whether authentication is switched on.
func (r *Registry) Enabled() bool {
	return r.enabled.Load()
}

// SetEnabled flips the gate at runtime. Enabling a registry built without an
// engine leaves every request unauthenticated and therefore denied.
func (r *Registry) SetEnabled(enabled bool) {
	if r.enabled.Swap(enabled) != enabled {
		r.logger.Info("authentication toggled", slog.Bool("enabled", enabled))
	}
}

// Engine returns the authentication engine, nil when never configured.
func (r *Registry) Engine() *auth.Engine { return r.engine }

// Resolver returns the permission resolver.
func (r *Registry) Resolver() *rbac.Resolver { return r.resolver }

// Directory returns the user directory.
func (r *Registry) Directory() *users.Service { return r.directory }

// Store returns the session store, nil when never configured.
func (r *Registry) Store() sessionstore.Store { return r.store }

// AuthenticateRequest resolves a raw access credential. It returns nil when
// authentication is disabled or the credential does not verify.
func (r *Registry) AuthenticateRequest(ctx context.Context, raw string) *auth.Identity {
	if !r.Enabled() || r.engine == nil || raw == "" {
		return nil
	}
	return r.engine.AuthenticateToken(ctx, raw)
}

// AuthorizeAction reports whether id may perform action on resource. It is
// always true when disabled and always false for a nil identity when enabled.
func (r *Registry) AuthorizeAction(id *auth.Identity, resource string, action rbac.Action) bool {
	if !r.Enabled() {
		return true
	}
	if id == nil {
		return false
	}
	return r.resolver.Check(id, resource, action)
}

// Allow implements rbac.Decider using the identity attached to the request,
// falling back to the request's credential.
func (r *Registry) Allow(req *http.Request, resource string, action rbac.Action) bool {
	if !r.Enabled() {
		return true
	}
	return r.AuthorizeAction(r.identity(req), resource, action)
}

// Principal returns the caller as an rbac.Principal, or an untyped nil.
func (r *Registry) Principal(req *http.Request) rbac.Principal {
	id := r.identity(req)
	if id == nil {
		return nil
	}
	return id
}

// RBAC returns middleware deciding through the registry.
func (r *Registry) RBAC() rbac.Middleware {
	return rbac.Middleware{Decider: r, Logger: r.logger}
}

// RunMaintenance sweeps an in-process session store every interval until ctx
// is done. With a networked store it only waits for ctx.
func (r *Registry) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if mem, ok := r.store.(*sessionstore.MemoryStore); ok {
		return mem.Run(ctx, interval)
	}
	<-ctx.Done()
	return nil
}

// Close releases the session store and any database pool.
func (r *Registry) Close() error {
	var err error
	if r.store != nil {
		err = r.store.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	return err
}

func (r *Registry) identity(req *http.Request) *auth.Identity {
	if id := auth.IdentityFromContext(req.Context()); id != nil {
		return id
	}
	return r.AuthenticateRequest(req.Context(), auth.TokenFromRequest(req))
}
