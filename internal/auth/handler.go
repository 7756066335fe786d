package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campus-rp/paas/internal/platform/httpx"
)

// Cookie names carrying credentials.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// HandlerConfig controls cookie attributes and the default redirect URI.
type HandlerConfig struct {
	RedirectURI  string
	SecureCookie bool
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	engine  *Engine
	enabled func() bool
	cfg     HandlerConfig
}

// NewHandler constructs a Handler instance. enabled reports whether
// authentication is switched on; when it is not, login endpoints answer 503.
func NewHandler(logger *slog.Logger, engine *Engine, enabled func() bool, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if enabled == nil {
		enabled = func() bool { return engine != nil }
	}
	return &Handler{logger: logger, engine: engine, enabled: enabled, cfg: cfg}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.handleLogin)
	r.Get("/callback", h.handleCallback)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/sessions", h.handleSessions)
}

func (h *Handler) available(w http.ResponseWriter) bool {
	if h.engine == nil || !h.enabled() {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "authentication is disabled")
		return false
	}
	return true
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	req, err := h.engine.Initiate(r.Context(), h.cfg.RedirectURI, "")
	if err != nil {
		h.logger.Error("initiate login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	http.Redirect(w, r, req.URL, http.StatusFound)
}

type callbackResponse struct {
	User   userView   `json:"user"`
	Tokens *TokenPair `json:"tokens"`
}

type userView struct {
	UserID      string              `json:"user_id"`
	Email       string              `json:"email"`
	DisplayName string              `json:"display_name"`
	Domain      string              `json:"domain"`
	Roles       []string            `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
	SessionID   string              `json:"session_id,omitempty"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

func viewOf(id *Identity) userView {
	return userView{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Domain:      id.Domain,
		Roles:       id.Roles,
		Permissions: id.Permissions,
		SessionID:   id.SessionID,
		ExpiresAt:   id.ExpiresAt,
		Metadata:    PublicMetadata(id.Metadata),
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Info("oauth callback rejected by provider", slog.String("error", providerErr))
		httpx.Problem(w, http.StatusBadRequest, "Authentication Failed", "provider returned "+providerErr)
		return
	}
	if !h.available(w) {
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "code and state are required")
		return
	}

	id, err := h.engine.Complete(r.Context(), code, state, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tokens, err := h.engine.IssueTokens(id)
	if err != nil {
		h.logger.Error("issue tokens", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.setTokenCookies(w, tokens)
	httpx.JSON(w, http.StatusOK, callbackResponse{User: viewOf(id), Tokens: tokens})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.engine != nil && h.enabled() {
		if id := h.currentIdentity(r); id != nil {
			if err := h.engine.Logout(r.Context(), id.UserID, id.SessionID); err != nil {
				h.logger.Warn("logout", slog.Any("error", err))
			}
		}
	}
	h.clearTokenCookies(w)
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := h.currentIdentity(r)
	if id == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(id))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "refresh token missing")
		return
	}
	tokens := h.engine.Refresh(r.Context(), cookie.Value)
	if tokens == nil {
		h.clearTokenCookies(w)
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid refresh token")
		return
	}
	h.setTokenCookies(w, tokens)
	httpx.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := h.currentIdentity(r)
	if id == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	sessions, err := h.engine.ListSessions(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("list sessions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// currentIdentity prefers an identity placed in context by middleware and
// otherwise verifies the request's credential directly.
func (h *Handler) currentIdentity(r *http.Request) *Identity {
	if id := IdentityFromContext(r.Context()); id != nil {
		return id
	}
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil
	}
	return h.engine.AuthenticateToken(r.Context(), raw)
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, tokens *TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(h.engine.cfg.AccessTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    tokens.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.engine.cfg.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cfg.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// TokenFromRequest extracts an access credential from the Authorization
// bearer header, falling back to the access_token cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if cookie, err := r.Cookie(AccessCookie); err == nil {
		return cookie.Value
	}
	return ""
}
