package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/shared"
	"github.com/campus-rp/paas/internal/token"
)

// providerCredentialsKey holds provider tokens in the session record. It is
// stripped from client-visible credentials.
const providerCredentialsKey = "provider_credentials"

// Observer receives authentication outcomes, typically for metrics.
type Observer interface {
	ObserveLogin(outcome string)
	ObserveTokenCheck(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveLogin(string)      {}
func (nopObserver) ObserveTokenCheck(string) {}

// EngineConfig holds credential lifetimes.
type EngineConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Engine orchestrates login, credential issuance, verification, refresh and
// logout. It is safe for concurrent use.
type Engine struct {
	codec    *token.Codec
	sessions *SessionManager
	provider *Provider
	observer Observer
	logger   *slog.Logger
	cfg      EngineConfig
}

// NewEngine wires an Engine. observer may be nil.
func NewEngine(codec *token.Codec, sessions *SessionManager, provider *Provider, observer Observer, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{codec: codec, sessions: sessions, provider: provider, observer: observer, logger: logger, cfg: cfg}
}

// Initiate starts an OAuth transaction.
func (e *Engine) Initiate(ctx context.Context, redirectURI, state string) (*AuthorizationRequest, error) {
	req, err := e.provider.Initiate(ctx, redirectURI, state)
	if err != nil {
		e.observer.ObserveLogin("initiate_failed")
		return nil, err
	}
	return req, nil
}

// Complete finishes an OAuth transaction and returns the new identity.
func (e *Engine) Complete(ctx context.Context, code, state, redirectURI string) (*Identity, error) {
	id, err := e.provider.Complete(ctx, code, state, redirectURI)
	if err != nil {
		e.observer.ObserveLogin(loginOutcome(err))
		e.logger.Warn("oauth completion failed", slog.Any("error", err))
		return nil, err
	}
	e.observer.ObserveLogin("success")
	return id, nil
}

// IssueTokens returns a fresh access/refresh pair for id.
func (e *Engine) IssueTokens(id *Identity) (*TokenPair, error) {
	if id == nil {
		return nil, errors.New("auth: nil identity")
	}
	claims := token.Claims{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Domain:      id.Domain,
		Roles:       id.Roles,
		Permissions: id.Permissions,
		SessionID:   id.SessionID,
		Metadata:    PublicMetadata(id.Metadata),
	}
	access, err := e.codec.Issue(claims, token.KindAccess, e.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refresh, err := e.codec.Issue(claims, token.KindRefresh, e.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(e.cfg.AccessTTL / time.Second),
	}, nil
}

// AuthenticateToken resolves an access credential to an identity. Any
// malformed, expired, forged, wrong-kind or revoked credential yields nil.
func (e *Engine) AuthenticateToken(ctx context.Context, raw string) *Identity {
	claims, err := e.codec.Verify(raw, token.KindAccess)
	if err != nil {
		e.observer.ObserveTokenCheck(tokenResult(err))
		return nil
	}
	if claims.SessionID != "" && !e.sessions.Exists(ctx, claims.SessionID) {
		e.observer.ObserveTokenCheck("revoked")
		return nil
	}
	e.observer.ObserveTokenCheck("valid")
	return &Identity{
		UserID:      claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Domain:      claims.Domain,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		ExpiresAt:   claims.ExpiresAtTime(),
		Metadata:    claims.Metadata,
	}
}

// Refresh rotates a refresh credential into a new pair. The identity is
// rebuilt from the session record, so permission changes made after login
// are not picked up until the session ends. Returns nil when the credential
// is invalid or its session is gone.
func (e *Engine) Refresh(ctx context.Context, raw string) *TokenPair {
	claims, err := e.codec.Verify(raw, token.KindRefresh)
	if err != nil {
		e.observer.ObserveTokenCheck(tokenResult(err))
		return nil
	}
	if claims.SessionID == "" {
		e.observer.ObserveTokenCheck("malformed")
		return nil
	}
	id, err := e.sessions.Load(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			e.logger.Warn("refresh session lookup", slog.Any("error", err))
		}
		e.observer.ObserveTokenCheck("revoked")
		return nil
	}
	if id.UserID != claims.UserID {
		e.logger.Warn("refresh token user mismatch", slog.String("session_id", claims.SessionID))
		e.observer.ObserveTokenCheck("revoked")
		return nil
	}
	pair, err := e.IssueTokens(id)
	if err != nil {
		e.logger.Error("refresh issue tokens", slog.Any("error", err))
		return nil
	}
	e.observer.ObserveTokenCheck("refreshed")
	return pair
}

// Logout revokes one session when sessionID is set, otherwise every session
// of userID found by scanning the store. It is idempotent.
func (e *Engine) Logout(ctx context.Context, userID, sessionID string) error {
	if sessionID != "" {
		if err := e.sessions.Destroy(ctx, sessionID); err != nil {
			return fmt.Errorf("auth: logout: %w", err)
		}
		e.logger.Info("session revoked", slog.String("user_id", userID), slog.String("session_id", sessionID))
		return nil
	}
	if userID == "" {
		return nil
	}
	removed, err := e.sessions.DestroyAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("auth: logout all: %w", err)
	}
	e.logger.Info("sessions revoked", slog.String("user_id", userID), slog.Int("count", removed))
	return nil
}

// ListSessions returns the active sessions of userID.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	return e.sessions.List(ctx, userID)
}

// PublicMetadata returns md without provider credentials.
func PublicMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if k == providerCredentialsKey {
			continue
		}
		out[k] = v
	}
	return out
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, shared.ErrDomainNotAllowed):
		return "domain_rejected"
	case errors.Is(err, shared.ErrProviderUnavailable):
		return "provider_error"
	default:
		return "error"
	}
}

func tokenResult(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "malformed"
	}
}
