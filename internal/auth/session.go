package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/shared"
)

// SessionManager keeps server-side session records in a Store.
type SessionManager struct {
	store  sessionstore.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type sessionPayload struct {
	UserID      string              `json:"user_id"`
	Email       string              `json:"email"`
	DisplayName string              `json:"display_name"`
	Domain      string              `json:"domain"`
	Roles       []string            `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// NewSessionManager constructs a SessionManager. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionManager(store sessionstore.Store, ttl time.Duration, logger *slog.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// Create persists a session record for id, assigning a session id when the
// identity has none.
func (sm *SessionManager) Create(ctx context.Context, id *Identity) error {
	if id == nil {
		return errors.New("auth: nil identity")
	}
	if id.SessionID == "" {
		id.SessionID = sm.generateSessionID()
	}
	now := sm.now().UTC()
	if id.ExpiresAt.IsZero() {
		id.ExpiresAt = now.Add(sm.ttl)
	}
	payload := sessionPayload{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Domain:      id.Domain,
		Roles:       id.Roles,
		Permissions: id.Permissions,
		CreatedAt:   now,
		ExpiresAt:   id.ExpiresAt,
		Metadata:    id.Metadata,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("auth: encode session: %w", err)
	}
	if err := sm.store.Put(ctx, sm.key(id.SessionID), data, sm.ttl); err != nil {
		return fmt.Errorf("auth: store session: %w", err)
	}
	return nil
}

// Load rebuilds the identity snapshot stored for sessionID. A missing
// record yields an AuthError matching both shared.ErrSessionNotFound and
// sessionstore.ErrNotFound.
func (sm *SessionManager) Load(ctx context.Context, sessionID string) (*Identity, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, shared.NewAuthError(shared.ErrSessionNotFound, "", sessionstore.ErrNotFound)
	}
	data, err := sm.store.Get(ctx, sm.key(sessionID))
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, shared.NewAuthError(shared.ErrSessionNotFound, "", err)
		}
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	var payload sessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("auth: decode session: %w", err)
	}
	return &Identity{
		UserID:      payload.UserID,
		Email:       payload.Email,
		DisplayName: payload.DisplayName,
		Domain:      payload.Domain,
		Roles:       payload.Roles,
		Permissions: payload.Permissions,
		SessionID:   sessionID,
		ExpiresAt:   payload.ExpiresAt,
		Metadata:    payload.Metadata,
	}, nil
}

// Exists reports whether the session record is present.
func (sm *SessionManager) Exists(ctx context.Context, sessionID string) bool {
	if strings.TrimSpace(sessionID) == "" {
		return false
	}
	_, err := sm.store.Get(ctx, sm.key(sessionID))
	if err != nil && !errors.Is(err, sessionstore.ErrNotFound) {
		sm.logger.Warn("session lookup failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	return err == nil
}

// Destroy removes one session record.
func (sm *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	return sm.store.Delete(ctx, sm.key(sessionID))
}

// List returns the sessions belonging to userID, oldest first. Undecodable
// records are skipped.
func (sm *SessionManager) List(ctx context.Context, userID string) ([]SessionInfo, error) {
	entries, err := sm.store.Scan(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("auth: scan sessions: %w", err)
	}
	var out []SessionInfo
	for _, entry := range entries {
		var payload sessionPayload
		if err := json.Unmarshal(entry.Value, &payload); err != nil {
			sm.logger.Warn("skip undecodable session", slog.String("key", entry.Key))
			continue
		}
		if payload.UserID != userID {
			continue
		}
		out = append(out, SessionInfo{
			SessionID: strings.TrimPrefix(entry.Key, sessionPrefix),
			UserID:    payload.UserID,
			CreatedAt: payload.CreatedAt,
			ExpiresAt: payload.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DestroyAll removes every session of userID found by a scan of the store.
// Records written concurrently with the scan may survive.
func (sm *SessionManager) DestroyAll(ctx context.Context, userID string) (int, error) {
	sessions, err := sm.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, s := range sessions {
		if err := sm.Destroy(ctx, s.SessionID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (sm *SessionManager) key(id string) string {
	return sessionPrefix + id
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
