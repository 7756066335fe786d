package auth

import (
	"strings"
	"time"
)

// Default lifetimes.
const (
	DefaultSessionTTL = 8 * time.Hour
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultStateTTL   = 10 * time.Minute
)

const (
	sessionPrefix = "session:"
	statePrefix   = "oauth_state:"
)

// Identity is a verified user's snapshot of claims at a point in time. It is
// not mutated once embedded in a credential.
type Identity struct {
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

// GetRoles implements rbac.Principal.
func (i *Identity) GetRoles() []string {
	if i == nil {
		return nil
	}
	return i.Roles
}

// GetPermissions implements rbac.Principal.
func (i *Identity) GetPermissions() map[string][]string {
	if i == nil {
		return nil
	}
	return i.Permissions
}

// HasRole reports whether the identity holds role, case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// TokenPair is returned when credentials are issued or rotated.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SessionInfo describes one active session of a user.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthorizationRequest is the result of starting an OAuth transaction.
type AuthorizationRequest struct {
	URL   string `json:"authorization_url"`
	State string `json:"state"`
}

// DomainOf returns the part of email after the last "@", lower-cased.
func DomainOf(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[idx+1:]))
}

func localPart(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return email
	}
	return email[:idx]
}
