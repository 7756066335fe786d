// Package token issues and verifies the signed credentials handed to clients.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer  = "paas"
	keyInfo = "paas credential signing v1"
)

// Kind distinguishes access credentials from refresh credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification failures. Verify returns exactly one of these.
var (
	ErrExpired          = errors.New("token: expired")
	ErrMalformed        = errors.New("token: malformed")
	ErrWrongKind        = errors.New("token: wrong kind")
	ErrSignatureInvalid = errors.New("token: signature invalid")
)

// Claims is the stable payload schema of a credential.
type Claims struct {
	UserID      string              `json:"user_id,omitempty"`
	Email       string              `json:"email,omitempty"`
	DisplayName string              `json:"display_name,omitempty"`
	Domain      string              `json:"domain,omitempty"`
	Roles       []string            `json:"roles,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
	TokenType   Kind                `json:"token_type"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// Codec signs and verifies HS256 credentials with a key derived from the
// process signing secret.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec derives the signing key from secret.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	c := &Codec{key: key, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims as a credential of the given kind valid for ttl.
// Refresh credentials carry only the user and session identifiers.
func (c *Codec) Issue(claims Claims, kind Kind, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token: ttl must be greater than zero")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", fmt.Errorf("token: unsupported kind %q", kind)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return "", errors.New("token: user id is required")
	}

	payload := claims
	if kind == KindRefresh {
		payload = Claims{UserID: claims.UserID, SessionID: claims.SessionID}
	}
	now := c.now().UTC()
	payload.TokenType = kind
	payload.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(ttl))),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// ceilSecond rounds t up to a whole second. NumericDate truncates, which
// would otherwise let a sub-second ttl produce an already expired token.
func ceilSecond(t time.Time) time.Time {
	if truncated := t.Truncate(time.Second); !truncated.Equal(t) {
		return truncated.Add(time.Second)
	}
	return t
}

// Verify checks signature, expiry and kind before returning the claims.
func (c *Codec) Verify(raw string, expected Kind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if claims.TokenType != expected {
		return nil, ErrWrongKind
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// ExpiresAtTime returns the expiry of verified claims or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}
