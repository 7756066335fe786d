package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the OAuth transaction state is unknown or expired.
	ErrInvalidState = errors.New("invalid or expired state")
	// ErrDomainNotAllowed occurs when the email domain is outside the allow-list.
	ErrDomainNotAllowed = errors.New("domain not allowed")
	// ErrInsufficientPermissions occurs when the actor may not perform a change.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrSessionNotFound indicates the server-side session record is gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserExists occurs when a directory record already uses the email.
	ErrUserExists = errors.New("user already exists")
	// ErrProviderUnavailable wraps failures talking to the identity provider.
	ErrProviderUnavailable = errors.New("identity provider request failed")
	// ErrProvisioningFailed occurs when the user directory rejects a login.
	ErrProvisioningFailed = errors.New("user provisioning failed")
	// ErrUnknownRole occurs when a role name is not part of the catalogue.
	ErrUnknownRole = errors.New("unknown role")
)

// AuthError is the single error kind surfaced by authentication and
// user-management operations. Reason is one of the sentinels above.
type AuthError struct {
	Reason error
	Detail string
	Err    error
}

// NewAuthError builds an AuthError for reason, optionally wrapping cause.
func NewAuthError(reason error, detail string, cause error) *AuthError {
	return &AuthError{Reason: reason, Detail: detail, Err: cause}
}

func (e *AuthError) Error() string {
	msg := "auth: "
	if e.Reason != nil {
		msg += e.Reason.Error()
	} else {
		msg += "authentication failed"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes both the reason and the underlying cause to errors.Is.
func (e *AuthError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Reason != nil {
		out = append(out, e.Reason)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// UserSafeMessage returns a message safe to show to API clients.
func UserSafeMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Reason != nil {
			return authErr.Reason.Error()
		}
		return "authentication failed"
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound.Error()
	}
	return "internal error"
}
