// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/campus-rp/paas/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", detail(err))
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrUserExists):
		Problem(w, http.StatusConflict, "Duplicate", detail(err))
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrUnknownRole):
		Problem(w, http.StatusBadRequest, "Validation Failed", detail(err))
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusBadRequest, "Invalid State", detail(err))
	case errors.Is(err, ErrForbidden), errors.Is(err, shared.ErrInsufficientPermissions), errors.Is(err, shared.ErrDomainNotAllowed):
		Problem(w, http.StatusForbidden, "Forbidden", detail(err))
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrSessionNotFound):
		Problem(w, http.StatusUnauthorized, "Unauthorized", detail(err))
	case errors.Is(err, shared.ErrProviderUnavailable):
		Problem(w, http.StatusBadGateway, "Identity Provider Error", detail(err))
	case shared.IsAuthError(err):
		Problem(w, http.StatusBadRequest, "Authentication Failed", detail(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// detail hides wrapped causes of AuthError values from clients.
func detail(err error) string {
	if shared.IsAuthError(err) {
		return shared.UserSafeMessage(err)
	}
	return err.Error()
}
