package httpx_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campus-rp/paas/internal/platform/httpx"
	"github.com/campus-rp/paas/internal/shared"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"missing session":  {shared.NewAuthError(shared.ErrSessionNotFound, "", nil), http.StatusUnauthorized},
		"invalid state":    {shared.NewAuthError(shared.ErrInvalidState, "", nil), http.StatusBadRequest},
		"domain rejected":  {shared.NewAuthError(shared.ErrDomainNotAllowed, "", nil), http.StatusForbidden},
		"provider failure": {shared.NewAuthError(shared.ErrProviderUnavailable, "", nil), http.StatusBadGateway},
		"duplicate user":   {fmt.Errorf("create: %w", shared.ErrUserExists), http.StatusConflict},
		"missing resource": {shared.ErrNotFound, http.StatusNotFound},
		"unexpected":       {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			httpx.RespondError(rr, tc.err)
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}
