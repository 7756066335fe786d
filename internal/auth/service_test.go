package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/shared"
	"github.com/campus-rp/paas/internal/token"
)

type recordingObserver struct {
	mu     sync.Mutex
	logins []string
	checks []string
}

func (o *recordingObserver) ObserveLogin(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins = append(o.logins, outcome)
}

func (o *recordingObserver) ObserveTokenCheck(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks = append(o.checks, result)
}

func login(t *testing.T, f *fixture, code string) *auth.Identity {
	t.Helper()
	ctx := context.Background()
	req, err := f.engine.Initiate(ctx, "", "")
	require.NoError(t, err)
	id, err := f.engine.Complete(ctx, code, req.State, "")
	require.NoError(t, err)
	return id
}

func TestIssueAndAuthenticate(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")

	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, 3600, pair.ExpiresIn)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	got := f.engine.AuthenticateToken(context.Background(), pair.AccessToken)
	require.NotNil(t, got)
	assert.Equal(t, id.UserID, got.UserID)
	assert.Equal(t, id.Email, got.Email)
	assert.Equal(t, id.Roles, got.Roles)
	assert.Equal(t, id.Permissions, got.Permissions)
	assert.Equal(t, id.SessionID, got.SessionID)
	assert.NotContains(t, got.Metadata, "provider_credentials")
	assert.Equal(t, "https://img/1", got.Metadata["picture"])
}

func TestAccessTokenOmitsProviderCredentials(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")

	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	claims, err := f.codec.Verify(pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.NotContains(t, claims.Metadata, "provider_credentials")

	// The session record keeps them for server-side use.
	stored, err := f.sessions.Load(context.Background(), id.SessionID)
	require.NoError(t, err)
	assert.Contains(t, stored.Metadata, "provider_credentials")
}

func TestAuthenticateRejectsInvalidCredentials(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}, observer: obs})
	id := login(t, f, "student-code")
	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Nil(t, f.engine.AuthenticateToken(ctx, ""))
	assert.Nil(t, f.engine.AuthenticateToken(ctx, "not.a.jwt"))
	assert.Nil(t, f.engine.AuthenticateToken(ctx, pair.RefreshToken), "refresh credential is not an access credential")

	other, err := token.NewCodec([]byte("other-secret"))
	require.NoError(t, err)
	forged, err := other.Issue(token.Claims{UserID: id.UserID, SessionID: id.SessionID}, token.KindAccess, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, f.engine.AuthenticateToken(ctx, forged))

	assert.Equal(t, []string{"malformed", "malformed", "wrong_kind", "signature_invalid"}, obs.checks)
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")
	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	ctx := context.Background()

	require.NotNil(t, f.engine.AuthenticateToken(ctx, pair.AccessToken))
	require.NoError(t, f.engine.Logout(ctx, id.UserID, id.SessionID))
	assert.Nil(t, f.engine.AuthenticateToken(ctx, pair.AccessToken))
}

func TestAuthenticateWithoutSessionID(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	raw, err := f.codec.Issue(token.Claims{UserID: "svc-1", Roles: []string{"guest"}}, token.KindAccess, time.Hour)
	require.NoError(t, err)

	got := f.engine.AuthenticateToken(context.Background(), raw)
	require.NotNil(t, got)
	assert.Equal(t, "svc-1", got.UserID)
	assert.Empty(t, got.SessionID)
}

func TestRefreshRotatesCredentials(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}, observer: obs})
	id := login(t, f, "staff-code")
	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	ctx := context.Background()

	next := f.engine.Refresh(ctx, pair.RefreshToken)
	require.NotNil(t, next)

	got := f.engine.AuthenticateToken(ctx, next.AccessToken)
	require.NotNil(t, got)
	assert.Equal(t, id.UserID, got.UserID)
	assert.Equal(t, []string{"faculty"}, got.Roles)
	assert.Equal(t, id.SessionID, got.SessionID)
	assert.Contains(t, obs.checks, "refreshed")
	assert.Equal(t, []string{"success"}, obs.logins)
}

func TestRefreshRejectsAccessCredential(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")
	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)

	assert.Nil(t, f.engine.Refresh(context.Background(), pair.AccessToken))
}

func TestRefreshAfterSessionDeletion(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")
	pair, err := f.engine.IssueTokens(id)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.sessions.Destroy(ctx, id.SessionID))
	assert.Nil(t, f.engine.Refresh(ctx, pair.RefreshToken))
}

func TestRefreshRejectsUserMismatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")

	raw, err := f.codec.Issue(token.Claims{UserID: "someone-else", SessionID: id.SessionID}, token.KindRefresh, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, f.engine.Refresh(context.Background(), raw))
}

func TestRefreshRequiresSessionID(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	raw, err := f.codec.Issue(token.Claims{UserID: "u-1"}, token.KindRefresh, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, f.engine.Refresh(context.Background(), raw))
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	id := login(t, f, "student-code")
	ctx := context.Background()

	require.NoError(t, f.engine.Logout(ctx, id.UserID, id.SessionID))
	require.NoError(t, f.engine.Logout(ctx, id.UserID, id.SessionID))
	assert.False(t, f.sessions.Exists(ctx, id.SessionID))

	sessions, err := f.engine.ListSessions(ctx, id.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLogoutAllSessions(t *testing.T) {
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}})
	first := login(t, f, "student-code")
	second := login(t, f, "student-code")
	other := login(t, f, "staff-code")
	ctx := context.Background()

	sessions, err := f.engine.ListSessions(ctx, first.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].SessionID, sessions[1].SessionID}
	assert.ElementsMatch(t, []string{first.SessionID, second.SessionID}, ids)

	require.NoError(t, f.engine.Logout(ctx, first.UserID, ""))
	require.NoError(t, f.engine.Logout(ctx, first.UserID, ""))

	sessions, err = f.engine.ListSessions(ctx, first.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.True(t, f.sessions.Exists(ctx, other.SessionID), "other users keep their sessions")
}

func TestLogoutWithoutUser(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	assert.NoError(t, f.engine.Logout(context.Background(), "", ""))
}

func TestCompleteReportsOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, fixtureOptions{allowed: []string{"allowed.edu"}, observer: obs})
	ctx := context.Background()

	_, err := f.engine.Complete(ctx, "student-code", "missing", "")
	require.Error(t, err)

	req, err := f.engine.Initiate(ctx, "", "")
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, "blocked-code", req.State, "")
	require.Error(t, err)

	req, err = f.engine.Initiate(ctx, "", "")
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, "broken", req.State, "")
	require.Error(t, err)

	login(t, f, "student-code")

	assert.Equal(t, []string{"invalid_state", "domain_rejected", "provider_error", "success"}, obs.logins)
}

func TestSessionManagerRoundTrip(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := &auth.Identity{
		UserID:      "u-9",
		Email:       "u9@example.edu",
		Roles:       []string{"researcher"},
		Permissions: map[string][]string{"documents": {"export"}},
	}
	require.NoError(t, f.sessions.Create(ctx, id))
	require.NotEmpty(t, id.SessionID)
	assert.False(t, id.ExpiresAt.IsZero())

	loaded, err := f.sessions.Load(ctx, id.SessionID)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, loaded.UserID)
	assert.Equal(t, id.Roles, loaded.Roles)
	assert.Equal(t, id.Permissions, loaded.Permissions)
	assert.True(t, id.ExpiresAt.Equal(loaded.ExpiresAt))

	_, err = f.sessions.Load(ctx, "")
	assert.Error(t, err)
}

func TestSessionManagerLoadMissingSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := &auth.Identity{UserID: "u-10", Email: "u10@example.edu"}
	require.NoError(t, f.sessions.Create(ctx, id))
	require.NoError(t, f.sessions.Destroy(ctx, id.SessionID))

	for _, sessionID := range []string{id.SessionID, "never-issued", ""} {
		_, err := f.sessions.Load(ctx, sessionID)
		require.Error(t, err)
		assert.True(t, shared.IsAuthError(err))
		assert.ErrorIs(t, err, shared.ErrSessionNotFound)
		assert.ErrorIs(t, err, sessionstore.ErrNotFound)
		assert.Equal(t, "session not found", shared.UserSafeMessage(err))
	}
}

func TestPublicMetadata(t *testing.T) {
	assert.Nil(t, auth.PublicMetadata(nil))
	md := map[string]any{"provider_credentials": map[string]any{"token": "x"}, "picture": "p"}
	out := auth.PublicMetadata(md)
	assert.Equal(t, map[string]any{"picture": "p"}, out)
	assert.Contains(t, md, "provider_credentials", "input is not modified")
}
