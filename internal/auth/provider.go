package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/text/cases"

	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/shared"
)

// Google endpoints used when ProviderConfig leaves them empty.
const (
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// DefaultScopes requested from the identity provider.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/drive.readonly",
}

// DefaultFacultyPatterns mark staff addresses within allow-listed domains.
var DefaultFacultyPatterns = []string{"faculty", "prof", "teacher", "staff"}

// ProviderConfig configures the OAuth2 authorization-code adapter.
type ProviderConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	AuthURL         string
	TokenURL        string
	UserInfoURL     string
	Scopes          []string
	AllowedDomains  []string
	FacultyPatterns []string
	StateTTL        time.Duration
	Timeout         time.Duration
	HTTPClient      *http.Client
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.AuthURL == "" {
		c.AuthURL = GoogleAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = GoogleTokenURL
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = GoogleUserInfoURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if len(c.FacultyPatterns) == 0 {
		c.FacultyPatterns = append([]string(nil), DefaultFacultyPatterns...)
	}
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// Directory reconciles a freshly authenticated identity with persisted user
// records. It may replace UserID and Roles.
type Directory interface {
	Provision(ctx context.Context, id *Identity) error
}

// transaction is the client configuration persisted under an OAuth state.
// The client secret is never stored.
type transaction struct {
	ClientID    string    `json:"client_id"`
	AuthURL     string    `json:"auth_url"`
	TokenURL    string    `json:"token_url"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
}

type profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Provider drives the OAuth2 authorization-code grant against the identity
// provider and turns a successful callback into an Identity with a session.
type Provider struct {
	cfg       ProviderConfig
	store     sessionstore.Store
	sessions  *SessionManager
	resolver  *rbac.Resolver
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

// NewProvider constructs a Provider. directory may be nil.
func NewProvider(cfg ProviderConfig, store sessionstore.Store, sessions *SessionManager, resolver *rbac.Resolver, directory Directory, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:       cfg.withDefaults(),
		store:     store,
		sessions:  sessions,
		resolver:  resolver,
		directory: directory,
		logger:    logger,
		now:       time.Now,
	}
}

// Initiate persists a new transaction and returns the provider URL the
// browser should be sent to. A random state is generated when none is given.
func (p *Provider) Initiate(ctx context.Context, redirectURI, state string) (*AuthorizationRequest, error) {
	if redirectURI == "" {
		redirectURI = p.cfg.RedirectURI
	}
	if state == "" {
		generated, err := randomState()
		if err != nil {
			return nil, shared.NewAuthError(shared.ErrProviderUnavailable, "generate state", err)
		}
		state = generated
	}
	tx := transaction{
		ClientID:    p.cfg.ClientID,
		AuthURL:     p.cfg.AuthURL,
		TokenURL:    p.cfg.TokenURL,
		RedirectURI: redirectURI,
		Scopes:      p.cfg.Scopes,
		CreatedAt:   p.now().UTC(),
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrProviderUnavailable, "encode state", err)
	}
	if err := p.store.Put(ctx, statePrefix+state, data, p.cfg.StateTTL); err != nil {
		return nil, shared.NewAuthError(shared.ErrProviderUnavailable, "persist state", err)
	}

	url := p.oauthConfig(tx).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return &AuthorizationRequest{URL: url, State: state}, nil
}

// Complete finishes the transaction identified by state. The steps run in a
// fixed order: state lookup, code exchange, profile fetch, domain check,
// role derivation, session creation. The state is consumed before any
// network call, so concurrent callbacks sharing it cannot both proceed.
func (p *Provider) Complete(ctx context.Context, code, state, redirectURI string) (*Identity, error) {
	if strings.TrimSpace(state) == "" {
		return nil, shared.NewAuthError(shared.ErrInvalidState, "", nil)
	}
	key := statePrefix + state
	raw, err := p.store.Take(ctx, key)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, shared.NewAuthError(shared.ErrInvalidState, "", nil)
		}
		return nil, shared.NewAuthError(shared.ErrInvalidState, "state lookup failed", err)
	}

	var tx transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, shared.NewAuthError(shared.ErrInvalidState, "corrupt state", err)
	}
	if redirectURI != "" {
		tx.RedirectURI = redirectURI
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	callCtx = context.WithValue(callCtx, oauth2.HTTPClient, p.cfg.HTTPClient)

	conf := p.oauthConfig(tx)
	tok, err := conf.Exchange(callCtx, code)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrProviderUnavailable, "code exchange", err)
	}

	prof, err := p.fetchProfile(callCtx, conf, tok)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrProviderUnavailable, "profile fetch", err)
	}

	if !ValidateDomain(prof.Email, p.cfg.AllowedDomains) {
		return nil, shared.NewAuthError(shared.ErrDomainNotAllowed, DomainOf(prof.Email), nil)
	}

	displayName := prof.Name
	if displayName == "" {
		displayName = prof.Email
	}
	id := &Identity{
		UserID:      prof.ID,
		Email:       prof.Email,
		DisplayName: displayName,
		Domain:      DomainOf(prof.Email),
		Roles:       p.deriveRoles(prof.Email),
		Metadata: map[string]any{
			"provider_credentials": map[string]any{
				"token":         tok.AccessToken,
				"refresh_token": tok.RefreshToken,
				"expires_at":    tok.Expiry.UTC().Format(time.RFC3339),
			},
			"picture":        prof.Picture,
			"verified_email": prof.VerifiedEmail,
		},
	}

	if p.directory != nil {
		if err := p.directory.Provision(ctx, id); err != nil {
			return nil, shared.NewAuthError(shared.ErrProvisioningFailed, "", err)
		}
	}

	roles, err := rbac.ParseRoles(id.Roles)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrProvisioningFailed, "invalid roles", err)
	}
	id.Roles = rbac.RoleNames(roles)
	id.Permissions = p.resolver.Snapshot(roles)
	id.ExpiresAt = p.now().UTC().Add(p.sessions.TTL())

	if err := p.sessions.Create(ctx, id); err != nil {
		return nil, shared.NewAuthError(nil, "create session", err)
	}
	p.logger.Info("oauth login completed", slog.String("user_id", id.UserID), slog.String("domain", id.Domain), slog.Any("roles", id.Roles))
	return id, nil
}

// ValidateDomain reports whether email's domain is allowed. Matching is
// case-insensitive and accepts subdomains of an allowed domain. An empty
// allow-list allows everything.
func ValidateDomain(email string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	fold := cases.Fold()
	domain := fold.String(DomainOf(email))
	if domain == "" {
		return false
	}
	for _, candidate := range allowed {
		candidate = fold.String(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if domain == candidate || strings.HasSuffix(domain, "."+candidate) {
			return true
		}
	}
	return false
}

func (p *Provider) deriveRoles(email string) []string {
	if len(p.cfg.AllowedDomains) == 0 || !ValidateDomain(email, p.cfg.AllowedDomains) {
		return []string{string(rbac.RoleGuest)}
	}
	local := strings.ToLower(localPart(email))
	for _, pattern := range p.cfg.FacultyPatterns {
		if pattern != "" && strings.Contains(local, strings.ToLower(pattern)) {
			return []string{string(rbac.RoleFaculty)}
		}
	}
	return []string{string(rbac.RoleStudent)}
}

func (p *Provider) fetchProfile(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token) (*profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	var prof profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&prof); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if prof.ID == "" || prof.Email == "" {
		return nil, errors.New("userinfo missing id or email")
	}
	return &prof, nil
}

func (p *Provider) oauthConfig(tx transaction) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     tx.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  tx.RedirectURI,
		Scopes:       tx.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   tx.AuthURL,
			TokenURL:  tx.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
