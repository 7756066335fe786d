package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/shared"
)

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RolesChangedFunc is invoked after a user's roles were replaced. Sessions
// created before the change still carry the old permission snapshot.
type RolesChangedFunc func(ctx context.Context, userID string)

var _ auth.Directory = (*Service)(nil)

// Service handles user directory logic.
type Service struct {
	repo           Repository
	resolver       *rbac.Resolver
	auditor        Auditor
	logger         *slog.Logger
	now            func() time.Time
	onRolesChanged RolesChangedFunc
}

// NewService builds Service instance. auditor may be nil, in which case audit
// records go to logger.
func NewService(repo Repository, resolver *rbac.Resolver, auditor Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = shared.SlogAuditor{Logger: logger}
	}
	return &Service{repo: repo, resolver: resolver, auditor: auditor, logger: logger, now: time.Now}
}

// OnRolesChanged registers fn as the roles-changed hook.
func (s *Service) OnRolesChanged(fn RolesChangedFunc) {
	s.onRolesChanged = fn
}

// CreateUser registers a new user. Roles default to student.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	email := normalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, shared.NewAuthError(nil, "a valid email is required", nil)
	}
	names := input.Roles
	if len(names) == 0 {
		names = []string{string(rbac.RoleStudent)}
	}
	roles, err := rbac.ParseRoles(names)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrUnknownRole, "", err)
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = email
	}

	now := s.now().UTC()
	user := User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Roles:       rbac.RoleNames(roles),
		Permissions: s.resolver.Snapshot(roles),
		Metadata:    input.Metadata,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, shared.ErrUserExists) {
			return nil, shared.NewAuthError(shared.ErrUserExists, "", nil)
		}
		return nil, fmt.Errorf("users: create: %w", err)
	}
	s.logger.Info("user created", slog.String("user_id", user.ID), slog.Any("roles", user.Roles))
	return &user, nil
}

// GetUser returns the user with id or shared.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail returns the user registered under email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers lists users matching filter, at most DefaultSearchLimit when
// no limit is set.
func (s *Service) SearchUsers(ctx context.Context, filter SearchFilter) ([]User, error) {
	return s.repo.Search(ctx, filter.normalized())
}

// UpdateUserRoles replaces the roles of userID on behalf of updatedBy. Only
// administrators may change roles and an administrator cannot remove their
// own administrator role. Nothing is written when a check fails.
func (s *Service) UpdateUserRoles(ctx context.Context, userID string, roleNames []string, updatedBy string) (*User, error) {
	updater, err := s.repo.Get(ctx, updatedBy)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewAuthError(shared.ErrInsufficientPermissions, "unknown updater", nil)
		}
		return nil, err
	}
	if !hasAdministrator(updater.Roles) {
		return nil, shared.NewAuthError(shared.ErrInsufficientPermissions, "", nil)
	}
	if len(roleNames) == 0 {
		return nil, shared.NewAuthError(shared.ErrUnknownRole, "at least one role is required", nil)
	}
	roles, err := rbac.ParseRoles(roleNames)
	if err != nil {
		return nil, shared.NewAuthError(shared.ErrUnknownRole, "", err)
	}
	names := rbac.RoleNames(roles)
	if userID == updatedBy && !hasAdministrator(names) {
		return nil, shared.NewAuthError(shared.ErrInsufficientPermissions, "cannot remove own administrator role", nil)
	}

	target, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	permissions := s.resolver.Snapshot(roles)
	if err := s.repo.UpdateRoles(ctx, userID, names, permissions, now); err != nil {
		return nil, err
	}

	entry := shared.AuditLog{
		ActorID:  updatedBy,
		Action:   "user.roles_updated",
		Entity:   "user",
		EntityID: userID,
		Meta:     map[string]any{"old_roles": target.Roles, "new_roles": names},
		At:       now,
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Warn("audit roles update", slog.String("user_id", userID), slog.Any("error", err))
	}
	if s.onRolesChanged != nil {
		s.onRolesChanged(ctx, userID)
	}

	target.Roles = names
	target.Permissions = permissions
	target.UpdatedAt = now
	return &target, nil
}

// Provision reconciles a fresh login with the directory. Existing records
// are authoritative for id and roles; unknown emails are registered with the
// roles derived at login. Inactive users are rejected.
func (s *Service) Provision(ctx context.Context, id *auth.Identity) error {
	if id == nil {
		return errors.New("users: nil identity")
	}
	user, err := s.repo.GetByEmail(ctx, id.Email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		created, err := s.CreateUser(ctx, CreateUserInput{
			Email:       id.Email,
			DisplayName: id.DisplayName,
			Roles:       id.Roles,
			Metadata:    map[string]any{"provider_subject": id.UserID},
		})
		if err != nil {
			return err
		}
		user = *created
	case err != nil:
		return fmt.Errorf("users: provision lookup: %w", err)
	case !user.IsActive:
		return shared.NewAuthError(shared.ErrInsufficientPermissions, "account disabled", nil)
	}

	if err := s.repo.TouchLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("record login", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	id.UserID = user.ID
	id.Roles = append([]string(nil), user.Roles...)
	return nil
}

func hasAdministrator(names []string) bool {
	for _, name := range names {
		if role, err := rbac.ParseRole(name); err == nil && role == rbac.RoleAdministrator {
			return true
		}
	}
	return false
}
