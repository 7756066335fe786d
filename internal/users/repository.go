package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campus-rp/paas/internal/shared"
)

// Repository persists directory records. Implementations return
// shared.ErrNotFound for unknown ids and shared.ErrUserExists when an email
// is already taken.
type Repository interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Search(ctx context.Context, filter SearchFilter) ([]User, error)
	UpdateRoles(ctx context.Context, id string, roles []string, permissions map[string][]string, at time.Time) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]User), byEmail: make(map[string]string)}
}

// Create stores user.
func (r *MemoryRepository) Create(_ context.Context, user User) error {
	email := normalizeEmail(user.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return shared.ErrUserExists
	}
	if _, ok := r.byID[user.ID]; ok {
		return shared.ErrUserExists
	}
	r.byID[user.ID] = clone(user)
	r.byEmail[email] = user.ID
	return nil
}

// Get returns the record with id.
func (r *MemoryRepository) Get(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return clone(user), nil
}

// GetByEmail returns the record registered under email.
func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

// Search returns matching records, oldest first.
func (r *MemoryRepository) Search(_ context.Context, filter SearchFilter) ([]User, error) {
	filter = filter.normalized()
	r.mu.RLock()
	matched := make([]User, 0, len(r.byID))
	for _, user := range r.byID {
		if user.matches(filter) {
			matched = append(matched, clone(user))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Email < matched[j].Email
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateRoles replaces the roles and permission snapshot of id.
func (r *MemoryRepository) UpdateRoles(_ context.Context, id string, roles []string, permissions map[string][]string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.Roles = append([]string(nil), roles...)
	user.Permissions = clonePermissions(permissions)
	user.UpdatedAt = at
	r.byID[id] = user
	return nil
}

// TouchLogin records a successful login for id.
func (r *MemoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.LastLogin = &at
	r.byID[id] = user
	return nil
}

func clone(u User) User {
	u.Roles = append([]string(nil), u.Roles...)
	u.Permissions = clonePermissions(u.Permissions)
	if u.Metadata != nil {
		md := make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			md[k] = v
		}
		u.Metadata = md
	}
	if u.LastLogin != nil {
		at := *u.LastLogin
		u.LastLogin = &at
	}
	return u
}

func clonePermissions(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
