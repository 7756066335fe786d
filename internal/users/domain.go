package users

import (
	"strings"
	"time"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 50

// User is a directory record. Permissions is the snapshot computed from
// Roles when the record was last written.
type User struct {
	ID          string              `json:"user_id"`
	Email       string              `json:"email"`
	DisplayName string              `json:"display_name"`
	Roles       []string            `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	LastLogin   *time.Time          `json:"last_login,omitempty"`
}

// CreateUserInput carries the fields for a new directory record.
type CreateUserInput struct {
	Email       string
	DisplayName string
	Roles       []string
	Metadata    map[string]any
}

// SearchFilter narrows SearchUsers. Query matches email or display name as a
// case-insensitive substring; Roles keeps users holding any of them.
type SearchFilter struct {
	Query string
	Roles []string
	Limit int
}

func (f SearchFilter) normalized() SearchFilter {
	f.Query = strings.TrimSpace(f.Query)
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	return f
}

func (u User) matches(f SearchFilter) bool {
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(u.Email), q) && !strings.Contains(strings.ToLower(u.DisplayName), q) {
			return false
		}
	}
	if len(f.Roles) == 0 {
		return true
	}
	for _, want := range f.Roles {
		for _, have := range u.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
