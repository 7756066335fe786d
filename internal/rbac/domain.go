package rbac

import (
	"fmt"
	"strings"

	"github.com/campus-rp/paas/internal/shared"
)

// Role is a named bundle of baseline permissions.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleFaculty       Role = "faculty"
	RoleStudent       Role = "student"
	RoleGuest         Role = "guest"
	RoleResearcher    Role = "researcher"
)

// Action is an operation performed on a logical resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionDelete     Action = "delete"
	ActionAdminister Action = "administer"
	ActionShare      Action = "share"
	ActionExport     Action = "export"
)

// Logical resources guarded by the resolver.
const (
	ResourceDocuments = "documents"
	ResourceSearch    = "search"
	ResourceUsers     = "users"
	ResourceSystem    = "system"
)

// Roles lists the catalogue in display order.
var Roles = []Role{RoleAdministrator, RoleFaculty, RoleStudent, RoleGuest, RoleResearcher}

// Actions lists the catalogue in display order.
var Actions = []Action{ActionRead, ActionWrite, ActionDelete, ActionAdminister, ActionShare, ActionExport}

// Baseline is the static permission table per role.
var Baseline = map[Role]map[string][]Action{
	RoleAdministrator: {
		ResourceDocuments: {ActionRead, ActionWrite, ActionDelete, ActionAdminister},
		ResourceSearch:    {ActionRead, ActionAdminister},
		ResourceUsers:     {ActionRead, ActionWrite, ActionDelete, ActionAdminister},
		ResourceSystem:    {ActionRead, ActionWrite, ActionAdminister},
	},
	RoleFaculty: {
		ResourceDocuments: {ActionRead, ActionWrite, ActionDelete, ActionShare},
		ResourceSearch:    {ActionRead},
		ResourceUsers:     {ActionRead},
		ResourceSystem:    {ActionRead},
	},
	RoleStudent: {
		ResourceDocuments: {ActionRead, ActionWrite},
		ResourceSearch:    {ActionRead},
	},
	RoleGuest: {
		ResourceDocuments: {ActionRead},
		ResourceSearch:    {ActionRead},
	},
	RoleResearcher: {
		ResourceDocuments: {ActionRead, ActionWrite, ActionExport},
		ResourceSearch:    {ActionRead},
	},
}

// legacy names still found in stored sessions and older directory rows.
var roleAliases = map[string]Role{"admin": RoleAdministrator}

var actionAliases = map[string]Action{"admin": ActionAdminister}

// ParseRole validates a role name. Matching is case-insensitive.
func ParseRole(raw string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := roleAliases[name]; ok {
		return alias, nil
	}
	role := Role(name)
	if _, ok := Baseline[role]; !ok {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownRole, raw)
	}
	return role, nil
}

// ParseRoles validates every name and removes duplicates, keeping order.
func ParseRoles(raw []string) ([]Role, error) {
	seen := make(map[Role]struct{}, len(raw))
	roles := make([]Role, 0, len(raw))
	for _, name := range raw {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles, nil
}

// ParseAction validates an action name.
func ParseAction(raw string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := actionAliases[name]; ok {
		return alias, nil
	}
	for _, action := range Actions {
		if string(action) == name {
			return action, nil
		}
	}
	return "", fmt.Errorf("rbac: unknown action %q", raw)
}

// RoleNames converts roles to their string form.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

// Principal describes the authenticated actor.
type Principal interface {
	GetRoles() []string
	GetPermissions() map[string][]string
}
