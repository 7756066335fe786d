package rbac

import (
	"log/slog"
	"sort"
	"strings"
)

// Resolver answers access decisions from a principal's roles and permission
// snapshot. It is stateless and safe for concurrent use.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Check reports whether p may perform action on resource. Administrators
// are granted everything before any snapshot lookup.
func (r *Resolver) Check(p Principal, resource string, action Action) bool {
	if p == nil {
		return false
	}
	roles := r.roles(p.GetRoles())
	for _, role := range roles {
		if role == RoleAdministrator {
			return true
		}
	}

	resource = strings.ToLower(strings.TrimSpace(resource))
	for _, granted := range p.GetPermissions()[resource] {
		if parsed, err := ParseAction(granted); err == nil && parsed == action {
			return true
		}
	}

	for _, role := range roles {
		for _, granted := range Baseline[role][resource] {
			if granted == action {
				return true
			}
		}
	}
	return false
}

// ListPermissions merges the baselines of every role p holds.
func (r *Resolver) ListPermissions(p Principal) map[string][]Action {
	if p == nil {
		return map[string][]Action{}
	}
	return merge(r.roles(p.GetRoles()))
}

// Snapshot renders the merged baselines of roles in the string form stored
// on identities and credentials.
func (r *Resolver) Snapshot(roles []Role) map[string][]string {
	merged := merge(roles)
	out := make(map[string][]string, len(merged))
	for resource, actions := range merged {
		names := make([]string, len(actions))
		for i, action := range actions {
			names[i] = string(action)
		}
		out[resource] = names
	}
	return out
}

// CheckOwnership grants coarse ownership to administrators and faculty.
// There are no per-object ACLs.
func (r *Resolver) CheckOwnership(p Principal, resourceType, resourceID string) bool {
	if p == nil {
		return false
	}
	for _, role := range r.roles(p.GetRoles()) {
		if role == RoleAdministrator || role == RoleFaculty {
			return true
		}
	}
	r.logger.Debug("ownership denied", slog.String("resource_type", resourceType), slog.String("resource_id", resourceID))
	return false
}

// roles parses names, skipping and logging any that are not in the catalogue.
func (r *Resolver) roles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role, err := ParseRole(name)
		if err != nil {
			r.logger.Warn("rbac: ignoring unknown role", slog.String("role", name))
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

func merge(roles []Role) map[string][]Action {
	sets := make(map[string]map[Action]struct{})
	for _, role := range roles {
		for resource, actions := range Baseline[role] {
			set, ok := sets[resource]
			if !ok {
				set = make(map[Action]struct{}, len(actions))
				sets[resource] = set
			}
			for _, action := range actions {
				set[action] = struct{}{}
			}
		}
	}
	out := make(map[string][]Action, len(sets))
	for resource, set := range sets {
		out[resource] = normalizeActions(set)
	}
	return out
}

// normalizeActions orders a set by catalogue position.
func normalizeActions(set map[Action]struct{}) []Action {
	actions := make([]Action, 0, len(set))
	for action := range set {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actionIndex(actions[i]) < actionIndex(actions[j]) })
	return actions
}

func actionIndex(a Action) int {
	for i, action := range Actions {
		if action == a {
			return i
		}
	}
	return len(Actions)
}
