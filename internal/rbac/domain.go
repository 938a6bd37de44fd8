package rbac

import (
	"sort"
	"strings"
)

// Permission represents an atomic capability identified by a resource and an action.
type Permission struct {
	ID                 int64
	Name               string
	Resource           string
	Action             string
	Description        string
	IsSystemPermission bool

	roles map[string]*Role
}

// NewPermission builds a permission whose name is derived from resource and action.
func NewPermission(resource, action, description string) *Permission {
	return &Permission{
		Name:        PermissionName(resource, action),
		Resource:    resource,
		Action:      action,
		Description: description,
	}
}

// PermissionName joins resource and action into the canonical "resource:action" form.
func PermissionName(resource, action string) string {
	return resource + ":" + action
}

// ParsePermissionName splits "resource:action". Both halves must be non-empty.
func ParsePermissionName(name string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(strings.TrimSpace(name), ":")
	if !ok || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

// Matches reports whether the permission carries exactly the given resource and action.
func (p *Permission) Matches(resource, action string) bool {
	return p != nil && p.Resource == resource && p.Action == action
}

// Equal compares permissions by name.
func (p *Permission) Equal(other *Permission) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Name == other.Name
}

// Roles returns the roles currently holding the permission, ordered by name.
func (p *Permission) Roles() []*Role {
	if p == nil {
		return nil
	}
	out := make([]*Role, 0, len(p.roles))
	for _, r := range p.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Role represents a named authority level with a set of permissions.
type Role struct {
	ID             int64
	Name           string
	Description    string
	HierarchyLevel int
	IsSystemRole   bool
	IsAssignable   bool

	permissions map[string]*Permission
}

// NewRole constructs an assignable, non-system role.
func NewRole(name, description string, hierarchyLevel int) *Role {
	return &Role{
		Name:           name,
		Description:    description,
		HierarchyLevel: hierarchyLevel,
		IsAssignable:   true,
	}
}

// AddPermission attaches p to the role and records the role on p.
func (r *Role) AddPermission(p *Permission) {
	if r == nil || p == nil {
		return
	}
	if r.permissions == nil {
		r.permissions = make(map[string]*Permission)
	}
	if p.roles == nil {
		p.roles = make(map[string]*Role)
	}
	r.permissions[p.Name] = p
	p.roles[r.Name] = r
}

// RemovePermission detaches p from the role and drops the role from p.
func (r *Role) RemovePermission(p *Permission) {
	if r == nil || p == nil {
		return
	}
	delete(r.permissions, p.Name)
	delete(p.roles, r.Name)
}

// Permissions returns the role's permissions ordered by name.
func (r *Role) Permissions() []*Permission {
	if r == nil {
		return nil
	}
	out := make([]*Permission, 0, len(r.permissions))
	for _, p := range r.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasPermission reports whether the role carries resource:action.
func (r *Role) HasPermission(resource, action string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.permissions {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// HasPermissionName reports whether the role carries a permission with the exact name.
func (r *Role) HasPermissionName(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.permissions[name]
	return ok
}

// HasHigherAuthorityThan compares hierarchy levels strictly.
func (r *Role) HasHigherAuthorityThan(other *Role) bool {
	if r == nil {
		return false
	}
	if other == nil {
		return true
	}
	return r.HierarchyLevel > other.HierarchyLevel
}

// Equal compares roles by name.
func (r *Role) Equal(other *Role) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Name == other.Name
}
