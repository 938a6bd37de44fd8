package rbac

import "context"

// PermissionCheck configures a bulk permission validation.
type PermissionCheck struct {
	Permissions   []string
	RequireAll    bool
	ChapterScoped bool
	ChapterID     *int64
}

// RoleCheck configures a bulk role validation.
type RoleCheck struct {
	Roles             []string
	RequireAll        bool
	ChapterScoped     bool
	ChapterID         *int64
	MinHierarchyLevel int
}

// ValidatePermission combines per-permission checks with AND (RequireAll) or OR.
// Chapter-scoped items are parsed as "resource:action" and checked with global widening;
// an unparsable item never matches. An empty list places no restriction.
func (s *SecurityService) ValidatePermission(ctx context.Context, check PermissionCheck) bool {
	sc := s.Current(ctx)
	if sc == nil {
		return false
	}
	if len(check.Permissions) == 0 {
		return true
	}
	match := func(name string) bool {
		if !check.ChapterScoped {
			return sc.HasPermissionName(name)
		}
		resource, action, ok := ParsePermissionName(name)
		if !ok {
			return false
		}
		return s.HasPermissionInChapter(ctx, check.ChapterID, resource, action)
	}
	return combine(check.Permissions, check.RequireAll, match)
}

// ValidateRole combines per-role checks like ValidatePermission and always requires the
// hierarchy floor. An empty role list reduces to the hierarchy check alone.
func (s *SecurityService) ValidateRole(ctx context.Context, check RoleCheck) bool {
	sc := s.Current(ctx)
	if sc == nil {
		return false
	}
	roleMatch := true
	if len(check.Roles) > 0 {
		match := func(name string) bool {
			if !check.ChapterScoped {
				return sc.HasRole(name)
			}
			return s.HasRoleInChapter(ctx, check.ChapterID, name)
		}
		roleMatch = combine(check.Roles, check.RequireAll, match)
	}
	return roleMatch && sc.HasMinimumHierarchyLevel(check.MinHierarchyLevel)
}

func combine(items []string, requireAll bool, match func(string) bool) bool {
	if requireAll {
		for _, item := range items {
			if !match(item) {
				return false
			}
		}
		return true
	}
	for _, item := range items {
		if match(item) {
			return true
		}
	}
	return false
}
