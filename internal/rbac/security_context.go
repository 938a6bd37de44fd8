package rbac

import (
	"sort"
	"time"
)

// SecurityContext is an immutable snapshot of one user's effective authority.
// It is built once per request and must not be shared across requests.
// Every query on a nil *SecurityContext answers false or zero.
type SecurityContext struct {
	userID      int64
	builtAt     time.Time
	grants      []Grant
	roles       []*Role
	permissions []*Permission
	roleIndex   map[string]*Role
	permIndex   map[string]*Permission
}

// NewSecurityContext keeps the grants effective at now and derives roles and permissions from them.
func NewSecurityContext(userID int64, grants []Grant, now time.Time) *SecurityContext {
	effective := EffectiveGrants(grants, now)
	sc := &SecurityContext{
		userID:    userID,
		builtAt:   now,
		grants:    effective,
		roleIndex: make(map[string]*Role),
		permIndex: make(map[string]*Permission),
	}
	for _, g := range effective {
		if _, seen := sc.roleIndex[g.Role.Name]; seen {
			continue
		}
		sc.roleIndex[g.Role.Name] = g.Role
		sc.roles = append(sc.roles, g.Role)
		for _, p := range g.Role.Permissions() {
			if _, seen := sc.permIndex[p.Name]; seen {
				continue
			}
			sc.permIndex[p.Name] = p
			sc.permissions = append(sc.permissions, p)
		}
	}
	sort.Slice(sc.roles, func(i, j int) bool { return sc.roles[i].Name < sc.roles[j].Name })
	sort.Slice(sc.permissions, func(i, j int) bool { return sc.permissions[i].Name < sc.permissions[j].Name })
	return sc
}

// UserID returns the subject of the context.
func (sc *SecurityContext) UserID() int64 {
	if sc == nil {
		return 0
	}
	return sc.userID
}

// BuiltAt returns the instant effectiveness was evaluated at.
func (sc *SecurityContext) BuiltAt() time.Time {
	if sc == nil {
		return time.Time{}
	}
	return sc.builtAt
}

// EffectiveGrants returns a copy of the effective grants.
func (sc *SecurityContext) EffectiveGrants() []Grant {
	if sc == nil {
		return nil
	}
	return append([]Grant(nil), sc.grants...)
}

// EffectiveRoles returns the distinct effective roles ordered by name.
func (sc *SecurityContext) EffectiveRoles() []*Role {
	if sc == nil {
		return nil
	}
	return append([]*Role(nil), sc.roles...)
}

// EffectivePermissions returns the union of effective role permissions ordered by name.
func (sc *SecurityContext) EffectivePermissions() []*Permission {
	if sc == nil {
		return nil
	}
	return append([]*Permission(nil), sc.permissions...)
}

// HasPermission reports whether any effective permission matches resource and action exactly.
func (sc *SecurityContext) HasPermission(resource, action string) bool {
	if sc == nil {
		return false
	}
	for _, p := range sc.permissions {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// HasPermissionName matches the permission name exactly.
func (sc *SecurityContext) HasPermissionName(name string) bool {
	if sc == nil {
		return false
	}
	_, ok := sc.permIndex[name]
	return ok
}

// HasAnyPermission reports whether at least one of names is held.
func (sc *SecurityContext) HasAnyPermission(names ...string) bool {
	for _, name := range names {
		if sc.HasPermissionName(name) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of names is held.
func (sc *SecurityContext) HasAllPermissions(names ...string) bool {
	if sc == nil {
		return false
	}
	for _, name := range names {
		if !sc.HasPermissionName(name) {
			return false
		}
	}
	return true
}

// HasRole reports whether name is among the effective roles, regardless of grant scope.
func (sc *SecurityContext) HasRole(name string) bool {
	if sc == nil {
		return false
	}
	_, ok := sc.roleIndex[name]
	return ok
}

// HasAnyRole reports whether at least one of names is held.
func (sc *SecurityContext) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if sc.HasRole(name) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether every one of names is held.
func (sc *SecurityContext) HasAllRoles(names ...string) bool {
	if sc == nil {
		return false
	}
	for _, name := range names {
		if !sc.HasRole(name) {
			return false
		}
	}
	return true
}

// HasMinimumHierarchyLevel reports whether some effective role sits at minLevel or above.
func (sc *SecurityContext) HasMinimumHierarchyLevel(minLevel int) bool {
	if sc == nil {
		return false
	}
	for _, r := range sc.roles {
		if r.HierarchyLevel >= minLevel {
			return true
		}
	}
	return false
}

// HighestHierarchyLevel returns the top effective hierarchy level, or 0 without roles.
func (sc *SecurityContext) HighestHierarchyLevel() int {
	if sc == nil {
		return 0
	}
	highest := 0
	for i, r := range sc.roles {
		if i == 0 || r.HierarchyLevel > highest {
			highest = r.HierarchyLevel
		}
	}
	return highest
}

// HighestHierarchyLevelIn returns the top level among global grants and grants in chapterID.
func (sc *SecurityContext) HighestHierarchyLevelIn(chapterID int64) int {
	if sc == nil {
		return 0
	}
	highest, found := 0, false
	for _, g := range sc.grants {
		if !g.IsGlobal() && !g.InChapter(chapterID) {
			continue
		}
		if !found || g.Role.HierarchyLevel > highest {
			highest, found = g.Role.HierarchyLevel, true
		}
	}
	return highest
}

// HasChapterPermission scans chapter-scoped grants for chapterID only.
func (sc *SecurityContext) HasChapterPermission(chapterID int64, resource, action string) bool {
	if sc == nil {
		return false
	}
	for _, g := range sc.grants {
		if g.InChapter(chapterID) && g.Role.HasPermission(resource, action) {
			return true
		}
	}
	return false
}

// HasGlobalPermission scans grants without a chapter only.
func (sc *SecurityContext) HasGlobalPermission(resource, action string) bool {
	if sc == nil {
		return false
	}
	for _, g := range sc.grants {
		if g.IsGlobal() && g.Role.HasPermission(resource, action) {
			return true
		}
	}
	return false
}

// HasChapterRole reports whether name was granted within chapterID.
func (sc *SecurityContext) HasChapterRole(chapterID int64, name string) bool {
	if sc == nil {
		return false
	}
	for _, g := range sc.grants {
		if g.InChapter(chapterID) && g.Role.Name == name {
			return true
		}
	}
	return false
}

// HasGlobalRole reports whether name was granted without a chapter.
func (sc *SecurityContext) HasGlobalRole(name string) bool {
	if sc == nil {
		return false
	}
	for _, g := range sc.grants {
		if g.IsGlobal() && g.Role.Name == name {
			return true
		}
	}
	return false
}

// IsSystemAdmin reports a global Super Administrator or System Administrator grant.
func (sc *SecurityContext) IsSystemAdmin() bool {
	return sc.HasGlobalRole(RoleNameSuperAdmin) || sc.HasGlobalRole(RoleNameSystemAdmin)
}

// IsChapterAdmin reports a president or vice president grant in chapterID.
// System administrators are chapter administrators of every chapter.
func (sc *SecurityContext) IsChapterAdmin(chapterID int64) bool {
	if sc.IsSystemAdmin() {
		return true
	}
	return sc.HasChapterRole(chapterID, RoleNameChapterPresident) ||
		sc.HasChapterRole(chapterID, RoleNameChapterVicePresident)
}

// IsResourceOwner compares the subject with ownerID.
func (sc *SecurityContext) IsResourceOwner(ownerID int64) bool {
	if sc == nil {
		return false
	}
	return sc.userID == ownerID
}

// ChapterIDs lists the chapters the subject holds effective grants in, ascending.
func (sc *SecurityContext) ChapterIDs() []int64 {
	if sc == nil {
		return nil
	}
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, g := range sc.grants {
		if g.ChapterID == nil {
			continue
		}
		if _, ok := seen[*g.ChapterID]; ok {
			continue
		}
		seen[*g.ChapterID] = struct{}{}
		out = append(out, *g.ChapterID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
