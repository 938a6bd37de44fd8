package rbac

import "sort"

// Role names referenced by the authority checks.
const (
	RoleNameSuperAdmin           = "Super Administrator"
	RoleNameSystemAdmin          = "System Administrator"
	RoleNameInstitutionAdmin     = "Institution Administrator"
	RoleNameChapterPresident     = "Chapter President"
	RoleNameChapterVicePresident = "Chapter Vice President"
	RoleNameChapterSecretary     = "Chapter Secretary"
	RoleNameChapterTreasurer     = "Chapter Treasurer"
	RoleNameEventCoordinator     = "Event Coordinator"
	RoleNameChapterMember        = "Chapter Member"
	RoleNameAlumni               = "Alumni"
	RoleNamePendingMember        = "Pending Member"
)

// RoleType identifies a standard role in the catalog.
type RoleType string

// Standard role types.
const (
	RoleSuperAdmin           RoleType = "SUPER_ADMIN"
	RoleSystemAdmin          RoleType = "SYSTEM_ADMIN"
	RoleInstitutionAdmin     RoleType = "INSTITUTION_ADMIN"
	RoleChapterPresident     RoleType = "CHAPTER_PRESIDENT"
	RoleChapterVicePresident RoleType = "CHAPTER_VICE_PRESIDENT"
	RoleChapterSecretary     RoleType = "CHAPTER_SECRETARY"
	RoleChapterTreasurer     RoleType = "CHAPTER_TREASURER"
	RoleEventCoordinator     RoleType = "EVENT_COORDINATOR"
	RoleChapterMember        RoleType = "CHAPTER_MEMBER"
	RoleAlumni               RoleType = "ALUMNI"
	RolePendingMember        RoleType = "PENDING_MEMBER"
)

// PermissionType is a "resource:action" constant from the catalog.
type PermissionType string

// Standard permission types.
const (
	PermSystemAdmin       PermissionType = "system:admin"
	PermSystemAudit       PermissionType = "system:audit"
	PermInstitutionRead   PermissionType = "institution:read"
	PermInstitutionManage PermissionType = "institution:manage"
	PermChapterCreate     PermissionType = "chapter:create"
	PermChapterRead       PermissionType = "chapter:read"
	PermChapterUpdate     PermissionType = "chapter:update"
	PermChapterDelete     PermissionType = "chapter:delete"
	PermChapterManage     PermissionType = "chapter:manage"
	PermMemberRead        PermissionType = "member:read"
	PermMemberInvite      PermissionType = "member:invite"
	PermMemberApprove     PermissionType = "member:approve"
	PermMemberRemove      PermissionType = "member:remove"
	PermMemberManage      PermissionType = "member:manage"
	PermEventCreate       PermissionType = "event:create"
	PermEventRead         PermissionType = "event:read"
	PermEventUpdate       PermissionType = "event:update"
	PermEventDelete       PermissionType = "event:delete"
	PermEventRSVP         PermissionType = "event:rsvp"
	PermEventManage       PermissionType = "event:manage"
	PermRoleAssign        PermissionType = "role:assign"
	PermRoleRevoke        PermissionType = "role:revoke"
	PermRoleManage        PermissionType = "role:manage"
	PermFinanceRead       PermissionType = "finance:read"
	PermFinanceManage     PermissionType = "finance:manage"
	PermReportView        PermissionType = "report:view"
)

// RoleDefinition is the static record for a standard role.
type RoleDefinition struct {
	DisplayName    string
	Description    string
	HierarchyLevel int
	IsSystemRole   bool
	ChapterScoped  bool
	Permissions    []PermissionType
}

var allPermissionTypes = []PermissionType{
	PermSystemAdmin, PermSystemAudit,
	PermInstitutionRead, PermInstitutionManage,
	PermChapterCreate, PermChapterRead, PermChapterUpdate, PermChapterDelete, PermChapterManage,
	PermMemberRead, PermMemberInvite, PermMemberApprove, PermMemberRemove, PermMemberManage,
	PermEventCreate, PermEventRead, PermEventUpdate, PermEventDelete, PermEventRSVP, PermEventManage,
	PermRoleAssign, PermRoleRevoke, PermRoleManage,
	PermFinanceRead, PermFinanceManage,
	PermReportView,
}

var chapterOfficerPermissions = []PermissionType{
	PermChapterRead, PermChapterUpdate, PermChapterManage,
	PermMemberRead, PermMemberInvite, PermMemberApprove, PermMemberRemove, PermMemberManage,
	PermEventCreate, PermEventRead, PermEventUpdate, PermEventDelete, PermEventRSVP, PermEventManage,
	PermRoleAssign, PermRoleRevoke,
	PermFinanceRead, PermReportView,
}

var catalog = map[RoleType]RoleDefinition{
	RoleSuperAdmin: {
		DisplayName:    RoleNameSuperAdmin,
		Description:    "Unrestricted access to every institution and chapter",
		HierarchyLevel: 100,
		IsSystemRole:   true,
		Permissions:    allPermissionTypes,
	},
	RoleSystemAdmin: {
		DisplayName:    RoleNameSystemAdmin,
		Description:    "Operates the platform and manages roles",
		HierarchyLevel: 95,
		IsSystemRole:   true,
		Permissions: []PermissionType{
			PermSystemAdmin, PermSystemAudit,
			PermInstitutionRead, PermInstitutionManage,
			PermChapterCreate, PermChapterRead, PermChapterUpdate, PermChapterDelete, PermChapterManage,
			PermMemberRead, PermMemberManage,
			PermEventRead, PermEventManage,
			PermRoleAssign, PermRoleRevoke, PermRoleManage,
			PermReportView,
		},
	},
	RoleInstitutionAdmin: {
		DisplayName:    RoleNameInstitutionAdmin,
		Description:    "Oversees the chapters of one institution",
		HierarchyLevel: 80,
		IsSystemRole:   true,
		Permissions: []PermissionType{
			PermInstitutionRead, PermInstitutionManage,
			PermChapterCreate, PermChapterRead, PermChapterUpdate,
			PermMemberRead, PermEventRead, PermReportView,
		},
	},
	RoleChapterPresident: {
		DisplayName:    RoleNameChapterPresident,
		Description:    "Leads a chapter",
		HierarchyLevel: 70,
		ChapterScoped:  true,
		Permissions:    chapterOfficerPermissions,
	},
	RoleChapterVicePresident: {
		DisplayName:    RoleNameChapterVicePresident,
		Description:    "Deputises for the chapter president",
		HierarchyLevel: 65,
		ChapterScoped:  true,
		Permissions:    chapterOfficerPermissions,
	},
	RoleChapterSecretary: {
		DisplayName:    RoleNameChapterSecretary,
		Description:    "Keeps chapter membership records",
		HierarchyLevel: 60,
		ChapterScoped:  true,
		Permissions: []PermissionType{
			PermChapterRead, PermChapterUpdate,
			PermMemberRead, PermMemberInvite, PermMemberApprove,
			PermEventCreate, PermEventRead, PermEventUpdate, PermEventRSVP,
			PermReportView,
		},
	},
	RoleChapterTreasurer: {
		DisplayName:    RoleNameChapterTreasurer,
		Description:    "Manages chapter finances",
		HierarchyLevel: 60,
		ChapterScoped:  true,
		Permissions: []PermissionType{
			PermChapterRead, PermMemberRead, PermEventRead, PermEventRSVP,
			PermFinanceRead, PermFinanceManage, PermReportView,
		},
	},
	RoleEventCoordinator: {
		DisplayName:    RoleNameEventCoordinator,
		Description:    "Plans and runs chapter events",
		HierarchyLevel: 50,
		ChapterScoped:  true,
		Permissions: []PermissionType{
			PermChapterRead, PermMemberRead,
			PermEventCreate, PermEventRead, PermEventUpdate, PermEventRSVP, PermEventManage,
		},
	},
	RoleChapterMember: {
		DisplayName:    RoleNameChapterMember,
		Description:    "Full member of a chapter",
		HierarchyLevel: 20,
		ChapterScoped:  true,
		Permissions:    []PermissionType{PermChapterRead, PermMemberRead, PermEventRead, PermEventRSVP},
	},
	RoleAlumni: {
		DisplayName:    RoleNameAlumni,
		Description:    "Former member with read access",
		HierarchyLevel: 10,
		ChapterScoped:  true,
		Permissions:    []PermissionType{PermChapterRead, PermEventRead},
	},
	RolePendingMember: {
		DisplayName:    RoleNamePendingMember,
		Description:    "Applicant awaiting approval",
		HierarchyLevel: 1,
		ChapterScoped:  true,
		Permissions:    []PermissionType{PermChapterRead},
	},
}

// Definition returns the catalog record for rt.
func Definition(rt RoleType) (RoleDefinition, bool) {
	def, ok := catalog[rt]
	if !ok {
		return RoleDefinition{}, false
	}
	def.Permissions = append([]PermissionType(nil), def.Permissions...)
	return def, true
}

// RoleTypes lists the catalog ordered by descending hierarchy level, then by type.
func RoleTypes() []RoleType {
	out := make([]RoleType, 0, len(catalog))
	for rt := range catalog {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := catalog[out[i]].HierarchyLevel, catalog[out[j]].HierarchyLevel
		if li != lj {
			return li > lj
		}
		return out[i] < out[j]
	})
	return out
}

// AllPermissionTypes lists every catalog permission.
func AllPermissionTypes() []PermissionType {
	return append([]PermissionType(nil), allPermissionTypes...)
}

// RoleTypeByDisplayName finds the catalog entry whose display name is name.
func RoleTypeByDisplayName(name string) (RoleType, bool) {
	for rt, def := range catalog {
		if def.DisplayName == name {
			return rt, true
		}
	}
	return "", false
}

// RoleTypeHasPermission reports whether the catalog binds p to rt.
func RoleTypeHasPermission(rt RoleType, p PermissionType) bool {
	def, ok := catalog[rt]
	if !ok {
		return false
	}
	for _, candidate := range def.Permissions {
		if candidate == p {
			return true
		}
	}
	return false
}

// HasHigherAuthorityThan reports whether a ranks strictly above b. Unknown types rank nowhere.
func HasHigherAuthorityThan(a, b RoleType) bool {
	da, okA := catalog[a]
	db, okB := catalog[b]
	if !okA || !okB {
		return false
	}
	return da.HierarchyLevel > db.HierarchyLevel
}

// CatalogRoles materialises the catalog into roles sharing permission instances.
func CatalogRoles() []*Role {
	perms := make(map[PermissionType]*Permission, len(allPermissionTypes))
	for _, pt := range allPermissionTypes {
		resource, action, _ := ParsePermissionName(string(pt))
		p := NewPermission(resource, action, "")
		p.IsSystemPermission = true
		perms[pt] = p
	}
	types := RoleTypes()
	roles := make([]*Role, 0, len(types))
	for _, rt := range types {
		def := catalog[rt]
		role := NewRole(def.DisplayName, def.Description, def.HierarchyLevel)
		role.IsSystemRole = def.IsSystemRole
		for _, pt := range def.Permissions {
			role.AddPermission(perms[pt])
		}
		roles = append(roles, role)
	}
	return roles
}
