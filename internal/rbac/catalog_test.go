package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogHierarchy(t *testing.T) {
	levels := map[RoleType]int{
		RoleSuperAdmin:           100,
		RoleSystemAdmin:          95,
		RoleInstitutionAdmin:     80,
		RoleChapterPresident:     70,
		RoleChapterVicePresident: 65,
		RoleChapterSecretary:     60,
		RoleChapterTreasurer:     60,
		RoleEventCoordinator:     50,
		RoleChapterMember:        20,
		RoleAlumni:               10,
		RolePendingMember:        1,
	}
	require.Len(t, RoleTypes(), len(levels))
	for rt, level := range levels {
		def, ok := Definition(rt)
		require.True(t, ok, rt)
		assert.Equal(t, level, def.HierarchyLevel, rt)
	}

	types := RoleTypes()
	assert.Equal(t, RoleSuperAdmin, types[0])
	assert.Equal(t, RolePendingMember, types[len(types)-1])
}

func TestCatalogAuthority(t *testing.T) {
	assert.True(t, HasHigherAuthorityThan(RoleChapterPresident, RoleChapterMember))
	assert.False(t, HasHigherAuthorityThan(RoleChapterSecretary, RoleChapterTreasurer))
	assert.False(t, HasHigherAuthorityThan(RoleType("NOBODY"), RolePendingMember))
}

func TestCatalogPermissions(t *testing.T) {
	for _, pt := range AllPermissionTypes() {
		assert.True(t, RoleTypeHasPermission(RoleSuperAdmin, pt), pt)
	}
	assert.True(t, RoleTypeHasPermission(RoleChapterMember, PermEventRSVP))
	assert.False(t, RoleTypeHasPermission(RoleChapterMember, PermEventCreate))
	assert.False(t, RoleTypeHasPermission(RoleType("NOBODY"), PermEventRead))

	def, _ := Definition(RoleChapterMember)
	def.Permissions[0] = PermSystemAdmin
	assert.False(t, RoleTypeHasPermission(RoleChapterMember, PermSystemAdmin))
}

func TestCatalogRolesSharePermissions(t *testing.T) {
	roles := CatalogRoles()
	byName := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}
	super := byName[RoleNameSuperAdmin]
	require.NotNil(t, super)
	assert.True(t, super.IsSystemRole)
	assert.Len(t, super.Permissions(), len(AllPermissionTypes()))

	member := byName[RoleNameChapterMember]
	require.NotNil(t, member)
	assert.False(t, member.IsSystemRole)

	var read *Permission
	for _, p := range member.Permissions() {
		if p.Name == string(PermEventRead) {
			read = p
		}
	}
	require.NotNil(t, read)
	assert.True(t, read.IsSystemPermission)
	assert.Contains(t, read.Roles(), super)

	rt, ok := RoleTypeByDisplayName(RoleNameEventCoordinator)
	assert.True(t, ok)
	assert.Equal(t, RoleEventCoordinator, rt)
}
