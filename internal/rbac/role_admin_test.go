package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *memoryStore) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	p, ok := s.permissions[name]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) DeleteRole(ctx context.Context, roleID int64) ([]int64, error) {
	var users []int64
	for id, g := range s.grants {
		if g.Role != nil && g.Role.ID == roleID {
			users = append(users, g.UserID)
			delete(s.grants, id)
		}
	}
	for name, r := range s.roles {
		if r.ID == roleID {
			delete(s.roles, name)
			return users, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) DeletePermission(ctx context.Context, permissionID int64) ([]int64, error) {
	for name, p := range s.permissions {
		if p.ID != permissionID {
			continue
		}
		delete(s.permissions, name)
		var users []int64
		for _, g := range s.grants {
			if g.Role.HasPermissionName(name) {
				users = append(users, g.UserID)
			}
		}
		return users, nil
	}
	return nil, ErrNotFound
}

func newRoleAdminHarness(t *testing.T) (*grantHarness, *RoleAdmin) {
	t.Helper()
	h := newGrantHarness()
	custom := NewRole("Social Chair", "", 30)
	custom.ID = 900
	badge := NewPermission("badge", "issue", "")
	badge.ID = 901
	custom.AddPermission(badge)
	h.store.roles[custom.Name] = custom
	h.store.permissions[badge.Name] = *badge
	h.store.permissions["event:create"] = Permission{ID: 1, Name: "event:create", Resource: "event", Action: "create", IsSystemPermission: true}

	_, err := h.store.InsertGrant(context.Background(), Grant{UserID: 7, Role: custom, ChapterID: ptr(int64(3)), IsActive: true, GrantedAt: testNow})
	require.NoError(t, err)
	return h, NewRoleAdmin(h.store, h.cache, nil)
}

func TestRoleAdminRefusesSystemEntries(t *testing.T) {
	h, admin := newRoleAdminHarness(t)
	ctx := h.as(t, 1, RoleNameSystemAdmin, nil)

	for _, name := range []string{RoleNameSuperAdmin, RoleNameSystemAdmin, RoleNameInstitutionAdmin} {
		require.ErrorIs(t, admin.DeleteRole(ctx, name), ErrSystemRole, name)
		assert.Contains(t, h.store.roles, name)
	}
	require.ErrorIs(t, admin.DeletePermission(ctx, "event:create"), ErrSystemPermission)
	assert.Contains(t, h.store.permissions, "event:create")
	assert.Empty(t, h.cache.users)
}

func TestRoleAdminDeletesCustomEntries(t *testing.T) {
	h, admin := newRoleAdminHarness(t)
	ctx := h.as(t, 1, RoleNameSystemAdmin, nil)

	require.NoError(t, admin.DeletePermission(ctx, " badge:issue "))
	assert.NotContains(t, h.store.permissions, "badge:issue")
	assert.Equal(t, []int64{7}, h.cache.users)

	require.NoError(t, admin.DeleteRole(ctx, "Social Chair"))
	assert.NotContains(t, h.store.roles, "Social Chair")
	grants, _ := h.store.ListUserGrants(context.Background(), 7)
	assert.Empty(t, grants)
	assert.Equal(t, []int64{7, 7}, h.cache.users)

	require.ErrorIs(t, admin.DeleteRole(ctx, "Social Chair"), ErrNotFound)
}

func TestRoleAdminRequiresGlobalSystemAdmin(t *testing.T) {
	h, admin := newRoleAdminHarness(t)

	require.ErrorIs(t, admin.DeleteRole(context.Background(), "Social Chair"), ErrAccessDenied)

	president := h.as(t, 2, RoleNameChapterPresident, ptr(int64(3)))
	require.ErrorIs(t, admin.DeleteRole(president, "Social Chair"), ErrAccessDenied)
	require.ErrorIs(t, admin.DeletePermission(president, "badge:issue"), ErrAccessDenied)
	assert.Contains(t, h.store.roles, "Social Chair")
}
