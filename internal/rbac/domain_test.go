package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionName(t *testing.T) {
	p := NewPermission("event", "rsvp", "RSVP to events")
	assert.Equal(t, "event:rsvp", p.Name)
	assert.True(t, p.Matches("event", "rsvp"))
	assert.False(t, p.Matches("event", "read"))
	assert.False(t, (*Permission)(nil).Matches("event", "rsvp"))

	resource, action, ok := ParsePermissionName(" chapter:read ")
	assert.True(t, ok)
	assert.Equal(t, "chapter", resource)
	assert.Equal(t, "read", action)

	for _, bad := range []string{"chapter", ":read", "chapter:", ""} {
		_, _, ok := ParsePermissionName(bad)
		assert.False(t, ok, bad)
	}
}

func TestRolePermissionsAreBidirectional(t *testing.T) {
	read := NewPermission("event", "read", "")
	member := NewRole("Member", "", 20)
	officer := NewRole("Officer", "", 60)
	member.AddPermission(read)
	officer.AddPermission(read)

	assert.True(t, member.HasPermission("event", "read"))
	assert.True(t, member.HasPermissionName("event:read"))
	assert.Equal(t, []*Role{member, officer}, read.Roles())

	member.RemovePermission(read)
	assert.False(t, member.HasPermission("event", "read"))
	assert.Equal(t, []*Role{officer}, read.Roles())
	assert.Empty(t, member.Permissions())
}

func TestRolePermissionMatchesFieldsNotName(t *testing.T) {
	odd := &Permission{Name: "event:create", Resource: "event", Action: "delete"}
	role := NewRole("Officer", "", 60)
	role.AddPermission(odd)

	assert.True(t, role.HasPermission("event", "delete"))
	assert.False(t, role.HasPermission("event", "create"))

	chapter := int64(3)
	sc := NewSecurityContext(7, []Grant{{ID: 1, UserID: 7, Role: role, ChapterID: &chapter, IsActive: true, GrantedAt: testNow}}, testNow)
	assert.Equal(t, sc.HasPermission("event", "delete"), sc.HasChapterPermission(chapter, "event", "delete"))
	assert.True(t, sc.HasChapterPermission(chapter, "event", "delete"))
	assert.False(t, sc.HasChapterPermission(chapter, "event", "create"))
}

func TestRoleEqualityAndAuthority(t *testing.T) {
	a := NewRole("Chapter President", "", 70)
	b := NewRole("Chapter President", "other description", 10)
	c := NewRole("Chapter Member", "", 20)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, (*Role)(nil).Equal(nil))
	assert.True(t, a.HasHigherAuthorityThan(c))
	assert.False(t, c.HasHigherAuthorityThan(a))
	assert.False(t, a.HasHigherAuthorityThan(NewRole("Peer", "", 70)))
	assert.True(t, a.HasHigherAuthorityThan(nil))
	assert.True(t, a.IsAssignable)
	assert.False(t, a.IsSystemRole)

	assert.True(t, NewPermission("a", "b", "").Equal(NewPermission("a", "b", "x")))
}
