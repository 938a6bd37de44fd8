package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestGrantEffectiveness(t *testing.T) {
	role := NewRole("Chapter Member", "", 20)
	cases := []struct {
		name  string
		grant Grant
		want  bool
	}{
		{"active without expiry", Grant{Role: role, IsActive: true}, true},
		{"inactive", Grant{Role: role}, false},
		{"revoked", Grant{Role: role, IsActive: true, RevokedAt: ptr(testNow.Add(-time.Hour))}, false},
		{"expires later", Grant{Role: role, IsActive: true, ExpiresAt: ptr(testNow.Add(time.Second))}, true},
		{"expires now", Grant{Role: role, IsActive: true, ExpiresAt: ptr(testNow)}, false},
		{"expired", Grant{Role: role, IsActive: true, ExpiresAt: ptr(testNow.Add(-time.Second))}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.grant.IsEffective(testNow))
		})
	}
}

func TestGrantRevokeActivateRoundTrip(t *testing.T) {
	expires := testNow.Add(48 * time.Hour)
	g := Grant{ID: 1, UserID: 7, Role: NewRole("Alumni", "", 10), IsActive: true, ExpiresAt: &expires}

	g.Revoke(ptr(int64(2)), "left the chapter", testNow)
	assert.False(t, g.IsActive)
	assert.True(t, g.IsRevoked())
	assert.Equal(t, int64(2), *g.RevokedBy)
	assert.Equal(t, "left the chapter", g.RevocationReason)
	assert.False(t, g.IsEffective(testNow))

	g.Activate()
	assert.True(t, g.IsActive)
	assert.Nil(t, g.RevokedAt)
	assert.Nil(t, g.RevokedBy)
	assert.Empty(t, g.RevocationReason)
	assert.Equal(t, &expires, g.ExpiresAt)
	assert.True(t, g.IsEffective(testNow))
	assert.False(t, g.IsEffective(expires))
}

func TestGrantScope(t *testing.T) {
	global := Grant{UserID: 1, Role: NewRole("System Administrator", "", 95)}
	scoped := Grant{UserID: 1, Role: NewRole("Chapter President", "", 70), ChapterID: ptr(int64(3))}

	assert.True(t, global.IsGlobal())
	assert.False(t, global.InChapter(3))
	assert.False(t, scoped.IsGlobal())
	assert.True(t, scoped.InChapter(3))
	assert.False(t, scoped.InChapter(4))

	assert.Equal(t, GrantKey{UserID: 1, Role: "System Administrator", Global: true}, global.Key())
	assert.Equal(t, GrantKey{UserID: 1, Role: "Chapter President", ChapterID: 3}, scoped.Key())
}

func TestEffectiveGrantsSkipsMissingRoles(t *testing.T) {
	grants := []Grant{
		{ID: 1, Role: NewRole("A", "", 1), IsActive: true},
		{ID: 2, IsActive: true},
		{ID: 3, Role: NewRole("B", "", 1)},
	}
	out := EffectiveGrants(grants, testNow)
	if assert.Len(t, out, 1) {
		assert.Equal(t, int64(1), out[0].ID)
	}
}
