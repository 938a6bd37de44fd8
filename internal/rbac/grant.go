package rbac

import "time"

// Grant links a user to a role, either globally (nil ChapterID) or within one chapter.
type Grant struct {
	ID               int64
	UserID           int64
	Role             *Role
	ChapterID        *int64
	IsActive         bool
	GrantedAt        time.Time
	ExpiresAt        *time.Time
	GrantedBy        *int64
	RevokedAt        *time.Time
	RevokedBy        *int64
	RevocationReason string
}

// GrantKey is the (user, role, chapter) identity of a grant.
type GrantKey struct {
	UserID    int64
	Role      string
	ChapterID int64
	Global    bool
}

// Key returns the identity triple of the grant.
func (g Grant) Key() GrantKey {
	key := GrantKey{UserID: g.UserID, Global: g.ChapterID == nil}
	if g.Role != nil {
		key.Role = g.Role.Name
	}
	if g.ChapterID != nil {
		key.ChapterID = *g.ChapterID
	}
	return key
}

// IsGlobal reports whether the grant applies system-wide.
func (g Grant) IsGlobal() bool {
	return g.ChapterID == nil
}

// InChapter reports whether the grant is scoped to chapterID.
func (g Grant) InChapter(chapterID int64) bool {
	return g.ChapterID != nil && *g.ChapterID == chapterID
}

// IsExpired reports whether the grant carries an expiry at or before now.
func (g Grant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// IsRevoked reports whether the grant has been revoked.
func (g Grant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// IsEffective reports whether the grant is active, not revoked and not expired at now.
// The result is never stored; callers evaluate it at read time.
func (g Grant) IsEffective(now time.Time) bool {
	return g.IsActive && !g.IsRevoked() && !g.IsExpired(now)
}

// Revoke deactivates the grant and records who revoked it, why and when.
func (g *Grant) Revoke(by *int64, reason string, at time.Time) {
	revokedAt := at
	g.IsActive = false
	g.RevokedAt = &revokedAt
	g.RevokedBy = by
	g.RevocationReason = reason
}

// Activate reactivates the grant and clears the revocation fields. ExpiresAt is left untouched.
func (g *Grant) Activate() {
	g.IsActive = true
	g.RevokedAt = nil
	g.RevokedBy = nil
	g.RevocationReason = ""
}

// EffectiveGrants filters grants down to the ones effective at now.
func EffectiveGrants(grants []Grant, now time.Time) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Role == nil {
			continue
		}
		if g.IsEffective(now) {
			out = append(out, g)
		}
	}
	return out
}
