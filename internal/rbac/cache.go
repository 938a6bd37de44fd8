package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const grantCachePrefix = "rbac:grants"

// CachedGrantSource caches raw grants per user in Redis. Effectiveness is never
// cached; the security context still evaluates it on every build. Writes bump a
// per-user version so stale entries are never read again.
type CachedGrantSource struct {
	next   GrantSource
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedGrantSource wraps next with a Redis cache. A nil client disables caching.
func NewCachedGrantSource(next GrantSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedGrantSource {
	return &CachedGrantSource{next: next, client: client, ttl: ttl, logger: logger}
}

// ListUserGrants serves from cache when possible and collapses concurrent misses.
func (c *CachedGrantSource) ListUserGrants(ctx context.Context, userID int64) ([]Grant, error) {
	if c.client == nil {
		return c.next.ListUserGrants(ctx, userID)
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		c.warn("grant cache version", userID, err)
		return c.next.ListUserGrants(ctx, userID)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		grants, decodeErr := decodeGrants(payload)
		if decodeErr == nil {
			return grants, nil
		}
		c.warn("grant cache decode", userID, decodeErr)
	} else if !errors.Is(err, redis.Nil) {
		c.warn("grant cache get", userID, err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		grants, err := c.next.ListUserGrants(ctx, userID)
		if err != nil {
			return nil, err
		}
		raw, err := encodeGrants(grants)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.warn("grant cache set", userID, err)
		}
		return grants, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Grant), nil
}

// Invalidate makes every cached entry of the user unreachable.
func (c *CachedGrantSource) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(userID)).Err()
}

func (c *CachedGrantSource) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%d", grantCachePrefix, userID, ver), nil
}

func (c *CachedGrantSource) warn(msg string, userID int64, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func versionKey(userID int64) string {
	return grantCachePrefix + ":version:" + strconv.FormatInt(userID, 10)
}

type permissionRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	System      bool   `json:"system,omitempty"`
}

type roleRecord struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Level       int                `json:"level"`
	System      bool               `json:"system,omitempty"`
	Assignable  bool               `json:"assignable"`
	Permissions []permissionRecord `json:"permissions"`
}

type grantRecord struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Role             string     `json:"role"`
	ChapterID        *int64     `json:"chapter_id,omitempty"`
	IsActive         bool       `json:"is_active"`
	GrantedAt        time.Time  `json:"granted_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	GrantedBy        *int64     `json:"granted_by,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        *int64     `json:"revoked_by,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

type grantsPayload struct {
	Roles  []roleRecord  `json:"roles"`
	Grants []grantRecord `json:"grants"`
}

func encodeGrants(grants []Grant) ([]byte, error) {
	payload := grantsPayload{Grants: make([]grantRecord, 0, len(grants))}
	seen := make(map[string]struct{})
	for _, g := range grants {
		if g.Role == nil {
			continue
		}
		if _, ok := seen[g.Role.Name]; !ok {
			seen[g.Role.Name] = struct{}{}
			rr := roleRecord{
				ID: g.Role.ID, Name: g.Role.Name, Description: g.Role.Description,
				Level: g.Role.HierarchyLevel, System: g.Role.IsSystemRole, Assignable: g.Role.IsAssignable,
			}
			for _, p := range g.Role.Permissions() {
				rr.Permissions = append(rr.Permissions, permissionRecord{
					ID: p.ID, Name: p.Name, Resource: p.Resource, Action: p.Action,
					Description: p.Description, System: p.IsSystemPermission,
				})
			}
			payload.Roles = append(payload.Roles, rr)
		}
		payload.Grants = append(payload.Grants, grantRecord{
			ID: g.ID, UserID: g.UserID, Role: g.Role.Name, ChapterID: g.ChapterID,
			IsActive: g.IsActive, GrantedAt: g.GrantedAt, ExpiresAt: g.ExpiresAt, GrantedBy: g.GrantedBy,
			RevokedAt: g.RevokedAt, RevokedBy: g.RevokedBy, RevocationReason: g.RevocationReason,
		})
	}
	return json.Marshal(payload)
}

func decodeGrants(raw []byte) ([]Grant, error) {
	var payload grantsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	perms := make(map[string]*Permission)
	roles := make(map[string]*Role, len(payload.Roles))
	for _, rr := range payload.Roles {
		role := &Role{
			ID: rr.ID, Name: rr.Name, Description: rr.Description, HierarchyLevel: rr.Level,
			IsSystemRole: rr.System, IsAssignable: rr.Assignable,
		}
		for _, pr := range rr.Permissions {
			p, ok := perms[pr.Name]
			if !ok {
				p = &Permission{
					ID: pr.ID, Name: pr.Name, Resource: pr.Resource, Action: pr.Action,
					Description: pr.Description, IsSystemPermission: pr.System,
				}
				perms[pr.Name] = p
			}
			role.AddPermission(p)
		}
		roles[rr.Name] = role
	}
	grants := make([]Grant, 0, len(payload.Grants))
	for _, gr := range payload.Grants {
		role, ok := roles[gr.Role]
		if !ok {
			return nil, fmt.Errorf("rbac: cached grant %d references unknown role %q", gr.ID, gr.Role)
		}
		grants = append(grants, Grant{
			ID: gr.ID, UserID: gr.UserID, Role: role, ChapterID: gr.ChapterID,
			IsActive: gr.IsActive, GrantedAt: gr.GrantedAt, ExpiresAt: gr.ExpiresAt, GrantedBy: gr.GrantedBy,
			RevokedAt: gr.RevokedAt, RevokedBy: gr.RevokedBy, RevocationReason: gr.RevocationReason,
		})
	}
	return grants, nil
}
