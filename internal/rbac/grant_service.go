package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// GrantStore persists grants and resolves roles.
type GrantStore interface {
	GrantSource
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	GetGrant(ctx context.Context, id int64) (Grant, error)
	InsertGrant(ctx context.Context, g Grant) (Grant, error)
	UpdateGrant(ctx context.Context, id int64, fn func(*Grant) error) (Grant, error)
}

// CacheInvalidator drops cached grants of a user.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// GrantRequest describes a new grant.
type GrantRequest struct {
	UserID    int64
	RoleName  string
	ChapterID *int64
	ExpiresAt *time.Time
}

// GrantService runs the grant lifecycle on behalf of the request user.
// System administrators may grant anything assignable; chapter administrators may
// grant chapter-scoped roles in their chapter strictly below their own level there.
type GrantService struct {
	store  GrantStore
	cache  CacheInvalidator
	logger *slog.Logger
	clock  func() time.Time
}

// NewGrantService constructs a GrantService. cache may be nil.
func NewGrantService(store GrantStore, cache CacheInvalidator, logger *slog.Logger) *GrantService {
	return &GrantService{store: store, cache: cache, logger: logger, clock: time.Now}
}

// WithClock overrides the lifecycle clock.
func (s *GrantService) WithClock(clock func() time.Time) *GrantService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Grant creates an active grant.
func (s *GrantService) Grant(ctx context.Context, req GrantRequest) (Grant, error) {
	sc := SecurityContextFromContext(ctx)
	if sc == nil {
		return Grant{}, fmt.Errorf("%w: no security context", ErrAccessDenied)
	}
	name := strings.TrimSpace(req.RoleName)
	if req.UserID <= 0 || name == "" {
		return Grant{}, fmt.Errorf("%w: user and role are required", ErrInvalidGrant)
	}
	now := s.clock()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return Grant{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidGrant)
	}
	role, err := s.store.FindRoleByName(ctx, name)
	if err != nil {
		return Grant{}, err
	}
	if !role.IsAssignable {
		return Grant{}, ErrRoleNotAssignable
	}
	if role.IsSystemRole && req.ChapterID != nil {
		return Grant{}, fmt.Errorf("%w: %s is a global role", ErrInvalidGrant, role.Name)
	}
	if rt, ok := RoleTypeByDisplayName(role.Name); ok {
		if def, _ := Definition(rt); def.ChapterScoped && req.ChapterID == nil {
			return Grant{}, fmt.Errorf("%w: %s requires a chapter", ErrInvalidGrant, role.Name)
		}
	}
	if err := authorizeGrantor(sc, role, req.ChapterID); err != nil {
		return Grant{}, err
	}

	grantedBy := sc.UserID()
	g, err := s.store.InsertGrant(ctx, Grant{
		UserID:    req.UserID,
		Role:      role,
		ChapterID: req.ChapterID,
		IsActive:  true,
		GrantedAt: now,
		ExpiresAt: req.ExpiresAt,
		GrantedBy: &grantedBy,
	})
	if err != nil {
		return Grant{}, err
	}
	s.invalidate(ctx, g.UserID)
	s.log("grant created", g, grantedBy)
	return g, nil
}

// Revoke deactivates a grant and records the reason.
func (s *GrantService) Revoke(ctx context.Context, grantID int64, reason string) (Grant, error) {
	sc := SecurityContextFromContext(ctx)
	if sc == nil {
		return Grant{}, fmt.Errorf("%w: no security context", ErrAccessDenied)
	}
	by := sc.UserID()
	now := s.clock()
	g, err := s.store.UpdateGrant(ctx, grantID, func(g *Grant) error {
		if err := authorizeGrantor(sc, g.Role, g.ChapterID); err != nil {
			return err
		}
		if g.IsRevoked() {
			return fmt.Errorf("%w: grant %d already revoked", ErrInvalidGrant, g.ID)
		}
		g.Revoke(&by, strings.TrimSpace(reason), now)
		return nil
	})
	if err != nil {
		return Grant{}, err
	}
	s.invalidate(ctx, g.UserID)
	s.log("grant revoked", g, by)
	return g, nil
}

// Activate clears a revocation. An expired grant stays non-effective.
func (s *GrantService) Activate(ctx context.Context, grantID int64) (Grant, error) {
	sc := SecurityContextFromContext(ctx)
	if sc == nil {
		return Grant{}, fmt.Errorf("%w: no security context", ErrAccessDenied)
	}
	g, err := s.store.UpdateGrant(ctx, grantID, func(g *Grant) error {
		if err := authorizeGrantor(sc, g.Role, g.ChapterID); err != nil {
			return err
		}
		g.Activate()
		return nil
	})
	if err != nil {
		return Grant{}, err
	}
	s.invalidate(ctx, g.UserID)
	s.log("grant activated", g, sc.UserID())
	return g, nil
}

// ListUserGrants returns every grant of userID, effective or not.
func (s *GrantService) ListUserGrants(ctx context.Context, userID int64) ([]Grant, error) {
	return s.store.ListUserGrants(ctx, userID)
}

func authorizeGrantor(sc *SecurityContext, role *Role, chapterID *int64) error {
	if sc.IsSystemAdmin() {
		return nil
	}
	if role == nil {
		return fmt.Errorf("%w: unknown role", ErrAccessDenied)
	}
	if chapterID == nil {
		return fmt.Errorf("%w: only system administrators manage global grants", ErrAccessDenied)
	}
	if !sc.IsChapterAdmin(*chapterID) {
		return fmt.Errorf("%w: not an administrator of chapter %d", ErrAccessDenied, *chapterID)
	}
	if sc.HighestHierarchyLevelIn(*chapterID) <= role.HierarchyLevel {
		return fmt.Errorf("%w: %s is not below your authority", ErrAccessDenied, role.Name)
	}
	return nil
}

func (s *GrantService) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil && s.logger != nil {
		s.logger.Warn("grant cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *GrantService) log(msg string, g Grant, actor int64) {
	if s.logger == nil {
		return
	}
	attrs := []any{
		slog.Int64("grant_id", g.ID),
		slog.Int64("user_id", g.UserID),
		slog.Int64("actor_id", actor),
	}
	if g.Role != nil {
		attrs = append(attrs, slog.String("role", g.Role.Name))
	}
	if g.ChapterID != nil {
		attrs = append(attrs, slog.Int64("chapter_id", *g.ChapterID))
	}
	s.logger.Info(msg, attrs...)
}
