package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrAccessDenied is the uniform authorization failure.
	ErrAccessDenied = errors.New("authorization failed")
	// ErrDuplicateGrant indicates a grant already exists for the (user, role, chapter) triple.
	ErrDuplicateGrant = errors.New("rbac: grant already exists")
	// ErrRoleNotAssignable indicates the role may not be granted to users.
	ErrRoleNotAssignable = errors.New("rbac: role is not assignable")
	// ErrSystemRole indicates an attempt to delete a system role.
	ErrSystemRole = errors.New("rbac: system roles cannot be deleted")
	// ErrSystemPermission indicates an attempt to delete a system permission.
	ErrSystemPermission = errors.New("rbac: system permissions cannot be deleted")
	// ErrInvalidGrant indicates a malformed grant request.
	ErrInvalidGrant = errors.New("rbac: invalid grant")
)

// GrantSource returns every grant of a user with roles and permissions resolved.
// Implementations must not filter by effectiveness.
type GrantSource interface {
	ListUserGrants(ctx context.Context, userID int64) ([]Grant, error)
}

// SecurityService builds security contexts and answers checks against the one
// attached to the request context. Chapter checks are widened here: a global
// permission or role satisfies every chapter.
type SecurityService struct {
	source GrantSource
	logger *slog.Logger
	clock  func() time.Time
}

// NewSecurityService constructs a SecurityService backed by source.
func NewSecurityService(source GrantSource, logger *slog.Logger) *SecurityService {
	return &SecurityService{
		source: source,
		logger: logger,
		clock:  time.Now,
	}
}

// WithClock overrides the evaluation clock.
func (s *SecurityService) WithClock(clock func() time.Time) *SecurityService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Build loads the user's grants and snapshots the effective ones.
func (s *SecurityService) Build(ctx context.Context, userID int64) (*SecurityContext, error) {
	if s == nil || s.source == nil {
		return nil, errors.New("rbac: grant source not configured")
	}
	grants, err := s.source.ListUserGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load grants for user %d: %w", userID, err)
	}
	return NewSecurityContext(userID, grants, s.clock()), nil
}

// Current returns the request's security context, logging when it is missing.
func (s *SecurityService) Current(ctx context.Context) *SecurityContext {
	sc := SecurityContextFromContext(ctx)
	if sc == nil && s != nil && s.logger != nil {
		s.logger.Warn("rbac check without security context")
	}
	return sc
}

// HasPermission checks resource:action across every effective grant.
func (s *SecurityService) HasPermission(ctx context.Context, resource, action string) bool {
	return s.Current(ctx).HasPermission(resource, action)
}

// HasRole checks an effective role by name.
func (s *SecurityService) HasRole(ctx context.Context, name string) bool {
	return s.Current(ctx).HasRole(name)
}

// HasMinimumHierarchyLevel checks the hierarchy floor.
func (s *SecurityService) HasMinimumHierarchyLevel(ctx context.Context, minLevel int) bool {
	return s.Current(ctx).HasMinimumHierarchyLevel(minLevel)
}

// HasPermissionInChapter is true for a global permission or one granted in chapterID.
// A nil chapterID restricts the check to global grants.
func (s *SecurityService) HasPermissionInChapter(ctx context.Context, chapterID *int64, resource, action string) bool {
	sc := s.Current(ctx)
	if sc.HasGlobalPermission(resource, action) {
		return true
	}
	return chapterID != nil && sc.HasChapterPermission(*chapterID, resource, action)
}

// HasRoleInChapter is true for a global role or one granted in chapterID.
// A nil chapterID restricts the check to global grants.
func (s *SecurityService) HasRoleInChapter(ctx context.Context, chapterID *int64, name string) bool {
	sc := s.Current(ctx)
	if sc.HasGlobalRole(name) {
		return true
	}
	return chapterID != nil && sc.HasChapterRole(*chapterID, name)
}

// IsSystemAdmin reports whether the request user is a system administrator.
func (s *SecurityService) IsSystemAdmin(ctx context.Context) bool {
	return s.Current(ctx).IsSystemAdmin()
}

// IsChapterAdmin reports whether the request user administers chapterID.
func (s *SecurityService) IsChapterAdmin(ctx context.Context, chapterID int64) bool {
	return s.Current(ctx).IsChapterAdmin(chapterID)
}

// IsResourceOwner reports whether the request user is ownerID.
func (s *SecurityService) IsResourceOwner(ctx context.Context, ownerID int64) bool {
	return s.Current(ctx).IsResourceOwner(ownerID)
}

// CurrentUserID returns the request user, if a security context is attached.
func (s *SecurityService) CurrentUserID(ctx context.Context) (int64, bool) {
	sc := SecurityContextFromContext(ctx)
	if sc == nil {
		return 0, false
	}
	return sc.UserID(), true
}
