package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RoleAdminStore is the persistence used to remove custom roles and permissions.
type RoleAdminStore interface {
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	DeleteRole(ctx context.Context, roleID int64) ([]int64, error)
	DeletePermission(ctx context.Context, permissionID int64) ([]int64, error)
}

// RoleAdmin removes roles and permissions that are not part of the system catalog.
// Only global system administrators may use it.
type RoleAdmin struct {
	store  RoleAdminStore
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewRoleAdmin constructs a RoleAdmin. cache and logger may be nil.
func NewRoleAdmin(store RoleAdminStore, cache CacheInvalidator, logger *slog.Logger) *RoleAdmin {
	return &RoleAdmin{store: store, cache: cache, logger: logger}
}

// DeleteRole removes the named role and every grant of it.
func (a *RoleAdmin) DeleteRole(ctx context.Context, name string) error {
	actor, err := requireSystemAdmin(ctx)
	if err != nil {
		return err
	}
	role, err := a.store.FindRoleByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: %s", ErrSystemRole, role.Name)
	}
	users, err := a.store.DeleteRole(ctx, role.ID)
	if err != nil {
		return err
	}
	a.invalidate(ctx, users)
	if a.logger != nil {
		a.logger.Info("role deleted",
			slog.String("role", role.Name),
			slog.Int64("actor_id", actor),
			slog.Int("grants_removed_for", len(users)))
	}
	return nil
}

// DeletePermission removes the named permission from the catalog and from every role.
func (a *RoleAdmin) DeletePermission(ctx context.Context, name string) error {
	actor, err := requireSystemAdmin(ctx)
	if err != nil {
		return err
	}
	perm, err := a.store.FindPermissionByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if perm.IsSystemPermission {
		return fmt.Errorf("%w: %s", ErrSystemPermission, perm.Name)
	}
	users, err := a.store.DeletePermission(ctx, perm.ID)
	if err != nil {
		return err
	}
	a.invalidate(ctx, users)
	if a.logger != nil {
		a.logger.Info("permission deleted",
			slog.String("permission", perm.Name),
			slog.Int64("actor_id", actor),
			slog.Int("affected_users", len(users)))
	}
	return nil
}

func requireSystemAdmin(ctx context.Context) (int64, error) {
	sc := SecurityContextFromContext(ctx)
	if !sc.IsSystemAdmin() {
		return 0, fmt.Errorf("%w: system administrator required", ErrAccessDenied)
	}
	return sc.UserID(), nil
}

func (a *RoleAdmin) invalidate(ctx context.Context, users []int64) {
	if a.cache == nil {
		return
	}
	for _, id := range users {
		if err := a.cache.Invalidate(ctx, id); err != nil && a.logger != nil {
			a.logger.Warn("grant cache invalidate", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
}
