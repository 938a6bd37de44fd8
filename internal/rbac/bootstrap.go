package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// CatalogStore upserts roles together with their permissions.
type CatalogStore interface {
	EnsureRole(ctx context.Context, role *Role) error
}

// Bootstrap writes every catalog role and permission to store. It is idempotent.
func Bootstrap(ctx context.Context, store CatalogStore, logger *slog.Logger) error {
	roles := CatalogRoles()
	for _, role := range roles {
		if err := store.EnsureRole(ctx, role); err != nil {
			return fmt.Errorf("rbac: bootstrap %s: %w", role.Name, err)
		}
	}
	if logger != nil {
		logger.Info("rbac catalog bootstrapped", slog.Int("roles", len(roles)), slog.Int("permissions", len(allPermissionTypes)))
	}
	return nil
}
