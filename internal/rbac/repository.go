package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chapterhub/chapterhub/internal/platform/db"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles, permissions and grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const grantColumns = `ur.id, ur.user_id, ur.chapter_id, ur.is_active, ur.granted_at, ur.expires_at,
	ur.granted_by, ur.revoked_at, ur.revoked_by, COALESCE(ur.revocation_reason, ''),
	r.id, r.name, r.description, r.hierarchy_level, r.is_system_role, r.is_assignable`

// ListUserGrants returns every grant of the user, effective or not.
func (r *Repository) ListUserGrants(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grantColumns+`
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY ur.id`, userID)
	if err != nil {
		return nil, err
	}
	grants, err := scanGrants(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRolePermissions(ctx, r.pool, grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// GetGrant loads a grant by ID.
func (r *Repository) GetGrant(ctx context.Context, id int64) (Grant, error) {
	return getGrant(ctx, r.pool, id, false)
}

// FindRoleByName loads a role and its permissions.
func (r *Repository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	role := &Role{}
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, hierarchy_level, is_system_role, is_assignable
		FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.HierarchyLevel, &role.IsSystemRole, &role.IsAssignable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	grants := []Grant{{Role: role}}
	if err := loadRolePermissions(ctx, r.pool, grants); err != nil {
		return nil, err
	}
	return role, nil
}

// InsertGrant stores a new grant. A second grant for the same triple yields ErrDuplicateGrant.
func (r *Repository) InsertGrant(ctx context.Context, g Grant) (Grant, error) {
	if g.Role == nil || g.Role.ID == 0 {
		return Grant{}, fmt.Errorf("%w: role not resolved", ErrInvalidGrant)
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO user_roles
		(user_id, role_id, chapter_id, is_active, granted_at, expires_at, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		g.UserID, g.Role.ID, g.ChapterID, g.IsActive, g.GrantedAt, g.ExpiresAt, g.GrantedBy).Scan(&g.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Grant{}, ErrDuplicateGrant
		}
		return Grant{}, err
	}
	return g, nil
}

// UpdateGrant locks the grant, applies fn and persists the lifecycle fields.
func (r *Repository) UpdateGrant(ctx context.Context, id int64, fn func(*Grant) error) (Grant, error) {
	var updated Grant
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		g, err := getGrant(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&g); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE user_roles
			SET is_active = $2, expires_at = $3, revoked_at = $4, revoked_by = $5, revocation_reason = NULLIF($6, '')
			WHERE id = $1`,
			g.ID, g.IsActive, g.ExpiresAt, g.RevokedAt, g.RevokedBy, g.RevocationReason)
		if err != nil {
			return err
		}
		updated = g
		return nil
	})
	if err != nil {
		return Grant{}, err
	}
	return updated, nil
}

// EnsureRole upserts the role, its permissions and the role-permission links.
func (r *Repository) EnsureRole(ctx context.Context, role *Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO roles (name, description, hierarchy_level, is_system_role, is_assignable)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description,
				hierarchy_level = EXCLUDED.hierarchy_level, is_system_role = EXCLUDED.is_system_role,
				is_assignable = EXCLUDED.is_assignable
			RETURNING id`,
			role.Name, role.Description, role.HierarchyLevel, role.IsSystemRole, role.IsAssignable).Scan(&role.ID)
		if err != nil {
			return fmt.Errorf("upsert role %s: %w", role.Name, err)
		}
		for _, p := range role.Permissions() {
			err := tx.QueryRow(ctx, `INSERT INTO permissions (name, resource, action, description, is_system_permission)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (name) DO UPDATE SET is_system_permission = permissions.is_system_permission OR EXCLUDED.is_system_permission
				RETURNING id`,
				p.Name, p.Resource, p.Action, p.Description, p.IsSystemPermission).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("upsert permission %s: %w", p.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, role.ID, p.ID); err != nil {
				return fmt.Errorf("attach %s to %s: %w", p.Name, role.Name, err)
			}
		}
		return nil
	})
}

// FindPermissionByName loads a permission.
func (r *Repository) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, resource, action, description, is_system_permission
		FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.IsSystemPermission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// DeleteRole removes a non-system role together with its grants and returns the
// users who held it.
func (r *Repository) DeleteRole(ctx context.Context, roleID int64) ([]int64, error) {
	var users []int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `DELETE FROM user_roles WHERE role_id = $1 RETURNING user_id`, roleID)
		if err != nil {
			return err
		}
		if users, err = collectUserIDs(rows); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system_role`, roleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// DeletePermission removes a non-system permission and returns the users whose roles
// carried it.
func (r *Repository) DeletePermission(ctx context.Context, permissionID int64) ([]int64, error) {
	var users []int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT ur.user_id FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			WHERE rp.permission_id = $1`, permissionID)
		if err != nil {
			return err
		}
		if users, err = collectUserIDs(rows); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1 AND NOT is_system_permission`, permissionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// PurgeGrants deletes grants revoked or expired before cutoff and returns the affected user IDs.
func (r *Repository) PurgeGrants(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM user_roles
		WHERE (revoked_at IS NOT NULL AND revoked_at < $1)
		   OR (expires_at IS NOT NULL AND expires_at < $1)
		RETURNING user_id`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectUserIDs(rows)
}

// collectUserIDs drains rows of user IDs, dropping repeats, and closes rows.
func collectUserIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	seen := make(map[int64]struct{})
	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	return users, rows.Err()
}

func getGrant(ctx context.Context, q querier, id int64, forUpdate bool) (Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF ur`
	}
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return Grant{}, err
	}
	grants, err := scanGrants(rows)
	if err != nil {
		return Grant{}, err
	}
	if len(grants) == 0 {
		return Grant{}, ErrNotFound
	}
	if err := loadRolePermissions(ctx, q, grants); err != nil {
		return Grant{}, err
	}
	return grants[0], nil
}

func scanGrants(rows pgx.Rows) ([]Grant, error) {
	defer rows.Close()
	roles := make(map[int64]*Role)
	var grants []Grant
	for rows.Next() {
		var g Grant
		var role Role
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.ChapterID, &g.IsActive, &g.GrantedAt, &g.ExpiresAt,
			&g.GrantedBy, &g.RevokedAt, &g.RevokedBy, &g.RevocationReason,
			&role.ID, &role.Name, &role.Description, &role.HierarchyLevel, &role.IsSystemRole, &role.IsAssignable,
		); err != nil {
			return nil, err
		}
		shared, ok := roles[role.ID]
		if !ok {
			shared = &role
			roles[role.ID] = shared
		}
		g.Role = shared
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func loadRolePermissions(ctx context.Context, q querier, grants []Grant) error {
	roles := make(map[int64]*Role)
	ids := make([]int64, 0)
	for _, g := range grants {
		if g.Role == nil {
			continue
		}
		if _, ok := roles[g.Role.ID]; ok {
			continue
		}
		roles[g.Role.ID] = g.Role
		ids = append(ids, g.Role.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := q.Query(ctx, `SELECT rp.role_id, p.id, p.name, p.resource, p.action, p.description, p.is_system_permission
		FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) ORDER BY p.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	perms := make(map[int64]*Permission)
	for rows.Next() {
		var roleID int64
		var p Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.IsSystemPermission); err != nil {
			return err
		}
		shared, ok := perms[p.ID]
		if !ok {
			shared = &p
			perms[p.ID] = shared
		}
		roles[roleID].AddPermission(shared)
	}
	return rows.Err()
}
