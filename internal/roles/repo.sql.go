package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlascms/atlas/internal/platform/db"
	"github.com/atlascms/atlas/internal/shared"
)

// Repository defines persistence operations for the roles module.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountActiveRolePermissions(ctx context.Context, roleName string) (int, error)
	SetRolePermissions(ctx context.Context, roleName string, permissions []string) error
	ListPermissionNames(ctx context.Context) ([]string, error)
	EnsurePermission(ctx context.Context, name string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `id, name, display_name, power, is_system_default, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Power,
		&role.IsSystemDefault, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by power, strongest first.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY power DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// CreateRole inserts a new role. A duplicate name maps to shared.ErrConflict.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, power, is_system_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, TRUE, now(), now())
		RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.Power)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, mapConflict(err, "role name already exists")
	}
	return created, nil
}

// UpdateRole updates display name, power and active flag.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles
		SET display_name = $2, power = $3, is_active = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.DisplayName, role.Power, role.IsActive)
	updated, err := scanRole(row)
	if err != nil {
		return Role{}, mapConflict(err, "role name already exists")
	}
	return updated, nil
}

// DeleteRole removes a role by id.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountActiveRolePermissions counts the role's allowed, active permission
// rows; used as a power proxy on the assignment path.
func (r *PGRepository) CountActiveRolePermissions(ctx context.Context, roleName string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM role_permissions
		WHERE role_name = $1 AND is_allowed = TRUE AND is_active = TRUE`,
		roleName).Scan(&count)
	return count, err
}

// SetRolePermissions replaces the role's permission rows in one
// transaction.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleName string, permissions []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1`, roleName); err != nil {
			return err
		}
		for _, name := range permissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_name, permission_name, is_allowed, is_active)
				VALUES ($1, $2, TRUE, TRUE)`,
				roleName, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPermissionNames loads the admin-managed permission catalog.
func (r *PGRepository) ListPermissionNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// EnsurePermission upserts a catalog entry.
func (r *PGRepository) EnsurePermission(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

func mapConflict(err error, detail string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", shared.ErrConflict, detail)
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
