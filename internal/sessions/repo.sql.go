package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindActiveSessionByToken joins session, user and role into an identity
// snapshot. Two active rows for one token is corrupted state and surfaces
// as shared.ErrInvariant.
func (r *PGRepository) FindActiveSessionByToken(ctx context.Context, token string) (*identity.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.user_id, u.email, u.is_active, r.id, r.name, r.power
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN roles r ON r.id = u.role_id
		WHERE s.session_token = $1 AND s.is_active = TRUE AND s.expires_at > now()`,
		token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var id *identity.Identity
	count := 0
	for rows.Next() {
		count++
		if count > 1 {
			return nil, shared.ErrInvariant
		}
		id = &identity.Identity{}
		if err := rows.Scan(&id.UserID, &id.Email, &id.IsActive, &id.RoleID, &id.Role, &id.Power); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, shared.ErrNotFound
	}

	perms, err := r.permissionsForRole(ctx, id.Role)
	if err != nil {
		return nil, err
	}
	id.Permissions = perms
	return id, nil
}

func (r *PGRepository) permissionsForRole(ctx context.Context, roleName string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT permission_name FROM role_permissions
		WHERE role_name = $1 AND is_allowed = TRUE AND is_active = TRUE`,
		roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms[name] = struct{}{}
	}
	return perms, rows.Err()
}

// TouchLastActive records session activity.
func (r *PGRepository) TouchLastActive(ctx context.Context, token string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_active = $2 WHERE session_token = $1 AND is_active = TRUE`,
		token, at.UTC())
	return err
}

// CreateSession persists a new login session.
func (r *PGRepository) CreateSession(ctx context.Context, s *Session) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, session_token, is_active, expires_at, created_at, last_active, ip_address, user_agent, location)
		VALUES ($1, $2, TRUE, $3, $4, $4, $5, $6, $7)
		RETURNING id`,
		s.UserID, s.Token, s.ExpiresAt.UTC(), s.CreatedAt.UTC(), s.IPAddress, s.UserAgent, s.Location,
	).Scan(&s.ID)
}

const sessionColumns = `id, user_id, session_token, is_active, expires_at, created_at, last_active,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(location, ''),
	revoked_at, revoked_by, COALESCE(revoked_reason, '')`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.IsActive, &s.ExpiresAt, &s.CreatedAt, &s.LastActive,
		&s.IPAddress, &s.UserAgent, &s.Location, &s.RevokedAt, &s.RevokedBy, &s.RevokedReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindByToken fetches a session row by its token, active or not.
func (r *PGRepository) FindByToken(ctx context.Context, token string) (*Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_token = $1`, token)
	return scanSession(row)
}

// GetByID fetches a session row by id.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListByUser returns the user's sessions, most recent activity first.
func (r *PGRepository) ListByUser(ctx context.Context, userID int64) ([]Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeactivateByToken deactivates the single session matching token.
func (r *PGRepository) DeactivateByToken(ctx context.Context, token string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE session_token = $1 AND is_active = TRUE`, token)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeactivateAllForUser deactivates every session row sharing the user id.
func (r *PGRepository) DeactivateAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkRevoked deactivates a session and records who ended it and why.
func (r *PGRepository) MarkRevoked(ctx context.Context, sessionID, revokedBy int64, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, revoked_at = $3, revoked_by = $2, revoked_reason = $4
		WHERE id = $1`,
		sessionID, revokedBy, at.UTC(), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteExpired removes expired and inactive rows. This is the only path
// that hard-deletes sessions.
func (r *PGRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR is_active = FALSE`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
