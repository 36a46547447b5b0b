package sessions

import (
	"context"
	"time"

	"github.com/atlascms/atlas/internal/identity"
)

// Repository defines persistence operations for session records. It is a
// superset of identity.Store so one implementation serves both the
// resolver and the lifecycle manager.
type Repository interface {
	FindActiveSessionByToken(ctx context.Context, token string) (*identity.Identity, error)
	TouchLastActive(ctx context.Context, token string, at time.Time) error

	CreateSession(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)
	GetByID(ctx context.Context, id int64) (*Session, error)
	ListByUser(ctx context.Context, userID int64) ([]Session, error)
	DeactivateByToken(ctx context.Context, token string) (int64, error)
	DeactivateAllForUser(ctx context.Context, userID int64) (int64, error)
	MarkRevoked(ctx context.Context, sessionID, revokedBy int64, reason string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
