package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

// Notifier pushes asynchronous notifications to connected identities.
type Notifier interface {
	Send(identityID int64, event events.Event)
}

// Service manages session records after login: listing, revocation and
// expiry cleanup.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	guard       *authz.Guard
	invalidator identity.Invalidator
	notifier    Notifier
	clock       func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger, guard *authz.Guard, invalidator identity.Invalidator, notifier Notifier, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, logger: logger, guard: guard, invalidator: invalidator, notifier: notifier, clock: clock}
}

// List returns the user's sessions, newest activity first.
func (s *Service) List(ctx context.Context, userID int64) ([]Session, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Revoke ends another device's session. It refuses to act on the session
// matching the caller's current token: ending the active session goes
// through logout, not here. Revoking a session that belongs to someone
// else requires the sessions.revoke permission.
func (s *Service) Revoke(ctx context.Context, actor *identity.Identity, currentToken string, sessionID int64, reason string) error {
	if actor == nil {
		return shared.ErrUnauthenticated
	}
	target, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if currentToken != "" && target.Token == currentToken {
		return fmt.Errorf("%w: cannot revoke the current session", shared.ErrConflict)
	}
	if target.UserID != actor.UserID && !s.guard.Allow(ctx, actor, authz.PermSessionsRevoke) {
		return fmt.Errorf("%w: missing permission %s", shared.ErrForbidden, authz.PermSessionsRevoke)
	}

	if err := s.repo.MarkRevoked(ctx, sessionID, actor.UserID, reason, s.clock()); err != nil {
		return err
	}

	// Invalidate before reporting success so the revoked device's next
	// request re-resolves against the store.
	s.invalidator.InvalidateUser(ctx, target.UserID)

	if s.notifier != nil {
		s.notifier.Send(target.UserID, events.Event{
			Type:   "session.revoked",
			Fields: map[string]any{"session_id": sessionID, "reason": reason},
		})
	}
	if s.logger != nil {
		s.logger.Info("session revoked",
			slog.Int64("session_id", sessionID),
			slog.Int64("by", actor.UserID))
	}
	return nil
}

// CleanupExpired hard-deletes expired and inactive session rows and
// returns the number removed. Safe to run repeatedly.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	if s.logger != nil && deleted > 0 {
		s.logger.Info("expired sessions removed", slog.Int64("count", deleted))
	}
	return deleted, nil
}
