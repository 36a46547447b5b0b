package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/roles"
)

// RoleDirectory is the slice of the roles module the assignment path
// needs.
type RoleDirectory interface {
	GetRole(ctx context.Context, id int64) (roles.Role, error)
	CountActiveRolePermissions(ctx context.Context, roleName string) (int, error)
}

// Notifier pushes notifications to connected identities.
type Notifier interface {
	Send(identityID int64, event events.Event)
}

// SessionEnder is the slice of the sessions module the deactivation path
// needs.
type SessionEnder interface {
	DeactivateAllForUser(ctx context.Context, userID int64) (int64, error)
}

// Service orchestrates account mutations behind the hierarchy enforcer.
type Service struct {
	repo        Repository
	roles       RoleDirectory
	sessions    SessionEnder
	logger      *slog.Logger
	enforcer    *authz.Enforcer
	invalidator identity.Invalidator
	notifier    Notifier
}

// NewService constructs a Service.
func NewService(repo Repository, roleDir RoleDirectory, sessions SessionEnder, logger *slog.Logger, enforcer *authz.Enforcer, invalidator identity.Invalidator, notifier Notifier) *Service {
	return &Service{repo: repo, roles: roleDir, sessions: sessions, logger: logger, enforcer: enforcer, invalidator: invalidator, notifier: notifier}
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// AssignRole gives the target user a new role. Assigning to oneself is
// blocked, as is handing out the super-admin role or any role at least as
// broad as the actor's own.
func (s *Service) AssignRole(ctx context.Context, actor *identity.Identity, userID, roleID int64) error {
	if err := s.enforcer.CanToggleUserStatus(actor, userID); err != nil {
		return err
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	count, err := s.roles.CountActiveRolePermissions(ctx, role.Name)
	if err != nil {
		return err
	}
	ref := authz.RoleRef{ID: role.ID, Name: role.Name, Power: role.Power, IsSystemDefault: role.IsSystemDefault, PermissionCount: count}
	if err := s.enforcer.CanAssignRole(actor, ref); err != nil {
		return err
	}
	if err := s.repo.UpdateUserRole(ctx, userID, roleID); err != nil {
		return err
	}

	s.invalidator.InvalidateUser(ctx, userID)
	if s.notifier != nil {
		s.notifier.Send(userID, events.Event{
			Type:   "permissions.changed",
			Fields: map[string]any{"role": role.Name},
		})
	}
	if s.logger != nil {
		s.logger.Info("role assigned",
			slog.Int64("user_id", userID),
			slog.String("role", role.Name),
			slog.Int64("by", actor.UserID))
	}
	return nil
}

// SetActive toggles the account status. Deactivation ends every session
// of the target so the account cannot keep acting on a live token.
func (s *Service) SetActive(ctx context.Context, actor *identity.Identity, userID int64, active bool) error {
	if err := s.enforcer.CanToggleUserStatus(actor, userID); err != nil {
		return err
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	if !active {
		// Ending the sessions now keeps a later reactivation from
		// reviving tokens issued before the lockout.
		if ended, err := s.sessions.DeactivateAllForUser(ctx, userID); err != nil {
			return err
		} else if s.logger != nil && ended > 0 {
			s.logger.Info("sessions ended on deactivation",
				slog.Int64("user_id", userID),
				slog.Int64("count", ended))
		}
	}

	s.invalidator.InvalidateUser(ctx, userID)
	if !active && s.notifier != nil {
		s.notifier.Send(userID, events.Event{Type: "session.revoked", Fields: map[string]any{"reason": "account deactivated"}})
	}
	return nil
}

// Delete removes the user and their sessions together; the pair is
// all-or-nothing.
func (s *Service) Delete(ctx context.Context, actor *identity.Identity, userID int64) error {
	if err := s.enforcer.CanToggleUserStatus(actor, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteUserWithSessions(ctx, userID); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID)
	if s.logger != nil {
		s.logger.Info("user deleted", slog.Int64("user_id", userID), slog.Int64("by", actor.UserID))
	}
	return nil
}

// BulkDelete removes several users, reporting a success count plus
// per-item warnings instead of failing the whole batch.
func (s *Service) BulkDelete(ctx context.Context, actor *identity.Identity, userIDs []int64) (int, []string) {
	var deleted int
	var warnings []string
	for _, id := range userIDs {
		if err := s.Delete(ctx, actor, id); err != nil {
			warnings = append(warnings, fmt.Sprintf("user %d: %v", id, err))
			continue
		}
		deleted++
	}
	return deleted, warnings
}
