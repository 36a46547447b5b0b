package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

// Notifier pushes admin-facing notifications.
type Notifier interface {
	BroadcastAdmins(event events.Event)
}

// Service orchestrates role mutations behind the hierarchy enforcer.
// Every permission-affecting mutation invalidates the cache before it
// reports success; the fan-out from a role to its members is unknown here,
// so the coarse full invalidation is used.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	enforcer    *authz.Enforcer
	catalog     *authz.Catalog
	invalidator identity.Invalidator
	notifier    Notifier
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger, enforcer *authz.Enforcer, catalog *authz.Catalog, invalidator identity.Invalidator, notifier Notifier) *Service {
	return &Service{repo: repo, logger: logger, enforcer: enforcer, catalog: catalog, invalidator: invalidator, notifier: notifier}
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// RoleRef converts a role into the enforcer's comparison slice.
func (s *Service) RoleRef(ctx context.Context, role Role) (authz.RoleRef, error) {
	count, err := s.repo.CountActiveRolePermissions(ctx, role.Name)
	if err != nil {
		return authz.RoleRef{}, err
	}
	return authz.RoleRef{
		ID:              role.ID,
		Name:            role.Name,
		Power:           role.Power,
		IsSystemDefault: role.IsSystemDefault,
		PermissionCount: count,
	}, nil
}

// Create inserts a new role below the actor's own power.
func (s *Service) Create(ctx context.Context, actor *identity.Identity, input CreateRoleInput) (Role, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.Name == "" || input.DisplayName == "" {
		return Role{}, fmt.Errorf("%w: name and display name required", shared.ErrConflict)
	}
	if err := s.enforcer.CanCreateRole(actor, input.Power); err != nil {
		return Role{}, err
	}
	created, err := s.repo.CreateRole(ctx, Role{
		Name:        input.Name,
		DisplayName: input.DisplayName,
		Power:       input.Power,
	})
	if err != nil {
		return Role{}, err
	}
	s.broadcast("role.created", created)
	return created, nil
}

// Update applies a partial update behind the hierarchy rules.
func (s *Service) Update(ctx context.Context, actor *identity.Identity, id int64, input UpdateRoleInput) (Role, error) {
	target, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	ref := authz.RoleRef{ID: target.ID, Name: target.Name, Power: target.Power, IsSystemDefault: target.IsSystemDefault}
	if err := s.enforcer.CanModifyRole(actor, ref, input.Power); err != nil {
		return Role{}, err
	}

	if input.DisplayName != nil {
		target.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Power != nil {
		target.Power = *input.Power
	}
	if input.IsActive != nil {
		target.IsActive = *input.IsActive
	}

	updated, err := s.repo.UpdateRole(ctx, target)
	if err != nil {
		return Role{}, err
	}

	// Power or activity changes affect an unknown set of members.
	s.invalidator.InvalidateAll(ctx)
	s.broadcast("role.updated", updated)
	return updated, nil
}

// Delete removes a role behind the hierarchy rules.
func (s *Service) Delete(ctx context.Context, actor *identity.Identity, id int64) error {
	target, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	ref := authz.RoleRef{ID: target.ID, Name: target.Name, Power: target.Power, IsSystemDefault: target.IsSystemDefault}
	if err := s.enforcer.CanModifyRole(actor, ref, nil); err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidator.InvalidateAll(ctx)
	s.broadcast("role.deleted", target)
	return nil
}

// SetPermissions replaces the role's permission set. Names outside the
// catalog are rejected.
func (s *Service) SetPermissions(ctx context.Context, actor *identity.Identity, id int64, permissions []string) error {
	target, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	ref := authz.RoleRef{ID: target.ID, Name: target.Name, Power: target.Power, IsSystemDefault: target.IsSystemDefault}
	if err := s.enforcer.CanModifyRole(actor, ref, nil); err != nil {
		return err
	}
	for _, name := range permissions {
		if !s.catalog.Known(name) {
			return fmt.Errorf("%w: unknown permission %q", shared.ErrNotFound, name)
		}
	}
	if err := s.repo.SetRolePermissions(ctx, target.Name, permissions); err != nil {
		return err
	}

	s.invalidator.InvalidateAll(ctx)
	s.notifyPermissionsChanged(target)
	return nil
}

// RegisterPermission adds a new name to the admin-managed catalog.
func (s *Service) RegisterPermission(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: permission name required", shared.ErrConflict)
	}
	if err := s.repo.EnsurePermission(ctx, name); err != nil {
		return err
	}
	s.catalog.Register(name)
	return nil
}

// PermissionNames lists the catalog.
func (s *Service) PermissionNames() []string {
	return s.catalog.Names()
}

func (s *Service) broadcast(eventType string, role Role) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastAdmins(events.Event{
		Type:   eventType,
		Fields: map[string]any{"role_id": role.ID, "name": role.Name},
	})
}

func (s *Service) notifyPermissionsChanged(role Role) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastAdmins(events.Event{
		Type:   "permissions.changed",
		Fields: map[string]any{"role": role.Name},
	})
	if s.logger != nil {
		s.logger.Info("role permissions replaced", slog.String("role", role.Name))
	}
}
