package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/roles"
	"github.com/atlascms/atlas/internal/shared"
)

type stubUserRepo struct {
	users       map[int64]User
	roleChanges map[int64]int64
	statuses    map[int64]bool
	deleted     []int64
}

func newStubUserRepo(list ...User) *stubUserRepo {
	repo := &stubUserRepo{
		users:       make(map[int64]User),
		roleChanges: make(map[int64]int64),
		statuses:    make(map[int64]bool),
	}
	for _, u := range list {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *stubUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *stubUserRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *stubUserRepo) UpdateUserRole(ctx context.Context, userID, roleID int64) error {
	r.roleChanges[userID] = roleID
	return nil
}

func (r *stubUserRepo) SetUserActive(ctx context.Context, userID int64, active bool) error {
	r.statuses[userID] = active
	return nil
}

func (r *stubUserRepo) DeleteUserWithSessions(ctx context.Context, userID int64) error {
	if _, ok := r.users[userID]; !ok {
		return shared.ErrNotFound
	}
	delete(r.users, userID)
	r.deleted = append(r.deleted, userID)
	return nil
}

type stubRoleDirectory struct {
	roles  map[int64]roles.Role
	counts map[string]int
}

func (d stubRoleDirectory) GetRole(ctx context.Context, id int64) (roles.Role, error) {
	role, ok := d.roles[id]
	if !ok {
		return roles.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (d stubRoleDirectory) CountActiveRolePermissions(ctx context.Context, roleName string) (int, error) {
	return d.counts[roleName], nil
}

type recordingInvalidator struct {
	users []int64
}

func (r *recordingInvalidator) InvalidateAll(ctx context.Context) {}

func (r *recordingInvalidator) InvalidateUser(ctx context.Context, userID int64) {
	r.users = append(r.users, userID)
}

type recordingNotifier struct {
	sent map[int64][]events.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[int64][]events.Event)}
}

func (r *recordingNotifier) Send(identityID int64, event events.Event) {
	r.sent[identityID] = append(r.sent[identityID], event)
}

type stubSessionEnder struct {
	ended []int64
}

func (e *stubSessionEnder) DeactivateAllForUser(ctx context.Context, userID int64) (int64, error) {
	e.ended = append(e.ended, userID)
	return 1, nil
}

func newTestService(repo *stubUserRepo, dir stubRoleDirectory) (*Service, *recordingInvalidator, *recordingNotifier, *stubSessionEnder) {
	inv := &recordingInvalidator{}
	notifier := newRecordingNotifier()
	ender := &stubSessionEnder{}
	enforcer := authz.NewEnforcer("super_admin", nil)
	return NewService(repo, dir, ender, nil, enforcer, inv, notifier), inv, notifier, ender
}

func manager() *identity.Identity {
	return &identity.Identity{
		UserID: 1,
		Role:   "manager",
		Power:  50,
		Permissions: map[string]struct{}{
			authz.PermUsersView: {}, authz.PermUsersEdit: {}, authz.PermRolesAssign: {},
		},
	}
}

func TestAssignRoleNotifiesAndInvalidates(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5, Email: "e@example.com", IsActive: true})
	dir := stubRoleDirectory{
		roles:  map[int64]roles.Role{2: {ID: 2, Name: "viewer", Power: 10}},
		counts: map[string]int{"viewer": 1},
	}
	svc, inv, notifier, _ := newTestService(repo, dir)

	require.NoError(t, svc.AssignRole(context.Background(), manager(), 5, 2))
	require.EqualValues(t, 2, repo.roleChanges[5])
	require.Equal(t, []int64{5}, inv.users)
	require.Len(t, notifier.sent[5], 1)
	require.Equal(t, "permissions.changed", notifier.sent[5][0].Type)
}

func TestAssignRoleToSelfIsBlocked(t *testing.T) {
	repo := newStubUserRepo(User{ID: 1})
	dir := stubRoleDirectory{roles: map[int64]roles.Role{2: {ID: 2, Name: "viewer"}}}
	svc, _, _, _ := newTestService(repo, dir)

	err := svc.AssignRole(context.Background(), manager(), 1, 2)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Empty(t, repo.roleChanges)
}

func TestAssignSuperAdminRoleIsBlocked(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5})
	dir := stubRoleDirectory{roles: map[int64]roles.Role{9: {ID: 9, Name: "super_admin", Power: 100}}}
	svc, _, _, _ := newTestService(repo, dir)

	err := svc.AssignRole(context.Background(), manager(), 5, 9)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAssignBroaderRoleIsBlocked(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5})
	dir := stubRoleDirectory{
		roles:  map[int64]roles.Role{3: {ID: 3, Name: "admin", Power: 40}},
		counts: map[string]int{"admin": 3},
	}
	svc, _, _, _ := newTestService(repo, dir)

	// The actor holds three permissions; a role carrying three is too
	// broad to hand out.
	err := svc.AssignRole(context.Background(), manager(), 5, 3)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeactivationEndsSessionsRevokesAndNotifies(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5, IsActive: true})
	svc, inv, notifier, ender := newTestService(repo, stubRoleDirectory{})

	require.NoError(t, svc.SetActive(context.Background(), manager(), 5, false))
	require.False(t, repo.statuses[5])
	require.Equal(t, []int64{5}, ender.ended)
	require.Equal(t, []int64{5}, inv.users)
	require.Equal(t, "session.revoked", notifier.sent[5][0].Type)
}

func TestReactivationDoesNotNotifyOrEndSessions(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5, IsActive: false})
	svc, _, notifier, ender := newTestService(repo, stubRoleDirectory{})

	require.NoError(t, svc.SetActive(context.Background(), manager(), 5, true))
	require.Empty(t, notifier.sent[5])
	require.Empty(t, ender.ended)
}

func TestDeleteRemovesUserAndSessions(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5})
	svc, inv, _, _ := newTestService(repo, stubRoleDirectory{})

	require.NoError(t, svc.Delete(context.Background(), manager(), 5))
	require.Equal(t, []int64{5}, repo.deleted)
	require.Equal(t, []int64{5}, inv.users)
}

func TestBulkDeleteReportsPerItemWarnings(t *testing.T) {
	repo := newStubUserRepo(User{ID: 5}, User{ID: 6})
	svc, _, _, _ := newTestService(repo, stubRoleDirectory{})

	actor := manager()
	deleted, warnings := svc.BulkDelete(context.Background(), actor, []int64{5, actor.UserID, 404, 6})
	require.Equal(t, 2, deleted)
	require.Len(t, warnings, 2)
}
