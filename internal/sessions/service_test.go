package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

type stubRepo struct {
	sessions map[int64]*Session
	revoked  []int64
	deleted  int64
}

func newStubRepo(list ...*Session) *stubRepo {
	repo := &stubRepo{sessions: make(map[int64]*Session)}
	for _, s := range list {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (r *stubRepo) FindActiveSessionByToken(ctx context.Context, token string) (*identity.Identity, error) {
	return nil, shared.ErrNotFound
}

func (r *stubRepo) TouchLastActive(ctx context.Context, token string, at time.Time) error {
	return nil
}

func (r *stubRepo) CreateSession(ctx context.Context, s *Session) error {
	r.sessions[s.ID] = s
	return nil
}

func (r *stubRepo) FindByToken(ctx context.Context, token string) (*Session, error) {
	for _, s := range r.sessions {
		if s.Token == token {
			return s, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *stubRepo) GetByID(ctx context.Context, id int64) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return s, nil
}

func (r *stubRepo) ListByUser(ctx context.Context, userID int64) ([]Session, error) {
	var out []Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *stubRepo) DeactivateByToken(ctx context.Context, token string) (int64, error) {
	return 1, nil
}

func (r *stubRepo) DeactivateAllForUser(ctx context.Context, userID int64) (int64, error) {
	return 1, nil
}

func (r *stubRepo) MarkRevoked(ctx context.Context, sessionID, revokedBy int64, reason string, at time.Time) error {
	r.revoked = append(r.revoked, sessionID)
	return nil
}

func (r *stubRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.deleted, nil
}

type recordingInvalidator struct {
	users []int64
}

func (r *recordingInvalidator) InvalidateAll(ctx context.Context) {}

func (r *recordingInvalidator) InvalidateUser(ctx context.Context, userID int64) {
	r.users = append(r.users, userID)
}

type recordingNotifier struct {
	sent []events.Event
}

func (r *recordingNotifier) Send(identityID int64, event events.Event) {
	r.sent = append(r.sent, event)
}

func testGuard(t *testing.T) *authz.Guard {
	t.Helper()
	catalog, err := authz.LoadCatalog(context.Background(), nil)
	require.NoError(t, err)
	return authz.NewGuard(nil, catalog, identity.NewCache(nil), "super_admin", time.Minute)
}

func TestRevokeRefusesTheCurrentSession(t *testing.T) {
	repo := newStubRepo(&Session{ID: 1, UserID: 10, Token: "current", IsActive: true})
	svc := NewService(repo, nil, testGuard(t), &recordingInvalidator{}, nil, nil)

	actor := &identity.Identity{UserID: 10, Role: "editor"}
	err := svc.Revoke(context.Background(), actor, "current", 1, "")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, repo.revoked)
}

func TestRevokeOwnOtherDeviceSession(t *testing.T) {
	repo := newStubRepo(
		&Session{ID: 1, UserID: 10, Token: "current", IsActive: true},
		&Session{ID: 2, UserID: 10, Token: "other", IsActive: true},
	)
	inv := &recordingInvalidator{}
	notifier := &recordingNotifier{}
	svc := NewService(repo, nil, testGuard(t), inv, notifier, nil)

	actor := &identity.Identity{UserID: 10, Role: "editor"}
	require.NoError(t, svc.Revoke(context.Background(), actor, "current", 2, "lost device"))
	require.Equal(t, []int64{2}, repo.revoked)
	require.Equal(t, []int64{10}, inv.users)
	require.Len(t, notifier.sent, 1)
	require.Equal(t, "session.revoked", notifier.sent[0].Type)
}

func TestRevokeForeignSessionNeedsPermission(t *testing.T) {
	repo := newStubRepo(&Session{ID: 3, UserID: 99, Token: "foreign", IsActive: true})
	svc := NewService(repo, nil, testGuard(t), &recordingInvalidator{}, nil, nil)

	plain := &identity.Identity{UserID: 10, Role: "editor"}
	err := svc.Revoke(context.Background(), plain, "current", 3, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Empty(t, repo.revoked)

	admin := &identity.Identity{
		UserID:      11,
		Role:        "admin",
		Permissions: map[string]struct{}{authz.PermSessionsRevoke: {}},
	}
	require.NoError(t, svc.Revoke(context.Background(), admin, "current", 3, "policy"))
	require.Equal(t, []int64{3}, repo.revoked)
}

func TestRevokeWithoutActorIsUnauthenticated(t *testing.T) {
	svc := NewService(newStubRepo(), nil, testGuard(t), &recordingInvalidator{}, nil, nil)
	err := svc.Revoke(context.Background(), nil, "", 1, "")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestRevokeUnknownSession(t *testing.T) {
	svc := NewService(newStubRepo(), nil, testGuard(t), &recordingInvalidator{}, nil, nil)
	actor := &identity.Identity{UserID: 10, Role: "editor"}
	err := svc.Revoke(context.Background(), actor, "current", 404, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCleanupExpiredReportsCount(t *testing.T) {
	repo := newStubRepo()
	repo.deleted = 7
	svc := NewService(repo, nil, testGuard(t), &recordingInvalidator{}, nil, nil)

	deleted, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, deleted)
}

func TestSessionUsable(t *testing.T) {
	now := time.Now()
	require.True(t, (&Session{IsActive: true, ExpiresAt: now.Add(time.Hour)}).Usable(now))
	require.False(t, (&Session{IsActive: false, ExpiresAt: now.Add(time.Hour)}).Usable(now))
	require.False(t, (&Session{IsActive: true, ExpiresAt: now}).Usable(now))
	require.False(t, (*Session)(nil).Usable(now))
}
