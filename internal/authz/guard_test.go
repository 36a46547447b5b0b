package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlascms/atlas/internal/identity"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := LoadCatalog(context.Background(), nil)
	require.NoError(t, err)
	return catalog
}

func TestAllowSuperAdminBypassesPermissionSet(t *testing.T) {
	guard := NewGuard(nil, testCatalog(t), identity.NewCache(nil), "super_admin", time.Minute)

	// Empty permission set: only the role name matters.
	super := &identity.Identity{UserID: 1, Role: "super_admin", IsActive: true}
	require.True(t, guard.Allow(context.Background(), super, PermUsersDelete))

	// A power-100 role with a different name gets no bypass.
	nearSuper := &identity.Identity{UserID: 2, Role: "owner", Power: 100, IsActive: true}
	require.False(t, guard.Allow(context.Background(), nearSuper, PermUsersDelete))
}

func TestAllowIsExactSetMembership(t *testing.T) {
	guard := NewGuard(nil, testCatalog(t), identity.NewCache(nil), "super_admin", time.Minute)
	id := &identity.Identity{
		UserID:      3,
		Role:        "editor",
		Permissions: map[string]struct{}{PermUsersView: {}},
	}

	require.True(t, guard.Allow(context.Background(), id, PermUsersView))
	require.False(t, guard.Allow(context.Background(), id, PermUsersEdit))
	require.False(t, guard.Allow(context.Background(), nil, PermUsersView))
}

func TestAllowCachesDecisionsPerUser(t *testing.T) {
	cache := identity.NewCache(nil)
	guard := NewGuard(nil, testCatalog(t), cache, "super_admin", time.Minute)
	id := &identity.Identity{
		UserID:      4,
		Role:        "editor",
		Permissions: map[string]struct{}{PermUsersView: {}},
	}

	require.True(t, guard.Allow(context.Background(), id, PermUsersView))
	_, ok := cache.Get(identity.DecisionKey(4, PermUsersView))
	require.True(t, ok)

	cache.InvalidateUser(4)
	_, ok = cache.Get(identity.DecisionKey(4, PermUsersView))
	require.False(t, ok)
}

func TestRequirePermissionRejectsUnknownNameAtWiring(t *testing.T) {
	guard := NewGuard(nil, testCatalog(t), identity.NewCache(nil), "super_admin", time.Minute)
	require.Panics(t, func() {
		guard.RequirePermission("users.vew")
	})
}

func TestRequirePermissionMiddleware(t *testing.T) {
	guard := NewGuard(nil, testCatalog(t), identity.NewCache(nil), "super_admin", time.Minute)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := guard.RequirePermission(PermRolesEdit)(next)

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("missing permission", func(t *testing.T) {
		id := &identity.Identity{UserID: 5, Role: "viewer", Permissions: map[string]struct{}{PermRolesView: {}}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(identity.ContextWith(req.Context(), id))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Body.String(), PermRolesEdit)
	})

	t.Run("granted", func(t *testing.T) {
		id := &identity.Identity{UserID: 6, Role: "editor", Permissions: map[string]struct{}{PermRolesEdit: {}}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(identity.ContextWith(req.Context(), id))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
