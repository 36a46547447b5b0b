// Package authz holds the permission catalog, the request guard and the
// role hierarchy enforcer.
package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Core control-plane permissions. The full catalog is admin-managed and
// loaded from the store at boot; these are the names the control plane
// itself guards with.
const (
	PermUsersView      = "users.view"
	PermUsersEdit      = "users.edit"
	PermUsersDelete    = "users.delete"
	PermRolesView      = "roles.view"
	PermRolesEdit      = "roles.edit"
	PermRolesAssign    = "roles.assign"
	PermSessionsView   = "sessions.view"
	PermSessionsRevoke = "sessions.revoke"
	PermCacheManage    = "cache.manage"
)

// CoreScopes lists the permissions the control plane registers on its own
// routes.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermUsersDelete,
		PermRolesView,
		PermRolesEdit,
		PermRolesAssign,
		PermSessionsView,
		PermSessionsRevoke,
		PermCacheManage,
	}
}

// CatalogStore loads the admin-managed permission names.
type CatalogStore interface {
	ListPermissionNames(ctx context.Context) ([]string, error)
}

// Catalog is the closed enumeration of known permission names. Guard
// registration rejects names outside it, so a typo in a route guard fails
// at wiring time instead of silently denying forever.
type Catalog struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// LoadCatalog builds the catalog from the store plus the core scopes.
func LoadCatalog(ctx context.Context, store CatalogStore) (*Catalog, error) {
	names := make(map[string]struct{})
	for _, name := range CoreScopes() {
		names[name] = struct{}{}
	}
	if store != nil {
		stored, err := store.ListPermissionNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("authz: load permission catalog: %w", err)
		}
		for _, name := range stored {
			if name != "" {
				names[name] = struct{}{}
			}
		}
	}
	return &Catalog{names: names}, nil
}

// Known reports whether name is part of the catalog.
func (c *Catalog) Known(name string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}

// Register adds a permission name at runtime, used when an admin creates a
// new catalog entry.
func (c *Catalog) Register(name string) {
	if c == nil || name == "" {
		return
	}
	c.mu.Lock()
	c.names[name] = struct{}{}
	c.mu.Unlock()
}

// Names returns the catalog sorted for stable listings.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.names))
	for name := range c.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
