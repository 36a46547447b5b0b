// Package identity resolves opaque session tokens to identity snapshots
// and caches the results.
package identity

// Identity is the resolved, read-only snapshot of who is making a request
// and what they may do. Built by joining user, role and allowed role
// permissions. A stale Identity is discarded and re-resolved, never
// patched in place.
type Identity struct {
	UserID      int64
	Email       string
	IsActive    bool
	RoleID      int64
	Role        string
	Power       int
	Permissions map[string]struct{}
}

// HasPermission reports whether the identity carries the named permission.
// No wildcard or prefix expansion happens here.
func (id *Identity) HasPermission(name string) bool {
	if id == nil {
		return false
	}
	_, ok := id.Permissions[name]
	return ok
}

// PermissionCount returns the size of the effective permission set, used
// as a power proxy when comparing roles.
func (id *Identity) PermissionCount() int {
	if id == nil {
		return 0
	}
	return len(id.Permissions)
}
