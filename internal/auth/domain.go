// Package auth handles credential verification and the login/logout
// session lifecycle.
package auth

import "time"

// User represents a user account joined with its role.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	RoleID       int64
	RoleName     string
	RolePower    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
