// Package roles manages the role catalog and role permission sets.
package roles

import "time"

// Role represents a permission grouping with a privilege rank. Power is a
// non-negative total order proxy: higher power is strictly more
// privileged. System default roles are immutable except for the
// super-admin principal.
type Role struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	DisplayName     string    `json:"display_name"`
	Power           int       `json:"power"`
	IsSystemDefault bool      `json:"is_system_default"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,min=2"`
	DisplayName string `json:"display_name" validate:"required"`
	Power       int    `json:"power" validate:"gte=0"`
}

// UpdateRoleInput carries a partial role update; nil fields stay as-is.
type UpdateRoleInput struct {
	DisplayName *string `json:"display_name"`
	Power       *int    `json:"power"`
	IsActive    *bool   `json:"is_active"`
}
