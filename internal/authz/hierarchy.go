package authz

import (
	"log/slog"

	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/shared"
)

// Rule names carried in Forbidden decisions for audit logging.
const (
	RuleModifyHigherRole      = "cannotModifyHigherOrEqualRole"
	RuleSetPowerHigherThanOwn = "cannotSetPowerHigherThanOwn"
	RuleEditSystemDefaultRole = "cannotEditSystemDefaultRole"
	RuleAssignSuperAdmin      = "cannotAssignSuperAdminRole"
	RuleAssignBroaderRole     = "cannotAssignBroaderRole"
	RuleModifySelf            = "cannotModifyOwnAccount"
)

// RuleViolation is the structured Forbidden decision: it names the exact
// rule that failed and matches shared.ErrForbidden under errors.Is.
type RuleViolation struct {
	Rule string
}

func (e *RuleViolation) Error() string {
	return "forbidden: " + e.Rule
}

// Is lets errors.Is(err, shared.ErrForbidden) succeed on violations.
func (e *RuleViolation) Is(target error) bool {
	return target == shared.ErrForbidden
}

// RoleRef is the slice of a role the enforcer compares against.
type RoleRef struct {
	ID              int64
	Name            string
	Power           int
	IsSystemDefault bool
	PermissionCount int
}

// Enforcer encodes the power ordering between roles and blocks
// privilege-escalation mutations.
type Enforcer struct {
	superRole string
	logger    *slog.Logger
}

// NewEnforcer constructs an Enforcer.
func NewEnforcer(superRole string, logger *slog.Logger) *Enforcer {
	return &Enforcer{superRole: superRole, logger: logger}
}

func (e *Enforcer) isSuper(actor *identity.Identity) bool {
	return actor != nil && e.superRole != "" && actor.Role == e.superRole
}

func (e *Enforcer) deny(actor *identity.Identity, rule string) error {
	if e.logger != nil {
		var userID int64
		if actor != nil {
			userID = actor.UserID
		}
		e.logger.Warn("hierarchy rule violated",
			slog.Int64("actor_id", userID),
			slog.String("rule", rule))
	}
	return &RuleViolation{Rule: rule}
}

// CanModifyRole decides whether actor may edit target, optionally setting
// its power to proposedPower. Nil means allowed.
func (e *Enforcer) CanModifyRole(actor *identity.Identity, target RoleRef, proposedPower *int) error {
	if e.isSuper(actor) {
		return nil
	}
	if actor == nil {
		return e.deny(actor, RuleModifyHigherRole)
	}
	if target.IsSystemDefault {
		return e.deny(actor, RuleEditSystemDefaultRole)
	}
	if target.Power >= actor.Power {
		return e.deny(actor, RuleModifyHigherRole)
	}
	if proposedPower != nil && *proposedPower >= actor.Power {
		return e.deny(actor, RuleSetPowerHigherThanOwn)
	}
	return nil
}

// CanCreateRole decides whether actor may create a role with the proposed
// power.
func (e *Enforcer) CanCreateRole(actor *identity.Identity, proposedPower int) error {
	if e.isSuper(actor) {
		return nil
	}
	if actor == nil || proposedPower >= actor.Power {
		return e.deny(actor, RuleSetPowerHigherThanOwn)
	}
	return nil
}

// CanAssignRole decides whether actor may hand out role. The permission
// count comparison is the power proxy used when numeric power is not
// denormalized onto the assignment path.
func (e *Enforcer) CanAssignRole(actor *identity.Identity, role RoleRef) error {
	if e.isSuper(actor) {
		return nil
	}
	if actor == nil {
		return e.deny(actor, RuleAssignBroaderRole)
	}
	if e.superRole != "" && role.Name == e.superRole {
		return e.deny(actor, RuleAssignSuperAdmin)
	}
	if role.PermissionCount >= actor.PermissionCount() {
		return e.deny(actor, RuleAssignBroaderRole)
	}
	return nil
}

// CanToggleUserStatus decides whether actor may activate, deactivate or
// delete the target account. The self guard holds for every actor,
// super-admin included: this path exists for managing other accounts.
func (e *Enforcer) CanToggleUserStatus(actor *identity.Identity, targetUserID int64) error {
	if actor != nil && actor.UserID == targetUserID {
		return e.deny(actor, RuleModifySelf)
	}
	if e.isSuper(actor) {
		return nil
	}
	if actor == nil {
		return e.deny(actor, RuleModifySelf)
	}
	return nil
}
