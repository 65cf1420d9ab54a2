package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can sign in and take part in document workflows.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Role is a user's organisational role.
type Role string

const (
	RolePersonnel          Role = "personnel"
	RoleSupervisor         Role = "supervisor"
	RoleUnitCommander      Role = "unit_commander"
	RoleProvincialDirector Role = "provincial_director"
	RoleAdmin              Role = "admin"
)

// ValidRoles contains all valid role values.
var ValidRoles = []Role{
	RolePersonnel,
	RoleSupervisor,
	RoleUnitCommander,
	RoleProvincialDirector,
	RoleAdmin,
}

// IsValidRole checks if the given role is valid.
func IsValidRole(role Role) bool {
	_, ok := roleCapabilities[role]
	return ok
}

// RoleCapabilities is what a role may do in the approval workflow.
type RoleCapabilities struct {
	// IsAuthority marks roles that can hold approval stages.
	IsAuthority bool
	// AuthorityRank orders authorities (supervisor < unit_commander < provincial_director).
	AuthorityRank int
	// CanAssignAny allows assigning any active stage regardless of required role.
	CanAssignAny bool
	// CanManageUsers allows creating accounts.
	CanManageUsers bool
}

var roleCapabilities = map[Role]RoleCapabilities{
	RolePersonnel:          {},
	RoleSupervisor:         {IsAuthority: true, AuthorityRank: 1},
	RoleUnitCommander:      {IsAuthority: true, AuthorityRank: 2},
	RoleProvincialDirector: {IsAuthority: true, AuthorityRank: 3},
	RoleAdmin:              {CanAssignAny: true, CanManageUsers: true},
}

// Capabilities returns the capability record for the role. Unknown roles have none.
func (r Role) Capabilities() RoleCapabilities {
	return roleCapabilities[r]
}

// Satisfies reports whether a user with this role can hold a stage that requires required.
// The role must equal the requirement, or the requirement is the generic authority
// and the role is an authority.
func (r Role) Satisfies(required RequiredRole) bool {
	if !IsValidRequiredRole(required) {
		return false
	}
	if required == RequiredRoleAuthority {
		return r.Capabilities().IsAuthority
	}
	return string(r) == string(required)
}

// Outranks reports whether this role is an authority of at least the rank the
// requirement demands. Used for escalated assignment.
func (r Role) Outranks(required RequiredRole) bool {
	caps := r.Capabilities()
	return caps.IsAuthority && IsValidRequiredRole(required) && caps.AuthorityRank >= required.Rank()
}
