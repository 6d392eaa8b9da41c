package controllers

import "github.com/zaqqye/clubhub_backend/internal/models"

var allowedRoles = map[string]struct{}{
	models.RoleSuperAdmin: {},
	models.RoleAdmin:      {},
	models.RoleMember:     {},
}

func IsValidRole(role string) bool {
	_, ok := allowedRoles[role]
	return ok
}

// canAssignRole reports whether actor may give role to a user. Club admins
// manage admins and members of their own club only.
func canAssignRole(actor models.User, role string) bool {
	if !IsValidRole(role) {
		return false
	}
	if actor.Role == models.RoleSuperAdmin {
		return true
	}
	return actor.Role == models.RoleAdmin && role != models.RoleSuperAdmin
}
