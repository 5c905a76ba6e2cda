package models

import "strings"

// Roles understood by the portal's view gating.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Roles lists the closed set of roles a user can sign up with.
var Roles = []string{RoleUser, RoleModerator, RoleAdmin}

// User is the identity returned by the API on login or signup.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// IsValidRole reports whether role belongs to the closed role set.
func IsValidRole(role string) bool {
	for _, r := range Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasRole reports whether the user satisfies required. An empty requirement
// is always satisfied and adminRole satisfies any requirement.
func (u *User) HasRole(required, adminRole string) bool {
	if required == "" {
		return true
	}
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Role, required) || strings.EqualFold(u.Role, adminRole)
}
