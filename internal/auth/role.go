package auth

import (
	"fmt"
	"strings"
)

// Role selects which portal panel an actor gets.
type Role string

const (
	RoleCitizen       Role = "citizen"
	RoleOfficer       Role = "officer"
	RoleAdministrator Role = "administrator"
)

var roleAliases = map[string]Role{
	"citizen":       RoleCitizen,
	"officer":       RoleOfficer,
	"administrator": RoleAdministrator,
	"admin":         RoleAdministrator,
}

// ParseRole normalizes a role name. "Admin" is accepted for Administrator.
func ParseRole(raw string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role, ok := roleAliases[key]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Valid reports whether r is one of the portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleAdministrator:
		return true
	}
	return false
}

// Label is the display form used in greetings ("Welcome, ram (Citizen)").
func (r Role) Label() string {
	switch r {
	case RoleCitizen:
		return "Citizen"
	case RoleOfficer:
		return "Officer"
	case RoleAdministrator:
		return "Administrator"
	}
	return string(r)
}
