package auth

import (
	"fmt"
	"strings"
	"time"
)

// Actor is the signed-in user of a session.
type Actor struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// NewActor validates the username and role of a login attempt.
func NewActor(username string, role Role) (Actor, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Actor{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return Actor{}, fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	return Actor{Username: username, Role: role}, nil
}

// Capabilities resolves the actor's permission set.
func (a Actor) Capabilities() Capabilities { return CapabilitiesFor(a.Role) }

// Can reports whether the actor's role grants p.
func (a Actor) Can(p Permission) bool { return a.Capabilities().Has(p) }

// Require fails with ErrUnauthorized unless the actor's role grants p.
func Require(a Actor, p Permission) error {
	if a.Can(p) {
		return nil
	}
	return fmt.Errorf("%w: role %q may not %s", ErrUnauthorized, a.Role, p)
}

// Principal is an authenticated actor bound to its session.
type Principal struct {
	Actor     Actor
	SessionID string
	ExpiresAt time.Time
}
