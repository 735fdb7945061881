package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: not signed in")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrInvalidToken    = errors.New("auth: invalid token")

	// ErrUnknownRole is returned for roles outside the three portal roles.
	ErrUnknownRole = fmt.Errorf("%w: unknown role", ErrInvalidInput)
)
