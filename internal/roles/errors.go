package roles

import "errors"

var (
	// ErrInvalidMAC is returned when a role update carries no device identity.
	ErrInvalidMAC = errors.New("roles: missing mac")

	// ErrNotLoaded is returned when the store is used before Load.
	ErrNotLoaded = errors.New("roles: not loaded")
)
