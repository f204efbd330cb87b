package discovery

import "errors"

var (
	// ErrUnresolved is returned when a service record lacks an identity or
	// a usable address.
	ErrUnresolved = errors.New("discovery: unresolved service")

	// ErrClosed is returned by operations on a closed Adapter.
	ErrClosed = errors.New("discovery: adapter closed")
)
