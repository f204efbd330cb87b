package dispatcher

import "errors"

var (
	// ErrClosed is returned by operations after Shutdown.
	ErrClosed = errors.New("dispatcher: closed")

	// ErrAlreadyLive is returned when connecting an identity that already
	// has a live connection. Callers must disconnect first.
	ErrAlreadyLive = errors.New("dispatcher: connection already live")

	// ErrInvalidRecord is returned for discovery records without identity
	// or host.
	ErrInvalidRecord = errors.New("dispatcher: invalid discovery record")

	// ErrMissingBus is returned by New without a bus.
	ErrMissingBus = errors.New("dispatcher: bus is required")

	// ErrMissingClientFactory is returned by New without a client factory.
	ErrMissingClientFactory = errors.New("dispatcher: client factory is required")
)
