package plug

import "errors"

var (
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("plug: already connected")

	// ErrClosed is returned by Connect after Disconnect.
	ErrClosed = errors.New("plug: client closed")

	// ErrConnectionFailed wraps socket setup failures.
	ErrConnectionFailed = errors.New("plug: connection failed")

	// ErrMalformedDatagram describes a datagram that could not be decoded.
	ErrMalformedDatagram = errors.New("plug: malformed datagram")
)
