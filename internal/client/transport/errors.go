package transport

import "errors"

var (
	// ErrUnknownEvent marks an event name this client does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedEvent is returned by Decode when data does not match the
	// shape its event name requires.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrClosed is returned by operations on a closed hub or bus.
	ErrClosed = errors.New("transport closed")
	// ErrNotConnected is returned when publishing while the bus is
	// reconnecting.
	ErrNotConnected = errors.New("transport not connected")
)
