package signaling

import "errors"

var (
	// ErrQueueFull means the recipient's outbound queue had no room; the
	// frame was dropped for that recipient only.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrConnectionClosed means the recipient is already gone.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnroutable is returned by Relay when the addressed user has no
	// connection in the room. Callers drop the signal.
	ErrUnroutable = errors.New("signal recipient not in room")
	// ErrMalformedEvent marks a frame that could not be decoded or lacks
	// required fields.
	ErrMalformedEvent = errors.New("malformed event")
)
