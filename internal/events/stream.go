package events

import "errors"

// ErrConnectionClosed is returned by a Stream once the server sent the
// stream terminator.
var ErrConnectionClosed = errors.New("connection closed by server")

// Stream is one open push subscription to a run's events.
type Stream interface {
	// Next blocks until the next event arrives. It returns
	// ErrConnectionClosed after the terminator, io.EOF when the transport
	// ended without one, or the transport error.
	Next() (Event, error)
	Close() error
}
