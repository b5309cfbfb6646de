package chat

import "errors"

var (
	// ErrSessionNotFound is returned when an operation names a session id
	// the store does not know.
	ErrSessionNotFound = errors.New("chat: session not found")

	// ErrNoActiveSession is returned when a message operation runs before
	// the store has an active session.
	ErrNoActiveSession = errors.New("chat: no active session")
)
