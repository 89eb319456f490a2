// Package sync keeps one client's view of a room consistent with the
// backend: a sequencer de-duplicates and gap-checks the event stream, a
// reconciler turns events into diffs, a store holds the projection, and a
// dispatcher sends admin actions with optimistic local application.
package sync

import "errors"

var (
	// ErrPermissionDenied rejects a mutating action from a non-admin
	// before any network call is made.
	ErrPermissionDenied = errors.New("permission denied: admin-only action")

	// ErrActionRejected means the backend refused the action; the
	// optimistic update has been rolled back.
	ErrActionRejected = errors.New("action rejected by backend")

	// ErrActionTimeout means no confirming event arrived in time; the
	// optimistic update has been rolled back.
	ErrActionTimeout = errors.New("timed out waiting for action confirmation")

	// ErrSessionClosed fails calls made after the room session was torn down.
	ErrSessionClosed = errors.New("room session closed")

	// ErrNoRoom means the store has not been primed with a snapshot yet.
	ErrNoRoom = errors.New("no room state loaded")
)
