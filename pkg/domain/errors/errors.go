package errors

import "errors"

// taxonomy of dispatcher-level errors.
//
// Handlers map these to HTTP status codes with errors.Is.
var (
	// the requested workload kind is not registered.
	ErrUnknownWorkload = errors.New("unknown workload kind")

	// the non-terminal instance count is at the configured ceiling.
	ErrLimitExceeded = errors.New("concurrency ceiling reached")

	// no such instance (unknown id, or purged already).
	ErrMissing = errors.New("instance not found")

	// the instance has not reached a terminal state yet.
	ErrNotReady = errors.New("instance has not finished yet")

	// result retrieval attempted before a terminal phase.
	ErrResultUnavailable = errors.New("result is not available")

	// a transition violating the instance state machine.
	// Supervision treats this as a stale observation and drops it.
	ErrInvalidStateChange = errors.New("prohibited instance state change")
)
