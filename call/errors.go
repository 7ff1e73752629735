package call

import "errors"

// Errors returned by Manager operations.
var (
	// ErrCallInProgress is returned when initiating while a call
	// already exists.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrNoActiveCall is returned by operations that require a live
	// call.
	ErrNoActiveCall = errors.New("no active call")

	// ErrNotRinging is returned by AcceptCall outside the incoming
	// state.
	ErrNotRinging = errors.New("no incoming call to accept")

	// ErrNoAlternateDevice is returned by FlipCamera when only one
	// camera exists.
	ErrNoAlternateDevice = errors.New("no alternate device available")
)

// errStaleActivation marks an activation discarded because the session
// was torn down or replaced while setup was in flight. Never surfaced
// to callers.
var errStaleActivation = errors.New("call activation superseded")
