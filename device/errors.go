package device

import "errors"

// Sentinel errors for device acquisition. Callers classify failures
// with errors.Is to decide what to surface to the user.
var (
	// ErrPermissionDenied indicates the user refused device access.
	ErrPermissionDenied = errors.New("media device permission denied")

	// ErrUnsupportedEnvironment indicates the platform has no media
	// device APIs (for example an insecure context).
	ErrUnsupportedEnvironment = errors.New("media devices unavailable in this environment")

	// ErrNoDevice indicates no device of the requested kind exists.
	ErrNoDevice = errors.New("no matching media device")

	// ErrTrackStopped indicates a read from a stopped track.
	ErrTrackStopped = errors.New("track is stopped")
)
