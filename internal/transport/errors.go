package transport

import "errors"

// Platform failures are reported through these sentinels so callers can
// branch with errors.Is without knowing the underlying client.
var (
	// ErrNotFound covers unknown channels, messages, members and guilds.
	ErrNotFound = errors.New("transport: not found")
	// ErrPermissionDenied covers missing access, missing permissions and closed DMs.
	ErrPermissionDenied = errors.New("transport: permission denied")
	// ErrDeliveryFailed is any other send or fetch failure.
	ErrDeliveryFailed = errors.New("transport: delivery failed")
	// ErrValidation is raised before any network call for malformed payloads.
	ErrValidation = errors.New("transport: validation failed")
)
