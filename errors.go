package courier

import "errors"

// Sentinel errors returned by Courier operations.
var (
	// ErrNoTransport is returned when a Courier is created without a transport.
	ErrNoTransport = errors.New("courier: transport is required")

	// ErrEmptyTopic is returned when publishing with an empty topic name.
	ErrEmptyTopic = errors.New("courier: topic is required")
)
