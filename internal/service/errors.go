package service

import "errors"

// Sentinel error kinds surfaced by the service layer. Handlers map these to
// stable external codes; everything else is an internal error.
var (
	// ErrInvalidArgument covers requests failing static validation: bad
	// syntax, forbidden flags, verbs outside policy, oversized payloads.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownCluster is returned when no executor token is registered for
	// the requested cluster id.
	ErrUnknownCluster = errors.New("unknown cluster")

	// ErrNotFound covers missing capability records and revocations of
	// clusters that were never registered.
	ErrNotFound = errors.New("not found")

	// ErrUnknownCommand is returned when a result references a command id
	// that was never dispatched or whose window has passed.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDuplicateResult is returned when a result slot was already written
	// for the command id. Only the first delivery wins.
	ErrDuplicateResult = errors.New("duplicate result")

	// ErrResultTooLarge is returned when a result output exceeds the
	// configured cap.
	ErrResultTooLarge = errors.New("result output too large")

	// ErrUnavailable indicates the bus is unreachable or failing fast.
	ErrUnavailable = errors.New("bus unavailable")
)
