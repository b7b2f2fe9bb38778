package tool

import "errors"

var (
	// ErrNotFound is returned when a tool is not registered.
	ErrNotFound = errors.New("tool not found")

	// ErrNameEmpty is returned when a definition has no name.
	ErrNameEmpty = errors.New("tool name cannot be empty")

	// ErrExecuteNil is returned when a definition has no implementation.
	ErrExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrAlreadyRegistered is returned when registering a duplicate name.
	// Re-registration is rejected, never silently replaced.
	ErrAlreadyRegistered = errors.New("tool already registered")

	// ErrRegistryFrozen is returned when registering after startup.
	ErrRegistryFrozen = errors.New("tool registry is frozen")

	// ErrMissingRequiredArg is returned when a required argument is absent.
	ErrMissingRequiredArg = errors.New("missing required argument")
)
