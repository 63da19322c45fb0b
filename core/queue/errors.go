package queue

import "errors"

var (
	// ErrStoreNil is returned when a component is constructed without a store.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrNoTaskToClaim is returned by ClaimNextQueuedTask when no queued task exists.
	ErrNoTaskToClaim = errors.New("no task to claim")

	// ErrTaskNotFound is returned when the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrItemNotFound is returned when the referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrTypeRequired is returned when a task is created without a type.
	ErrTypeRequired = errors.New("task type is required")

	// ErrInvalidScope is returned for an unknown purge scope.
	ErrInvalidScope = errors.New("invalid purge scope")
)
