package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates that another mutation holds the deployment.
	// Callers may retry after backoff.
	ErrConflict = errors.New("conflict")

	// ErrResourceExhausted indicates that the pod runtime has no capacity
	// left for another slot.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrFailed indicates a terminal operation-level failure. The
	// deployment is left in [DeploymentStateFailed] with whatever slots
	// converged.
	ErrFailed = errors.New("operation failed")
)
