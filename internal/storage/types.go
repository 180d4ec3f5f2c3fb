package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrWorkspaceExists indicates an attempt to create a second
	// workspace for a user that already has one. This is a consistency
	// violation: log loudly and require reconciliation, never auto-resolve.
	ErrWorkspaceExists = errors.New("workspace already exists for user")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)
