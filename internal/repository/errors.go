package repository

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates input rejected by a constraint or validation.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrConflict indicates a uniqueness constraint among active rows was violated.
	ErrConflict = errors.New("repository: conflict")
)
