package domain

import "errors"

var (
	// ErrNotFound indicates an unknown record id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness conflict on insert.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTransition indicates a state precondition was violated.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrMetadataTimeout indicates the engine exceeded its metadata deadline.
	ErrMetadataTimeout = errors.New("metadata fetch timed out")
)
