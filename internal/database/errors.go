package database

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when a versioned update finds the
	// row already changed by another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAlreadyExists is returned on unique-constraint violations, e.g. a
	// second payment submitted for the same booking.
	ErrAlreadyExists = errors.New("record already exists")
)
