package reading

import "errors"

// Sentinel errors for reading operations.
var (
	// ErrInvalidRange is returned when a query's from timestamp is after to.
	ErrInvalidRange = errors.New("reading: from must not be after to")
)
