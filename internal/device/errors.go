package device

import "errors"

// Sentinel errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with a duplicate ID.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidCategory is returned when an unrecognised category is supplied.
	ErrInvalidCategory = errors.New("device: invalid category")
)
