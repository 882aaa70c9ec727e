package broker

import "errors"

// Sentinel errors for broker registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBrokerNotFound is returned when a broker does not exist.
	ErrBrokerNotFound = errors.New("broker: not found")

	// ErrBrokerExists is returned when creating a broker with a duplicate name.
	ErrBrokerExists = errors.New("broker: already exists")

	// ErrBrokerProtected is returned when deleting a built-in broker.
	ErrBrokerProtected = errors.New("broker: built-in broker cannot be deleted")

	// ErrManagerClosed is returned for operations on a closed connection manager.
	ErrManagerClosed = errors.New("broker: connection manager closed")
)
