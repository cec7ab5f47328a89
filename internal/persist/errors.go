package persist

import (
	"errors"
	"fmt"
)

// Common backend errors.
var (
	// ErrNotFound indicates nothing is stored under the key.
	ErrNotFound = errors.New("key not found")

	// ErrConnection indicates a connection problem with the backing store.
	ErrConnection = errors.New("state store connection error")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("state store is closed")

	// ErrSealed indicates a stored value could not be unsealed, or a sealed
	// value was read without a key.
	ErrSealed = errors.New("sealed state unreadable")

	// ErrUnknownBackend indicates an unsupported KOTOSHOP_STATE_BACKEND.
	ErrUnknownBackend = errors.New("unknown state backend")
)

// NotFoundError wraps ErrNotFound with the key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("state not found: %s", e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(key string) error {
	return &NotFoundError{Key: key}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}
