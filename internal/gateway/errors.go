package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes surfaced to callers. Every error returned by the gateway
// matches exactly one of ErrTransport, ErrMalformed or ErrStatus; a 401
// additionally matches ErrUnauthorized.
var (
	// ErrTransport indicates no response was received.
	ErrTransport = errors.New("transport error")

	// ErrMalformed indicates a 2xx response whose body could not be decoded.
	ErrMalformed = errors.New("malformed response")

	// ErrStatus indicates a non-2xx response.
	ErrStatus = errors.New("unexpected status")

	// ErrUnauthorized indicates a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

func (e *APIError) Unwrap() []error {
	if e.Status == http.StatusUnauthorized {
		return []error{ErrStatus, ErrUnauthorized}
	}
	return []error{ErrStatus}
}

// IsUnauthorized checks if err is a 401 response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransport checks if err is a network failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Message returns the server-provided message of err when there is one,
// otherwise err.Error().
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
