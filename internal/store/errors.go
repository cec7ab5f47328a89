package store

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("store is closed")

	// ErrNotSignedIn rejects intents that need a session.
	ErrNotSignedIn = errors.New("not signed in")
)

// TaskError names the dispatched task that failed.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// TaskName extracts the failing task's name, or "" when err is not a TaskError.
func TaskName(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Task
	}
	return ""
}
