// Package state holds the pieces every slice shares: the async status
// machine and the sequence tracker that discards superseded responses.
package state

// Status is the async task status of a slice or sub-resource.
type Status string

const (
	Idle      Status = "idle"
	Loading   Status = "loading"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// Settled reports whether no request is in flight.
func (s Status) Settled() bool {
	return s != Loading
}

// Restored maps a persisted status onto a fresh process. Nothing can be
// in flight after a restart, so loading becomes idle.
func (s Status) Restored() Status {
	switch s {
	case Succeeded, Failed:
		return s
	default:
		return Idle
	}
}

// ErrorText turns an intent error into the string kept in slice state.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
