package security

import "errors"

// ErrInvalidTransition is matched by every rejected transition.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports why a transition was rejected. Code is stable
// and safe to hand to clients.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string { return e.Message }

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var (
	ErrAlreadyArmed     = &TransitionError{Code: "already_armed", Message: "system already armed"}
	ErrNotArmed         = &TransitionError{Code: "not_armed", Message: "system not armed"}
	ErrNotBreached      = &TransitionError{Code: "not_breached", Message: "system not breached"}
	ErrAlreadyBreached  = &TransitionError{Code: "already_breached", Message: "system already breached"}
	ErrAlreadyStreaming = &TransitionError{Code: "already_streaming", Message: "camera already streaming"}
	ErrNotStreaming     = &TransitionError{Code: "not_streaming", Message: "camera not streaming"}
)

var (
	// ErrClosed is returned by transitions after Close.
	ErrClosed = errors.New("security machine closed")

	// ErrHardwareUnavailable marks a missing or unusable hardware
	// collaborator. It is logged and never blocks a transition.
	ErrHardwareUnavailable = errors.New("hardware unavailable")

	// ErrSensorRead marks a transient sensor or camera read failure.
	ErrSensorRead = errors.New("sensor read failed")

	// ErrPersistence is returned by ConfigStore implementations.
	ErrPersistence = errors.New("persistence failure")
)
