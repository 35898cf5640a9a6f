package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable reports a source that was denied, missing, busy,
	// or already released.
	ErrSourceUnavailable = errors.New("capture source unavailable")
	// ErrEncodingUnsupported reports that no encoding in the fallback chain
	// could be started.
	ErrEncodingUnsupported = errors.New("no supported encoding")
	// ErrSourceRevoked reports that the system ended a source mid-recording.
	ErrSourceRevoked = errors.New("capture source revoked")
	// ErrPipelineStarted is returned by Start on a pipeline that already ran.
	ErrPipelineStarted = errors.New("pipeline already started")
)

// Error carries a capture failure together with the source it concerns.
type Error struct {
	Kind   error
	Source Kind
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.Error()
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's Kind so callers can use errors.Is with the sentinels.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func unavailable(source Kind, format string, args ...any) error {
	return &Error{Kind: ErrSourceUnavailable, Source: source, Err: fmt.Errorf(format, args...)}
}
