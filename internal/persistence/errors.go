package persistence

import (
	"context"
	"errors"
	"fmt"
)

// StoreErrorKind classifies remote store failures.
type StoreErrorKind string

const (
	KindNetwork StoreErrorKind = "network"
	KindDenied  StoreErrorKind = "denied"
	KindQuota   StoreErrorKind = "quota"
	KindUnknown StoreErrorKind = "unknown"
)

var (
	ErrNetwork = errors.New("remote store unreachable")
	ErrDenied  = errors.New("remote store denied access")
	ErrQuota   = errors.New("remote store quota exceeded")
)

// StoreError wraps a failed remote put.
type StoreError struct {
	Kind  StoreErrorKind
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s store error", e.Kind)
	if e.Store != "" {
		msg = fmt.Sprintf("%s: %s", e.Store, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *StoreError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrDenied:
		return e.Kind == KindDenied
	case ErrQuota:
		return e.Kind == KindQuota
	}
	return false
}

// asStoreError normalizes any put error into a StoreError.
func asStoreError(store string, err error) *StoreError {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Store == "" {
			clone := *storeErr
			clone.Store = store
			return &clone
		}
		return storeErr
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		kind = KindNetwork
	case errors.Is(err, ErrDenied):
		kind = KindDenied
	case errors.Is(err, ErrQuota):
		kind = KindQuota
	}
	return &StoreError{Kind: kind, Store: store, Err: err}
}
