package types

import (
	"errors"
	"fmt"
)

// Domain errors. Every failure surfaced by the engine wraps exactly one of these
// so callers can branch with errors.Is.
var (
	// ErrNotFound means a referenced entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not legal in the aggregate's current state
	ErrInvalidState = errors.New("invalid state")
	// ErrOutOfStock means a reservation asked for more units than are left
	ErrOutOfStock = errors.New("out of stock")
	// ErrAccessDenied means the actor has no rights over the targeted aggregate
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation means the input is malformed (e.g. non-positive quantity)
	ErrValidation = errors.New("validation error")
)

// Kind is the stable category of a domain error
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindOutOfStock   Kind = "out_of_stock"
	KindAccessDenied Kind = "access_denied"
	KindValidation   Kind = "validation"
	KindInternal     Kind = "internal"
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindNotFound, ErrNotFound},
	{KindInvalidState, ErrInvalidState},
	{KindOutOfStock, ErrOutOfStock},
	{KindAccessDenied, ErrAccessDenied},
	{KindValidation, ErrValidation},
}

// Error carries the operation and a human-readable message around a domain sentinel
type Error struct {
	Op      string // Operation that failed (e.g., "cart.AddItem")
	Message string
	Err     error // One of the sentinels above
}

// Error returns the string representation of the error
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Message)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the sentinel for use with errors.Is/As
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a domain error for op wrapping sentinel
func Errorf(op string, sentinel error, format string, args ...interface{}) error {
	return &Error{
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

// KindOf classifies err. Errors that wrap no domain sentinel are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindInternal
}

// IsBusinessRejection reports whether err is a rule rejection rather than a
// missing entity or a system failure.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrOutOfStock)
}
