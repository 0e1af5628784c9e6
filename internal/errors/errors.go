package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyExists     Kind = "ALREADY_EXISTS"
	KindInvalidRepository Kind = "INVALID_REPOSITORY"
	KindBackendFailure    Kind = "BACKEND_FAILURE"
	KindUnknown           Kind = "UNKNOWN"
)

// Error is the classified error returned by every public repository
// operation. BackendFailure preserves the opaque cause and is the only
// kind callers should treat as retryable.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func AlreadyExists(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

func InvalidRepository(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRepository, Message: fmt.Sprintf(format, args...)}
}

func BackendFailure(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindBackendFailure, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Unknown(cause error, message string) *Error {
	return &Error{Kind: KindUnknown, Message: message, Cause: cause}
}

// KindOf classifies an arbitrary error. Unclassified errors map to
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
