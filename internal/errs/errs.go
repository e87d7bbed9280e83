package errs

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("could not validate credentials")
	ErrAuthorization  = errors.New("forbidden")
	ErrValidation     = errors.New("validation failed")
	ErrConfiguration  = errors.New("configuration error")
	ErrRateLimited    = errors.New("too many attempts")
)

// Error carries the message a caller is allowed to see and wraps its kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func Unauthenticated(msg string) error {
	return &Error{Kind: ErrAuthentication, Msg: msg}
}

func Forbidden(requiredRole string) error {
	return &Error{Kind: ErrAuthorization, Msg: fmt.Sprintf("requires %s role", requiredRole)}
}

func Invalid(msg string) error {
	return &Error{Kind: ErrValidation, Msg: msg}
}

func Misconfigured(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Message returns the caller-visible text of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return fallback
}
