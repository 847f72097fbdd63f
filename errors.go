package ingot

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by ingot.
type ErrorKind string

const (
	// KindValidation means the caller supplied something structurally wrong.
	KindValidation ErrorKind = "validation"
	// KindRuntime means the environment failed (I/O, bundler, cycles).
	KindRuntime ErrorKind = "runtime"
	// KindExecution means evaluated code threw or failed to parse.
	KindExecution ErrorKind = "execution"
	// KindDeserialize means evaluated code produced a value JSON cannot represent.
	KindDeserialize ErrorKind = "deserialize"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func validationErrorf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func runtimeError(err error, format string, args ...any) error {
	return &Error{Kind: KindRuntime, Message: fmt.Sprintf(format, args...), Err: err}
}

func executionError(err error, format string, args ...any) error {
	return &Error{Kind: KindExecution, Message: fmt.Sprintf(format, args...), Err: err}
}

func deserializeErrorf(format string, args ...any) error {
	return &Error{Kind: KindDeserialize, Message: fmt.Sprintf(format, args...)}
}
