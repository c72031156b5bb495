package adapter

import "errors"

var (
	// ErrUnknownType is returned when no factory is registered for a type.
	ErrUnknownType = errors.New("adapter: unknown type")
	// ErrDuplicateType is returned when a type is registered twice.
	ErrDuplicateType = errors.New("adapter: type already registered")
	// ErrInvalidSetting is returned by setting validators.
	ErrInvalidSetting = errors.New("adapter: invalid setting")
)

type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// Fatal marks err as ending the adapter loop. The supervisor restarts the
// adapter on a later tick. Unmarked errors are logged and the loop goes on.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}

// ErrPanic wraps a recovered adapter panic.
var ErrPanic = errors.New("adapter: panic in loop")
