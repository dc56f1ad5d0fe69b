// Package boterrors defines the error kinds shared by the model and converter
// packages.
//
// Two kinds exist, and both are terminal to the call that returns them:
//
//   - UnsupportedError: the inputs are individually valid, but this particular
//     combination cannot be represented in the requested form (for example, a
//     model list mixing different GP types). The caller can recover by picking
//     a different representation strategy.
//   - UnimplementedError: the operation is structurally unsupported for the
//     given type, regardless of configuration (for example, unbatching a
//     heteroskedastic model, or calling a default method that the concrete
//     model does not override). Not recoverable without code changes.
package boterrors

import (
	"errors"
	"fmt"
)

// UnsupportedError signals a configuration that cannot be represented in the
// requested form. See the package documentation for the taxonomy.
type UnsupportedError struct {
	msg string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string { return e.msg }

// Unsupportedf creates an UnsupportedError with a formatted message.
func Unsupportedf(format string, args ...any) error {
	return &UnsupportedError{msg: fmt.Sprintf(format, args...)}
}

// IsUnsupported reports whether err is (or wraps) an UnsupportedError.
func IsUnsupported(err error) bool {
	var target *UnsupportedError
	return errors.As(err, &target)
}

// UnimplementedError signals an operation that is structurally unsupported for
// the given type. See the package documentation for the taxonomy.
type UnimplementedError struct {
	msg string
}

// Error implements the error interface.
func (e *UnimplementedError) Error() string { return e.msg }

// Unimplementedf creates an UnimplementedError with a formatted message.
func Unimplementedf(format string, args ...any) error {
	return &UnimplementedError{msg: fmt.Sprintf(format, args...)}
}

// IsUnimplemented reports whether err is (or wraps) an UnimplementedError.
func IsUnimplemented(err error) bool {
	var target *UnimplementedError
	return errors.As(err, &target)
}
