// Package errs implements the error taxonomy of spec.md §7 as sentinel
// kinds usable with errors.Is/errors.As, following the teacher's
// fmt.Errorf("...: %w", err) wrapping idiom throughout the codebase.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error taxonomy buckets from spec.md §7.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindTransient         Kind = "transient_rpc"
	KindDeploymentFailure Kind = "deployment_failure"
	KindRuntimeDataError  Kind = "runtime_data_error"
	KindRuntimeSystemErr  Kind = "runtime_system_error"
	KindFatal             Kind = "fatal"
)

// Error is a taxonomy-tagged error. Wrap underlying causes with %w via
// the New constructors below so errors.Unwrap keeps working.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the taxonomy bucket this error belongs to.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

func Validation(msg string, cause error) *Error        { return newErr(KindValidation, msg, cause) }
func NotFound(msg string, cause error) *Error           { return newErr(KindNotFound, msg, cause) }
func Transient(msg string, cause error) *Error          { return newErr(KindTransient, msg, cause) }
func DeploymentFailure(msg string, cause error) *Error  { return newErr(KindDeploymentFailure, msg, cause) }
func RuntimeDataError(msg string, cause error) *Error   { return newErr(KindRuntimeDataError, msg, cause) }
func RuntimeSystemError(msg string, cause error) *Error { return newErr(KindRuntimeSystemErr, msg, cause) }
func Fatal(msg string, cause error) *Error              { return newErr(KindFatal, msg, cause) }

// Is reports whether err (or any error it wraps) belongs to kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// IsTransient reports whether err should be retried per the policy in
// spec.md §4.7/§7: only transient RPC codes (Unavailable/Unimplemented
// class conditions) are retried.
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}
