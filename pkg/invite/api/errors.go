package api

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error           = errorFlag("api: error")
	ErrUnauthorized = errorFlag("api: unauthorized")
	ErrForbidden    = errorFlag("api: forbidden")
	ErrBadRequest   = errorFlag("api: bad request")
	ErrBadReply     = errorFlag("api: bad reply")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	} else {
		return Error
	}
}

// newError returns a utils.RaisedErr{} that contains file & line of where it was called.
func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

// wrapError returns a utils.RaisedErr{} that contains file & line of where it was called.
func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}

// raise returns a utils.RaisedErr{} flagged with flag.
func raise(flag error, msg string, args ...any) error {
	return utils.NewError(1, flag, msg, args...)
}

// wrapFlag returns a utils.RaisedErr{} flagged with flag that wraps cause.
func wrapFlag(cause error, flag error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, flag, msg, args...)
}
