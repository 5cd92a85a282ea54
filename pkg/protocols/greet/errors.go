package greet

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("greet: error")

	ErrInvalidNonceHash      = errorFlag("greet: invalid nonce hash")
	ErrInvalidSasCode        = errorFlag("greet: invalid SAS code")
	ErrUndecipherablePayload = errorFlag("greet: undecipherable payload")
	ErrInconsistentPayload   = errorFlag("greet: inconsistent payload")

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

// CancelReason returns the reason a greeting attempt that failed with err is cancelled with.
func CancelReason(err error) invite.CancelReason {
	switch utils.FirstFlag(err, ErrInvalidNonceHash, ErrInvalidSasCode, ErrUndecipherablePayload, ErrInconsistentPayload) {
	case ErrInvalidNonceHash:
		return invite.ReasonInvalidNonceHash
	case ErrInvalidSasCode:
		return invite.ReasonInvalidSasCode
	case ErrUndecipherablePayload:
		return invite.ReasonUndecipherablePayload
	case ErrInconsistentPayload:
		return invite.ReasonInconsistentPayload
	default:
		return invite.ReasonManual
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
func raise(flag errorFlag, msg string, args ...any) error {
	return utils.NewError(1, flag, msg, args...)
}

// wrapFlag returns a utils.RaisedErr{} flagged with flag that wraps cause.
func wrapFlag(cause error, flag errorFlag, msg string, args ...any) error {
	return utils.WrapError(cause, 1, flag, msg, args...)
}
