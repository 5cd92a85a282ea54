package invite

import (
	"fmt"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("invite: error")

	// storage
	ErrNotFound      = errorFlag("invite: not found")
	ErrAlreadyExists = errorFlag("invite: already exists")

	// authorization
	ErrOrganizationNotFound = errorFlag("invite: organization not found")
	ErrOrganizationExpired  = errorFlag("invite: organization expired")
	ErrAuthorNotFound       = errorFlag("invite: author not found")
	ErrAuthorRevoked        = errorFlag("invite: author revoked")
	ErrAuthorNotAllowed     = errorFlag("invite: author not allowed")
	ErrGreeterNotFound      = errorFlag("invite: greeter not found")
	ErrGreeterRevoked       = errorFlag("invite: greeter revoked")
	ErrGreeterNotAllowed    = errorFlag("invite: greeter not allowed")

	// input
	ErrInvalidInput                = errorFlag("invite: invalid input")
	ErrClaimerEmailAlreadyEnrolled = errorFlag("invite: claimer email already enrolled")
	ErrClaimerUserNotFound         = errorFlag("invite: claimer user not found")

	// lifecycle
	ErrInvitationNotFound       = errorFlag("invite: invitation not found")
	ErrInvitationDeleted        = errorFlag("invite: invitation deleted")
	ErrInvitationAlreadyDeleted = errorFlag("invite: invitation already deleted")
	ErrInvitationCompleted      = errorFlag("invite: invitation completed")
	ErrInvitationCancelled      = errorFlag("invite: invitation cancelled")
	ErrGreetingAttemptNotFound  = errorFlag("invite: greeting attempt not found")
	ErrGreetingAttemptNotJoined = errorFlag("invite: greeting attempt not joined")
	ErrGreetingAttemptCancelled = errorFlag("invite: greeting attempt cancelled")

	// protocol
	ErrStepTooAdvanced = errorFlag("invite: step too advanced")
	ErrStepMismatch    = errorFlag("invite: step mismatch")

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

// AttemptCancelledError reports who cancelled a greeting attempt, why and when.
// It is retrieved with errors.As and matches ErrGreetingAttemptCancelled.
type AttemptCancelledError struct {
	Origin    Side
	Reason    CancelReason
	Timestamp time.Time
}

func (self *AttemptCancelledError) Error() string {
	return fmt.Sprintf("%s (origin %s, reason %s, on %s)", ErrGreetingAttemptCancelled, self.Origin, self.Reason, self.Timestamp.Format(time.RFC3339Nano))
}

func (self *AttemptCancelledError) Unwrap() error {
	return ErrGreetingAttemptCancelled
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
