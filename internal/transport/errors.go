package transport

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

type errorFlag string

const (
	Error              = errorFlag("transport: error")
	ValidationError    = errorFlag("transport: validation error")
	SerializationError = errorFlag("transport: serialization error")
	EncryptionError    = errorFlag("transport: encryption error")
	ReadLimitError     = errorFlag("transport: read limit exceeded")
	WriteLimitError    = errorFlag("transport: write limit exceeded")
	noError            = errorFlag("")
)

func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	}
	return Error
}

func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}
