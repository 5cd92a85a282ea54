package observability

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

type errorFlag string

const (
	Error   = errorFlag("observability: error")
	noError = errorFlag("")
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

func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}
