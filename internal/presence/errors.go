package presence

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

type errorFlag string

const (
	Error   = errorFlag("presence: error")
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

func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}
