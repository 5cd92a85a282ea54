package sas

import (
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

type errorFlag string

const (
	Error           = errorFlag("sas: error")
	ErrInvalidInput = errorFlag("sas: invalid input")
	noError         = errorFlag("")
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

func invalidInput(msg string, args ...any) error {
	return utils.NewError(1, ErrInvalidInput, msg, args...)
}
