package utils

import (
	"errors"
	"fmt"
	"path"
	"runtime"
)

// RaisedErr is the error type returned by the functions of this module.
// It records where the error was raised.
//
// Each package declares a private flag type and a set of constant flags.
// A flag is attached to the RaisedErr so that callers can branch on error kinds using errors.Is.
type RaisedErr struct {
	// Flag classifies the error.
	Flag error

	// Cause is the underlying error, if any.
	Cause error

	// Msg describes what went wrong.
	Msg string

	// Filename is the source file where the error was raised.
	Filename string

	// Line is the line in Filename where the error was raised.
	Line int
}

// Error implements the error interface.
func (self RaisedErr) Error() string {
	if nil == self.Cause {
		return fmt.Sprintf("%s: %s\n  file: %s line: %d", path.Dir(self.Filename), self.Msg, self.Filename, self.Line)
	}
	return fmt.Sprintf("%s: %s\n  file: %s line: %d\n%v", path.Dir(self.Filename), self.Msg, self.Filename, self.Line, self.Cause)
}

// Unwrap returns the flag and the cause of the RaisedErr.
func (self RaisedErr) Unwrap() []error {
	rv := make([]error, 0, 2)
	if nil != self.Flag {
		rv = append(rv, self.Flag)
	}
	if nil != self.Cause {
		rv = append(rv, self.Cause)
	}
	return rv
}

// NewError returns a RaisedErr{} located at the caller.
//
// skip selects the frame that is recorded, 0 when called directly,
// 1 when called through a package level newError helper...
func NewError(skip int, flag error, msg string, args ...any) error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

// WrapError returns a RaisedErr{} that wraps cause and is located at the caller.
// It returns nil if cause is nil.
//
// skip has the same meaning as for NewError.
func WrapError(cause error, skip int, flag error, msg string, args ...any) error {
	if nil == cause {
		return nil
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Cause: cause, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

// FirstFlag returns the first error in the err tree that is one of flags.
// It returns nil if err matches none of them.
func FirstFlag(err error, flags ...error) error {
	for _, flag := range flags {
		if errors.Is(err, flag) {
			return flag
		}
	}
	return nil
}

func addCallerFileLine(skip int, err *RaisedErr) {
	_, filename, line, ok := runtime.Caller(2 + skip)
	dirname, filename := path.Split(filename)
	if ok {
		err.Filename = path.Join(path.Base(dirname), filename)
		err.Line = line
	}
}

// errorFlag is the flag type of the utils package.
type errorFlag string

const (
	Error   = errorFlag("utils: error")
	noError = errorFlag("")
)

// Error implements the error interface.
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
	return NewError(1, Error, msg, args...)
}
