package observability

import (
	"io"
	"log/slog"
	"math"
	"strings"
)

var noopLogger *slog.Logger

// NoopLogger returns a disabled Logger
func NoopLogger() *slog.Logger {
	return noopLogger
}

// NewLogger returns a JSON Logger writing to w at the named level.
// It errors if level is not one of debug, info, warn or error.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(strings.ToUpper(level)))
	if nil != err {
		return nil, wrapError(err, "invalid log level %q", level)
	}
	hdlr := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(hdlr), nil
}

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}
