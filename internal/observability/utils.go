package observability

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

// testWriter forwards log lines to t.Log.
type testWriter struct {
	t testing.TB
}

func (self testWriter) Write(p []byte) (int, error) {
	self.t.Helper()
	self.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestContext returns a Context whose Logger writes DEBUG records to t.Log.
// It must not be used by goroutines that outlive the test.
func TestContext(t testing.TB) context.Context {
	hdlr := slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return SetObservability(context.Background(), &Observability{Logger: slog.New(hdlr)})
}
