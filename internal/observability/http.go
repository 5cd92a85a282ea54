package observability

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Middleware holds configuration for HTTP Observability
type Middleware struct {
	TraceIdHeader string
}

// Wrap returns an Handler that adds a request scoped Logger to the Request Context and calls next.
// The Logger carries the request trace id, read from TraceIdHeader or freshly generated.
func (self Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()

		var tId string
		if "" != self.TraceIdHeader {
			tId = r.Header.Get(self.TraceIdHeader)
		}
		if "" == tId {
			tId = uuid.New().String()
		}
		if "" != self.TraceIdHeader {
			w.Header().Set(self.TraceIdHeader, tId)
		}

		log := GetObservability(r.Context()).Log().With("tId", tId)
		obs := Observability{Logger: log}
		ctx := SetObservability(r.Context(), &obs)
		sw := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&sw, r.WithContext(ctx))
		log.Info(
			"processed HTTP request",
			"method", r.Method,
			"host", r.Host,
			"uri", r.RequestURI,
			"status", sw.status,
			"duration", time.Since(t0),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (self *statusRecorder) WriteHeader(statusCode int) {
	self.status = statusCode
	self.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap gives http.ResponseController access to the inner ResponseWriter.
func (self *statusRecorder) Unwrap() http.ResponseWriter {
	return self.ResponseWriter
}

// Hijack lets websocket upgrades take over the connection.
func (self *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := self.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	self.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

var _ http.ResponseWriter = &statusRecorder{}
var _ http.Hijacker = &statusRecorder{}
