package transport

import (
	"sync"
)

// LimitTransport is a Transport that fails once a given number of messages has been read or written.
//
// LimitTransport simplifies testing protocol behavior on transport failures.
type LimitTransport struct {
	Transport
	mut   sync.Mutex
	rsema int
	wsema int
}

// NewLimitTransport returns a LimitTransport that wraps t.
func NewLimitTransport(t Transport) *LimitTransport {
	return &LimitTransport{Transport: t}
}

// SetReadLimit makes the limit-th ReadBytes call and all following ones fail.
func (self *LimitTransport) SetReadLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.rsema = -limit
}

// SetWriteLimit makes the limit-th WriteBytes call and all following ones fail.
func (self *LimitTransport) SetWriteLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.wsema = -limit
}

// ReadBytes errors if the read limit has been reached.
// Otherwise data is read from the inner Transport.
func (self *LimitTransport) ReadBytes() ([]byte, error) {
	self.mut.Lock()
	self.rsema += 1
	if 0 == self.rsema {
		self.rsema -= 1
		self.mut.Unlock()
		return nil, wrapError(ReadLimitError, "test only")
	}
	self.mut.Unlock()

	return self.Transport.ReadBytes()
}

// WriteBytes errors if the write limit has been reached.
// Otherwise data is written to the inner Transport.
func (self *LimitTransport) WriteBytes(data []byte) error {
	self.mut.Lock()
	self.wsema += 1
	if 0 == self.wsema {
		self.wsema -= 1
		self.mut.Unlock()
		return wrapError(WriteLimitError, "test only")
	}
	self.mut.Unlock()

	return self.Transport.WriteBytes(data)
}

var _ Transport = &LimitTransport{}
