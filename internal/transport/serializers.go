package transport

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

// Serializer is an interface that provides methods to Marshal/Unmarshal messages.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Checker is an interface that provides a method Check to validate messages.
type Checker interface {
	Check() error
}

// Sealer encrypts & authenticates serialized messages.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// JSONSerializer provides a Serializer that uses json Marshal/Unmarshal
type JSONSerializer struct{}

// Marshal wraps json.Marshal
func (self JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal wraps json.Unmarshal
func (self JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ Serializer = JSONSerializer{}

// CBORSerializer provides a Serializer that uses default cbor Marshal/Unmarshal
type CBORSerializer struct{}

// Marshal wraps cbor.Marshal
func (self CBORSerializer) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal wraps cbor.Unmarshal
func (self CBORSerializer) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

var _ Serializer = CBORSerializer{}

// A SafeSerializer wraps a Serializer ensuring that marshaled/unmarshaled messages are validated
// and optionally sealed.
type SafeSerializer struct {
	Serializer
	Sealer Sealer
}

// WrapInSafeSerializer returns a SafeSerializer wrapping s.
func WrapInSafeSerializer(s Serializer) SafeSerializer {
	if c, isSafeSerializer := s.(SafeSerializer); isSafeSerializer {
		return c
	}

	return SafeSerializer{Serializer: s}
}

// WithSealer returns a copy of the SafeSerializer that seals messages using sealer.
func (self SafeSerializer) WithSealer(sealer Sealer) SafeSerializer {
	self.Sealer = sealer
	return self
}

// Marshal performs 3 operations to deliver a serialized v.
// 1. If v has a Check method, Marshal calls it and errors in case it returns a non nil error.
// 2. It marshals v using the wrapped Serializer.
// 3. If a Sealer is set, it seals the marshalled v.
func (self SafeSerializer) Marshal(v any) (srzmsg []byte, err error) {
	if c, validate := v.(Checker); validate {
		err = c.Check()
		if nil != err {
			return nil, wrapError(ValidationError, "invalid, Check returned %v", err)
		}
	}

	srzmsg, err = self.Serializer.Marshal(v)
	if nil != err {
		return nil, wrapError(SerializationError, "failed marshalling msg, got error %v", err)
	}

	if nil != self.Sealer {
		srzmsg, err = self.Sealer.Seal(srzmsg)
		if nil != err {
			return nil, wrapError(EncryptionError, "failed sealing msg, got error %v", err)
		}
	}

	return srzmsg, nil
}

// Unmarshal performs 3 operations to deliver v.
// 1. If a Sealer is set, it opens data.
// 2. It unmarshals data in v using the wrapped Serializer.
// 3. If v has a Check method, it calls it and errors in case it returns a non nil error.
func (self SafeSerializer) Unmarshal(data []byte, v any) error {
	var err error

	if nil != self.Sealer {
		data, err = self.Sealer.Open(data)
		if nil != err {
			return wrapError(EncryptionError, "failed opening message, got error %v", err)
		}
	}

	err = self.Serializer.Unmarshal(data, v)
	if nil != err {
		return wrapError(SerializationError, "failed unmarshaling message, got error %v", err)
	}

	if c, checkable := v.(Checker); checkable {
		err = c.Check()
		if nil != err {
			return wrapError(ValidationError, "invalid, Check returned %v", err)
		}
	}

	return nil
}

var _ Serializer = SafeSerializer{}
