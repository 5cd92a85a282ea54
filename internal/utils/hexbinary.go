package utils

import (
	"encoding/hex"
)

// HexBinary is a byte slice that uses hexadecimal text encoding.
// It is used to carry opaque payloads in JSON documents.
type HexBinary []byte

// UnmarshalText decodes hexadecimal text, reusing the receiver storage when possible.
func (self *HexBinary) UnmarshalText(text []byte) error {
	var dst []byte
	hxsz := hex.DecodedLen(len(text))
	if cap([]byte(*self)) >= hxsz {
		dst = []byte(*self)[:0]
	} else {
		dst = make([]byte, 0, hxsz)
	}

	dst, err := hex.AppendDecode(dst, text)
	if nil != err {
		return err
	}

	*self = HexBinary(dst)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (self HexBinary) MarshalText() ([]byte, error) {
	return hex.AppendEncode(nil, []byte(self)), nil
}

func (self HexBinary) String() string {
	return hex.EncodeToString(self)
}
