// Package sas derives the short authentication strings that greeter & claimer humans compare
// over a side channel to bind the two ends of a greeting attempt.
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

const (
	// CodeLen is the number of symbols of a Code.
	CodeLen = 4

	// CodeBits is the number of bits encoded by a Code.
	CodeBits = 20

	// CodeSpace is the number of distinct Codes.
	CodeSpace = 1 << CodeBits

	// MinNonceSize is the minimal size of greeter & claimer nonces.
	MinNonceSize = 64

	// SecretSize is the size of the shared secret keying the SAS derivation.
	SecretSize = 32

	symbolBits = 5
	symbolMask = (1 << symbolBits) - 1
	codeMask   = CodeSpace - 1
)

// Code is a 4 symbols short authentication string.
type Code string

// Check errors if the Code is not made of CodeLen SasAlphabet symbols.
func (self Code) Check() error {
	runes := []rune(self)
	if CodeLen != len(runes) {
		return invalidInput("invalid Code length %d != %d", len(runes), CodeLen)
	}
	for _, r := range runes {
		if SasAlphabet.Index(r) < 0 {
			return invalidInput("invalid Code symbol %q", r)
		}
	}
	return nil
}

// Value returns the 20 bits integer encoded by the Code.
func (self Code) Value() (uint32, error) {
	err := self.Check()
	if nil != err {
		return 0, err
	}
	var v uint32
	runes := []rune(self)
	for i := CodeLen - 1; i >= 0; i-- {
		v = (v << symbolBits) | uint32(SasAlphabet.Index(runes[i]))
	}
	return v, nil
}

// EncodeCode returns the Code of the low 20 bits of v.
// The least significant symbol comes first.
func EncodeCode(v uint32) Code {
	symbols := []rune(SasAlphabet)
	v &= codeMask
	var sb strings.Builder
	for range CodeLen {
		sb.WriteRune(symbols[v&symbolMask])
		v >>= symbolBits
	}
	return Code(sb.String())
}

// DecodeCode returns the 20 bits integer encoded by c.
func DecodeCode(c Code) (uint32, error) {
	return c.Value()
}

// Derive computes the claimer & greeter Codes of a greeting attempt.
//
// The first 40 bits of HMAC-SHA256(sharedSecret, claimerNonce || greeterNonce) are read as a big endian integer,
// its low 20 bits give the claimer Code and the next 20 bits give the greeter Code.
// Derive errors with ErrInvalidInput if a nonce is shorter than MinNonceSize or if sharedSecret size is not SecretSize.
func Derive(claimerNonce, greeterNonce, sharedSecret []byte) (claimerSas Code, greeterSas Code, err error) {
	if len(claimerNonce) < MinNonceSize {
		return claimerSas, greeterSas, invalidInput("claimer nonce too short, %d < %d", len(claimerNonce), MinNonceSize)
	}
	if len(greeterNonce) < MinNonceSize {
		return claimerSas, greeterSas, invalidInput("greeter nonce too short, %d < %d", len(greeterNonce), MinNonceSize)
	}
	if SecretSize != len(sharedSecret) {
		return claimerSas, greeterSas, invalidInput("invalid shared secret size %d != %d", len(sharedSecret), SecretSize)
	}

	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(claimerNonce)
	mac.Write(greeterNonce)
	h := mac.Sum(nil)

	var buf [8]byte
	copy(buf[3:], h[:5])
	v := binary.BigEndian.Uint64(buf[:])

	claimerSas = EncodeCode(uint32(v & codeMask))
	greeterSas = EncodeCode(uint32((v >> CodeBits) & codeMask))

	return claimerSas, greeterSas, nil
}
