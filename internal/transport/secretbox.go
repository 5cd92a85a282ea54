package transport

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	SecretBoxKeySize   = 32
	secretBoxNonceSize = 24
)

// SecretBox is a Sealer that uses XSalsa20-Poly1305 with a random nonce prepended to each box.
type SecretBox struct {
	key [SecretBoxKeySize]byte
}

// NewSecretBox returns a SecretBox keyed with key.
// It errors if key is not SecretBoxKeySize long.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if SecretBoxKeySize != len(key) {
		return nil, newError("invalid SecretBox key size %d != %d", len(key), SecretBoxKeySize)
	}
	rv := &SecretBox{}
	copy(rv.key[:], key)
	return rv, nil
}

// Seal encrypts plaintext.
func (self *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [secretBoxNonceSize]byte
	_, err := rand.Read(nonce[:])
	if nil != err {
		return nil, wrapError(err, "failed generating nonce")
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &self.key), nil
}

// Open decrypts a box generated by Seal.
// It errors if the box was not sealed with the same key or was altered.
func (self *SecretBox) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < secretBoxNonceSize+secretbox.Overhead {
		return nil, newError("box too short, %d bytes", len(ciphertext))
	}
	var nonce [secretBoxNonceSize]byte
	copy(nonce[:], ciphertext[:secretBoxNonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[secretBoxNonceSize:], &nonce, &self.key)
	if !ok {
		return nil, newError("failed authenticating box")
	}
	return plaintext, nil
}

var _ Sealer = &SecretBox{}
