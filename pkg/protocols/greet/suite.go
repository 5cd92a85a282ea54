package greet

import (
	"crypto"
	"crypto/ecdh"

	"github.com/Scille/parsec-cloud-sub013/pkg/algos"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

const (
	// NonceSize is the size of the greeter & claimer nonces.
	NonceSize = sas.MinNonceSize

	// DefaultCandidates is the number of SAS codes a human picks from.
	DefaultCandidates = 4

	sharedSecretInfo = "parsec greeting shared secret"
)

// DefaultSuite is the Suite used when none is configured.
var DefaultSuite = Suite{Curve: "X25519", Hash: "SHA256"}

// Suite names the key exchange curve & hash function of a greeting.
// Both names refer to the pkg/algos registries.
type Suite struct {
	Curve string `json:"curve" yaml:"curve" cbor:"1,keyasint"`
	Hash  string `json:"hash" yaml:"hash" cbor:"2,keyasint"`
}

func (self Suite) Check() error {
	_, err := self.resolve()
	return err
}

type cipherSuite struct {
	curve algos.Curve
	hash  crypto.Hash
}

func (self Suite) resolve() (cipherSuite, error) {
	var rv cipherSuite
	var err error
	rv.curve, err = algos.GetCurve(self.Curve)
	if nil != err {
		return rv, wrapError(err, "invalid Suite curve")
	}
	rv.hash, err = algos.GetHash(self.Hash)
	if nil != err {
		return rv, wrapError(err, "invalid Suite hash")
	}
	return rv, nil
}

// commitment returns the hash commitment of nonce.
func (self cipherSuite) commitment(nonce []byte) []byte {
	return algos.Digest(self.hash, nonce)
}

// sharedSecret derives the greeting shared secret from the ephemeral key exchange.
// The public keys salt the derivation in claimer, greeter order.
func (self cipherSuite) sharedSecret(privkey *ecdh.PrivateKey, claimerPub, greeterPub, peerPub []byte) ([]byte, error) {
	dh, err := self.curve.DH(privkey, peerPub)
	if nil != err {
		return nil, wrapFlag(err, ErrInconsistentPayload, "failed key exchange")
	}
	salt := make([]byte, 0, len(claimerPub)+len(greeterPub))
	salt = append(salt, claimerPub...)
	salt = append(salt, greeterPub...)

	secret, err := algos.DeriveKey(self.hash, dh, salt, []byte(sharedSecretInfo), sas.SecretSize)
	if nil != err {
		return nil, wrapError(err, "failed deriving shared secret")
	}
	return secret, nil
}
