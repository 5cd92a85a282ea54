package greet

import (
	"github.com/Scille/parsec-cloud-sub013/internal/transport"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

var cborSrz = transport.WrapInSafeSerializer(transport.CBORSerializer{})

// PublicKeyMsg carries an ephemeral public key, it is exchanged at step 0.
type PublicKeyMsg struct {
	Curve     string `json:"curve" cbor:"1,keyasint"`
	PublicKey []byte `json:"public_key" cbor:"2,keyasint"`
}

func (self PublicKeyMsg) Check() error {
	if "" == self.Curve {
		return newError("empty Curve")
	}
	if 0 == len(self.PublicKey) {
		return newError("empty PublicKey")
	}
	return nil
}

// NonceCommitMsg is the claimer commitment to its nonce, sent before the greeter reveals its own.
type NonceCommitMsg struct {
	Hash []byte `json:"hash" cbor:"1,keyasint"`
}

func (self NonceCommitMsg) Check() error {
	if len(self.Hash) < 32 {
		return newError("invalid commitment size, %d < 32", len(self.Hash))
	}
	return nil
}

type NonceMsg struct {
	Nonce []byte `json:"nonce" cbor:"1,keyasint"`
}

func (self NonceMsg) Check() error {
	if len(self.Nonce) < NonceSize {
		return newError("invalid nonce size, %d < %d", len(self.Nonce), NonceSize)
	}
	return nil
}

// EmptyMsg is written by the side that has nothing to say at a step.
type EmptyMsg struct{}

// SignifyTrustMsg tells the peer that its SAS code was recognized.
type SignifyTrustMsg struct {
	Trusted bool `json:"trusted" cbor:"1,keyasint"`
}

func (self SignifyTrustMsg) Check() error {
	if !self.Trusted {
		return newError("trust not signified")
	}
	return nil
}

// AckMsg closes the handshake.
type AckMsg struct {
	Done bool `json:"done" cbor:"1,keyasint"`
}

func (self AckMsg) Check() error {
	if !self.Done {
		return newError("not done")
	}
	return nil
}

// ClaimerRequest is what the claimer asks to be enrolled with.
// It is sealed with the shared secret.
type ClaimerRequest struct {
	Kind        invite.Kind        `json:"kind" cbor:"1,keyasint"`
	DeviceLabel string             `json:"device_label" cbor:"2,keyasint"`
	HumanHandle invite.HumanHandle `json:"human_handle" cbor:"3,keyasint"`
	PublicKey   []byte             `json:"public_key" cbor:"4,keyasint"`
	VerifyKey   []byte             `json:"verify_key" cbor:"5,keyasint"`
}

func (self ClaimerRequest) Check() error {
	err := self.Kind.Check()
	if nil != err {
		return wrapError(err, "invalid Kind")
	}
	if "" == self.DeviceLabel {
		return newError("empty DeviceLabel")
	}
	if invite.KindUser == self.Kind && "" == self.HumanHandle.Email {
		return newError("USER request without HumanHandle email")
	}
	if invite.KindShamirRecovery != self.Kind && (0 == len(self.PublicKey) || 0 == len(self.VerifyKey)) {
		return newError("missing claimer keys")
	}
	return nil
}

// EnrollmentPayload is what the greeter gives the claimer, sealed with the shared secret.
// Kind selects the fields that are set:
//   - USER: UserID, DeviceID, Profile, HumanHandle, DeviceLabel, RootVerifyKey
//   - DEVICE: DeviceID, DeviceLabel, Profile, UserPrivateKey, RootVerifyKey
//   - SHAMIR_RECOVERY: Share
type EnrollmentPayload struct {
	Kind           invite.Kind        `json:"kind" cbor:"1,keyasint"`
	UserID         invite.UserID      `json:"user_id,omitempty" cbor:"2,keyasint,omitempty"`
	DeviceID       invite.DeviceID    `json:"device_id,omitempty" cbor:"3,keyasint,omitempty"`
	Profile        invite.Profile     `json:"profile,omitempty" cbor:"4,keyasint,omitempty"`
	HumanHandle    invite.HumanHandle `json:"human_handle" cbor:"5,keyasint"`
	DeviceLabel    string             `json:"device_label,omitempty" cbor:"6,keyasint,omitempty"`
	RootVerifyKey  []byte             `json:"root_verify_key,omitempty" cbor:"7,keyasint,omitempty"`
	UserPrivateKey []byte             `json:"user_private_key,omitempty" cbor:"8,keyasint,omitempty"`
	Share          []byte             `json:"share,omitempty" cbor:"9,keyasint,omitempty"`
}

func (self EnrollmentPayload) Check() error {
	err := self.Kind.Check()
	if nil != err {
		return wrapError(err, "invalid Kind")
	}
	switch self.Kind {
	case invite.KindUser:
		if "" == self.UserID || "" == self.DeviceID || 0 == len(self.RootVerifyKey) {
			return newError("incomplete USER enrollment")
		}
		if err = self.Profile.Check(); nil != err {
			return err
		}
	case invite.KindDevice:
		if "" == self.DeviceID || 0 == len(self.UserPrivateKey) || 0 == len(self.RootVerifyKey) {
			return newError("incomplete DEVICE enrollment")
		}
		if err = self.Profile.Check(); nil != err {
			return err
		}
	case invite.KindShamirRecovery:
		if 0 == len(self.Share) {
			return newError("empty Share")
		}
	}
	return nil
}
