package greet

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/internal/transport"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

type GreeterStateFunc = protocols.StateFunc[*GreeterState]

type GreeterExitFunc = protocols.ExitFunc[*GreeterState]

// GreeterUI is how the greeter human takes part in the handshake.
type GreeterUI interface {
	// ShowGreeterSas displays the code the greeter reads aloud to the claimer.
	ShowGreeterSas(ctx context.Context, code sas.Code) error

	// PickClaimerSas asks the greeter which of the candidates the claimer read aloud.
	PickClaimerSas(ctx context.Context, candidates []sas.Code) (sas.Code, error)
}

// EnrollFunc builds the EnrollmentPayload answering a verified ClaimerRequest.
type EnrollFunc func(ctx context.Context, req ClaimerRequest) (EnrollmentPayload, error)

type GreeterCfg struct {
	Suite      Suite
	Kind       invite.Kind
	UI         GreeterUI
	Enroll     EnrollFunc
	Candidates int
}

func (self GreeterCfg) Check() error {
	err := self.Suite.Check()
	if nil != err {
		return err
	}
	err = self.Kind.Check()
	if nil != err {
		return wrapError(err, "invalid Kind")
	}
	if nil == self.UI {
		return newError("nil UI")
	}
	if nil == self.Enroll {
		return newError("nil Enroll")
	}
	if self.Candidates < 0 {
		return newError("negative Candidates")
	}
	return nil
}

type GreeterState struct {
	Kind         invite.Kind
	UI           GreeterUI
	Enroll       EnrollFunc
	Candidates   int
	suite        cipherSuite
	keypair      *ecdh.PrivateKey
	sharedSecret []byte
	commitment   []byte
	nonce        []byte
	claimerSas   sas.Code
	greeterSas   sas.Code
	next         GreeterStateFunc
}

func NewGreeterState(cfg GreeterCfg) (*GreeterState, error) {
	err := cfg.Check()
	if nil != err {
		return nil, wrapError(err, "invalid GreeterCfg")
	}

	rv := &GreeterState{
		Kind:       cfg.Kind,
		UI:         cfg.UI,
		Enroll:     cfg.Enroll,
		Candidates: cfg.Candidates,
		next:       GreeterSendKey,
	}
	if 0 == rv.Candidates {
		rv.Candidates = DefaultCandidates
	}
	rv.suite, err = cfg.Suite.resolve()
	if nil != err {
		return nil, err
	}

	return rv, nil
}

// protocols.Fsm implementation

func (self *GreeterState) State() (*GreeterState, GreeterStateFunc) {
	return self, self.next
}

func (self *GreeterState) SetState(sf GreeterStateFunc) {
	self.next = sf
}

func (self *GreeterState) ExitHandler() GreeterExitFunc {
	return nil
}

func (self *GreeterState) Initiator() bool {
	return true
}

var _ protocols.Fsm[*GreeterState] = &GreeterState{}

// State functions

// GreeterSendKey writes the greeter ephemeral public key (step 0).
func GreeterSendKey(ctx context.Context, self *GreeterState, _ []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterSendKey
	log := observability.GetObservability(ctx).Log().With("state", "GreeterSendKey")

	log.Debug("generating ephemeral keypair")
	self.keypair, err = self.suite.curve.GenerateKey()
	if nil != err {
		return sf, nil, wrapError(err, "failed generating ephemeral keypair")
	}
	rmsg, err = cborSrz.Marshal(PublicKeyMsg{Curve: self.suite.curve.Name(), PublicKey: self.keypair.PublicKey().Bytes()})
	if nil != err {
		return sf, nil, wrapError(err, "failed CBOR marshal of PublicKeyMsg")
	}

	return GreeterReceiveKey, rmsg, nil
}

// GreeterReceiveKey derives the shared secret from the claimer public key (step 0 release).
func GreeterReceiveKey(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterReceiveKey
	log := observability.GetObservability(ctx).Log().With("state", "GreeterReceiveKey")

	var peer PublicKeyMsg
	err = cborSrz.Unmarshal(msg, &peer)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of PublicKeyMsg")
	}
	if self.suite.curve.Name() != peer.Curve {
		return sf, nil, raise(ErrInconsistentPayload, "claimer curve %s != %s", peer.Curve, self.suite.curve.Name())
	}
	log.Debug("deriving shared secret")
	self.sharedSecret, err = self.suite.sharedSecret(self.keypair, peer.PublicKey, self.keypair.PublicKey().Bytes(), peer.PublicKey)
	if nil != err {
		return sf, nil, err
	}

	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return GreeterSendNonce, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// GreeterSendNonce records the claimer nonce commitment & writes the greeter nonce (step 2).
func GreeterSendNonce(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterSendNonce
	log := observability.GetObservability(ctx).Log().With("state", "GreeterSendNonce")

	var commit NonceCommitMsg
	err = cborSrz.Unmarshal(msg, &commit)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of NonceCommitMsg")
	}
	self.commitment = commit.Hash

	log.Debug("generating greeter nonce")
	self.nonce = make([]byte, NonceSize)
	_, err = io.ReadFull(rand.Reader, self.nonce)
	if nil != err {
		return sf, nil, wrapError(err, "failed generating nonce")
	}
	rmsg, err = cborSrz.Marshal(NonceMsg{Nonce: self.nonce})
	if nil != err {
		return sf, nil, wrapError(err, "failed CBOR marshal of NonceMsg")
	}

	return GreeterWaitReveal, rmsg, nil
}

// GreeterWaitReveal lets the claimer reveal its nonce (step 3).
func GreeterWaitReveal(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterWaitReveal
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return GreeterCheckReveal, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// GreeterCheckReveal verifies the claimer nonce against its commitment, derives & shows the SAS codes (step 4).
func GreeterCheckReveal(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterCheckReveal
	log := observability.GetObservability(ctx).Log().With("state", "GreeterCheckReveal")

	var reveal NonceMsg
	err = cborSrz.Unmarshal(msg, &reveal)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of NonceMsg")
	}
	if 1 != subtle.ConstantTimeCompare(self.commitment, self.suite.commitment(reveal.Nonce)) {
		log.Debug("claimer nonce does not match its commitment")
		return sf, nil, raise(ErrInvalidNonceHash, "claimer nonce does not match its commitment")
	}

	self.claimerSas, self.greeterSas, err = sas.Derive(reveal.Nonce, self.nonce, self.sharedSecret)
	if nil != err {
		return sf, nil, wrapError(err, "failed deriving SAS codes")
	}
	err = self.UI.ShowGreeterSas(ctx, self.greeterSas)
	if nil != err {
		return sf, nil, wrapError(err, "failed showing greeter SAS")
	}

	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return GreeterSignifyTrust, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// GreeterSignifyTrust waits for the claimer trust then has the greeter recognize the claimer SAS (step 5).
func GreeterSignifyTrust(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterSignifyTrust
	log := observability.GetObservability(ctx).Log().With("state", "GreeterSignifyTrust")

	var trust SignifyTrustMsg
	err = cborSrz.Unmarshal(msg, &trust)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of SignifyTrustMsg")
	}

	candidates, err := sas.GenerateCandidates(self.claimerSas, self.Candidates)
	if nil != err {
		return sf, nil, wrapError(err, "failed generating SAS candidates")
	}
	picked, err := self.UI.PickClaimerSas(ctx, candidates)
	if nil != err {
		return sf, nil, wrapError(err, "failed picking claimer SAS")
	}
	if picked != self.claimerSas {
		log.Debug("greeter picked a wrong claimer SAS")
		return sf, nil, raise(ErrInvalidSasCode, "wrong claimer SAS %q", picked)
	}

	rmsg, err = cborSrz.Marshal(SignifyTrustMsg{Trusted: true})
	return GreeterWaitRequest, rmsg, wrapError(err, "failed CBOR marshal of SignifyTrustMsg")
}

// GreeterWaitRequest lets the claimer send its request (step 6).
func GreeterWaitRequest(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterWaitRequest
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return GreeterSendEnrollment, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// GreeterSendEnrollment opens the claimer request & writes the sealed EnrollmentPayload (step 7).
func GreeterSendEnrollment(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterSendEnrollment
	log := observability.GetObservability(ctx).Log().With("state", "GreeterSendEnrollment")

	srz, err := sealedSerializer(self.sharedSecret)
	if nil != err {
		return sf, nil, err
	}
	var req ClaimerRequest
	err = openMessage(srz, msg, &req)
	if nil != err {
		return sf, nil, err
	}
	if self.Kind != req.Kind {
		return sf, nil, raise(ErrInconsistentPayload, "claimer request kind %s != %s", req.Kind, self.Kind)
	}

	log.Debug("building enrollment payload", "kind", req.Kind)
	payload, err := self.Enroll(ctx, req)
	if nil != err {
		return sf, nil, wrapError(err, "failed building enrollment payload")
	}
	if self.Kind != payload.Kind {
		return sf, nil, newError("enrollment payload kind %s != %s", payload.Kind, self.Kind)
	}
	rmsg, err = srz.Marshal(payload)
	if nil != err {
		return sf, nil, wrapError(err, "failed sealing EnrollmentPayload")
	}

	return GreeterSendAck, rmsg, nil
}

// GreeterSendAck writes the final acknowledgement (step 8).
func GreeterSendAck(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterSendAck
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(AckMsg{Done: true})
	return GreeterDone, rmsg, wrapError(err, "failed CBOR marshal of AckMsg")
}

// GreeterDone completes the handshake on the claimer acknowledgement (step 8 release).
func GreeterDone(ctx context.Context, self *GreeterState, msg []byte) (sf GreeterStateFunc, rmsg []byte, err error) {
	sf = GreeterDone
	var ack AckMsg
	err = cborSrz.Unmarshal(msg, &ack)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of AckMsg")
	}
	observability.GetObservability(ctx).Log().Debug("SUCCESS, completed greeting", "state", "GreeterDone")
	return nil, nil, protocols.Done("greeting completed")
}

// sealedSerializer returns a SafeSerializer sealing messages with secret.
func sealedSerializer(secret []byte) (transport.SafeSerializer, error) {
	box, err := transport.NewSecretBox(secret)
	if nil != err {
		return cborSrz, wrapError(err, "failed creating SecretBox")
	}
	return cborSrz.WithSealer(box), nil
}

// openMessage unseals msg in v, classifying failures as undecipherable or inconsistent.
func openMessage(srz transport.SafeSerializer, msg []byte, v any) error {
	err := srz.Unmarshal(msg, v)
	switch {
	case nil == err:
		return nil
	case errors.Is(err, transport.EncryptionError):
		return wrapFlag(err, ErrUndecipherablePayload, "failed opening sealed message")
	default:
		return wrapFlag(err, ErrInconsistentPayload, "invalid sealed message")
	}
}
