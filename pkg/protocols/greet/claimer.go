package greet

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

type ClaimerStateFunc = protocols.StateFunc[*ClaimerState]

type ClaimerExitFunc = protocols.ExitFunc[*ClaimerState]

// ClaimerUI is how the claimer human takes part in the handshake.
type ClaimerUI interface {
	// ShowClaimerSas displays the code the claimer reads aloud to the greeter.
	ShowClaimerSas(ctx context.Context, code sas.Code) error

	// PickGreeterSas asks the claimer which of the candidates the greeter read aloud.
	PickGreeterSas(ctx context.Context, candidates []sas.Code) (sas.Code, error)
}

type ClaimerCfg struct {
	Suite      Suite
	UI         ClaimerUI
	Request    ClaimerRequest
	Candidates int
}

func (self ClaimerCfg) Check() error {
	err := self.Suite.Check()
	if nil != err {
		return err
	}
	if nil == self.UI {
		return newError("nil UI")
	}
	err = self.Request.Check()
	if nil != err {
		return wrapError(err, "invalid Request")
	}
	if self.Candidates < 0 {
		return newError("negative Candidates")
	}
	return nil
}

type ClaimerState struct {
	UI           ClaimerUI
	Request      ClaimerRequest
	Candidates   int
	Enrollment   EnrollmentPayload
	suite        cipherSuite
	keypair      *ecdh.PrivateKey
	sharedSecret []byte
	nonce        []byte
	greeterNonce []byte
	next         ClaimerStateFunc
}

func NewClaimerState(cfg ClaimerCfg) (*ClaimerState, error) {
	err := cfg.Check()
	if nil != err {
		return nil, wrapError(err, "invalid ClaimerCfg")
	}

	rv := &ClaimerState{
		UI:         cfg.UI,
		Request:    cfg.Request,
		Candidates: cfg.Candidates,
		next:       ClaimerSendKey,
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

func (self *ClaimerState) State() (*ClaimerState, ClaimerStateFunc) {
	return self, self.next
}

func (self *ClaimerState) SetState(sf ClaimerStateFunc) {
	self.next = sf
}

func (self *ClaimerState) ExitHandler() ClaimerExitFunc {
	return ClaimerExit
}

func (self *ClaimerState) Initiator() bool {
	return true
}

var _ protocols.Fsm[*ClaimerState] = &ClaimerState{}

// State functions

// ClaimerSendKey writes the claimer ephemeral public key (step 0).
func ClaimerSendKey(ctx context.Context, self *ClaimerState, _ []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerSendKey
	log := observability.GetObservability(ctx).Log().With("state", "ClaimerSendKey")

	log.Debug("generating ephemeral keypair & nonce")
	self.keypair, err = self.suite.curve.GenerateKey()
	if nil != err {
		return sf, nil, wrapError(err, "failed generating ephemeral keypair")
	}
	self.nonce = make([]byte, NonceSize)
	_, err = io.ReadFull(rand.Reader, self.nonce)
	if nil != err {
		return sf, nil, wrapError(err, "failed generating nonce")
	}

	rmsg, err = cborSrz.Marshal(PublicKeyMsg{Curve: self.suite.curve.Name(), PublicKey: self.keypair.PublicKey().Bytes()})
	if nil != err {
		return sf, nil, wrapError(err, "failed CBOR marshal of PublicKeyMsg")
	}

	return ClaimerCommitNonce, rmsg, nil
}

// ClaimerCommitNonce derives the shared secret & writes the claimer nonce commitment (step 1).
func ClaimerCommitNonce(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerCommitNonce
	log := observability.GetObservability(ctx).Log().With("state", "ClaimerCommitNonce")

	var peer PublicKeyMsg
	err = cborSrz.Unmarshal(msg, &peer)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of PublicKeyMsg")
	}
	if self.suite.curve.Name() != peer.Curve {
		return sf, nil, raise(ErrInconsistentPayload, "greeter curve %s != %s", peer.Curve, self.suite.curve.Name())
	}
	log.Debug("deriving shared secret")
	self.sharedSecret, err = self.suite.sharedSecret(self.keypair, self.keypair.PublicKey().Bytes(), peer.PublicKey, peer.PublicKey)
	if nil != err {
		return sf, nil, err
	}

	rmsg, err = cborSrz.Marshal(NonceCommitMsg{Hash: self.suite.commitment(self.nonce)})
	return ClaimerWaitNonce, rmsg, wrapError(err, "failed CBOR marshal of NonceCommitMsg")
}

// ClaimerWaitNonce lets the greeter send its nonce (step 2).
func ClaimerWaitNonce(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerWaitNonce
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return ClaimerRevealNonce, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// ClaimerRevealNonce records the greeter nonce & reveals the claimer nonce (step 3).
func ClaimerRevealNonce(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerRevealNonce
	var nonce NonceMsg
	err = cborSrz.Unmarshal(msg, &nonce)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of NonceMsg")
	}
	self.greeterNonce = nonce.Nonce

	rmsg, err = cborSrz.Marshal(NonceMsg{Nonce: self.nonce})
	return ClaimerSignifyTrust, rmsg, wrapError(err, "failed CBOR marshal of NonceMsg")
}

// ClaimerSignifyTrust derives the SAS codes & has the claimer recognize the greeter SAS (step 4).
func ClaimerSignifyTrust(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerSignifyTrust
	log := observability.GetObservability(ctx).Log().With("state", "ClaimerSignifyTrust")

	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}

	claimerSas, greeterSas, err := sas.Derive(self.nonce, self.greeterNonce, self.sharedSecret)
	if nil != err {
		return sf, nil, wrapError(err, "failed deriving SAS codes")
	}
	err = self.UI.ShowClaimerSas(ctx, claimerSas)
	if nil != err {
		return sf, nil, wrapError(err, "failed showing claimer SAS")
	}
	candidates, err := sas.GenerateCandidates(greeterSas, self.Candidates)
	if nil != err {
		return sf, nil, wrapError(err, "failed generating SAS candidates")
	}
	picked, err := self.UI.PickGreeterSas(ctx, candidates)
	if nil != err {
		return sf, nil, wrapError(err, "failed picking greeter SAS")
	}
	if picked != greeterSas {
		log.Debug("claimer picked a wrong greeter SAS")
		return sf, nil, raise(ErrInvalidSasCode, "wrong greeter SAS %q", picked)
	}

	rmsg, err = cborSrz.Marshal(SignifyTrustMsg{Trusted: true})
	return ClaimerWaitTrust, rmsg, wrapError(err, "failed CBOR marshal of SignifyTrustMsg")
}

// ClaimerWaitTrust lets the greeter signify its trust (step 5).
func ClaimerWaitTrust(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerWaitTrust
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return ClaimerSendRequest, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// ClaimerSendRequest writes the sealed ClaimerRequest once the greeter trusts the claimer (step 6).
func ClaimerSendRequest(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerSendRequest
	var trust SignifyTrustMsg
	err = cborSrz.Unmarshal(msg, &trust)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of SignifyTrustMsg")
	}

	srz, err := sealedSerializer(self.sharedSecret)
	if nil != err {
		return sf, nil, err
	}
	rmsg, err = srz.Marshal(self.Request)
	if nil != err {
		return sf, nil, wrapError(err, "failed sealing ClaimerRequest")
	}

	return ClaimerWaitEnrollment, rmsg, nil
}

// ClaimerWaitEnrollment lets the greeter send the enrollment payload (step 7).
func ClaimerWaitEnrollment(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerWaitEnrollment
	var empty EmptyMsg
	err = cborSrz.Unmarshal(msg, &empty)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of EmptyMsg")
	}
	rmsg, err = cborSrz.Marshal(EmptyMsg{})
	return ClaimerReceiveEnrollment, rmsg, wrapError(err, "failed CBOR marshal of EmptyMsg")
}

// ClaimerReceiveEnrollment opens & validates the EnrollmentPayload then acknowledges it (step 8).
func ClaimerReceiveEnrollment(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerReceiveEnrollment
	log := observability.GetObservability(ctx).Log().With("state", "ClaimerReceiveEnrollment")

	srz, err := sealedSerializer(self.sharedSecret)
	if nil != err {
		return sf, nil, err
	}
	var payload EnrollmentPayload
	err = openMessage(srz, msg, &payload)
	if nil != err {
		return sf, nil, err
	}
	if self.Request.Kind != payload.Kind {
		return sf, nil, raise(ErrInconsistentPayload, "enrollment kind %s != %s", payload.Kind, self.Request.Kind)
	}
	log.Debug("received enrollment payload", "kind", payload.Kind)
	self.Enrollment = payload

	rmsg, err = cborSrz.Marshal(AckMsg{Done: true})
	return ClaimerDone, rmsg, wrapError(err, "failed CBOR marshal of AckMsg")
}

// ClaimerDone completes the handshake on the greeter acknowledgement (step 8 release).
func ClaimerDone(ctx context.Context, self *ClaimerState, msg []byte) (sf ClaimerStateFunc, rmsg []byte, err error) {
	sf = ClaimerDone
	var ack AckMsg
	err = cborSrz.Unmarshal(msg, &ack)
	if nil != err {
		return sf, nil, wrapFlag(err, ErrInconsistentPayload, "failed CBOR unmarshal of AckMsg")
	}
	observability.GetObservability(ctx).Log().Debug("SUCCESS, completed claim", "state", "ClaimerDone")
	return nil, nil, protocols.Done("claim completed")
}

// ClaimerExit forgets a partially received enrollment when the handshake fails.
func ClaimerExit(self *ClaimerState, rs error) error {
	if nil != rs {
		self.Enrollment = EnrollmentPayload{}
	}
	return rs
}

var _ ClaimerExitFunc = ClaimerExit
